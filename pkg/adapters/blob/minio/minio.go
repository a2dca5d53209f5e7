package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/config"
)

// BlobStore holds large task payloads in a MinIO/S3 bucket, keyed by
// the result reference the state manager writes into the snapshot.
type BlobStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewBlobStore connects to the object store and ensures the bucket
// exists.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig, logger *zap.Logger) (*BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created blob bucket", zap.String("bucket", cfg.Bucket))
	}

	return &BlobStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// PutBlob stores one payload under key.
func (s *BlobStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}

	s.logger.Debug("blob stored",
		zap.String("key", key),
		zap.Int("size", len(data)))
	return nil
}

// GetBlob loads one payload.
func (s *BlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}
