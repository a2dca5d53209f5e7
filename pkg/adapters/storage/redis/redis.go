package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/domain"
)

// SnapshotStore persists execution snapshots in Redis as JSON values
// with a per-account sorted set indexing executions by creation time,
// so the latest execution lookup is a single ZRANGE.
type SnapshotStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSnapshotStore creates a Redis-backed snapshot store. Snapshots
// expire after ttl; zero means no expiry.
func NewSnapshotStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveExecution overwrites the full snapshot and refreshes the account
// index entry.
func (s *SnapshotStore) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	key := executionKey(exec.AccountID, exec.ID)
	index := indexKey(exec.AccountID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, index, redis.Z{
		Score:  float64(exec.CreatedAt.UnixNano()),
		Member: exec.ID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, index, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	s.logger.Debug("execution snapshot saved",
		zap.String("execution_id", exec.ID),
		zap.String("account_id", exec.AccountID),
		zap.String("status", string(exec.Status)))

	return nil
}

// GetExecution loads one snapshot.
func (s *SnapshotStore) GetExecution(ctx context.Context, accountID, executionID string) (*domain.Execution, error) {
	data, err := s.client.Get(ctx, executionKey(accountID, executionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("execution not found: %s", executionID)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	var exec domain.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// GetLatestExecution returns the most recently created execution for
// the account, or nil when the account has none. Index entries whose
// snapshot already expired are skipped.
func (s *SnapshotStore) GetLatestExecution(ctx context.Context, accountID string) (*domain.Execution, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(accountID), 0, 9).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution index: %w", err)
	}

	for _, id := range ids {
		exec, err := s.GetExecution(ctx, accountID, id)
		if err != nil {
			continue
		}
		return exec, nil
	}
	return nil, nil
}

func executionKey(accountID, executionID string) string {
	return fmt.Sprintf("costwise:execution:%s:%s", accountID, executionID)
}

func indexKey(accountID string) string {
	return fmt.Sprintf("costwise:executions:%s", accountID)
}
