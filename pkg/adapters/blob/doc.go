// Package blob provides large-payload storage implementations.
//
// Implementations:
//   - minio: MinIO/S3 object storage for oversized task results
package blob
