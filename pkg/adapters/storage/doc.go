// Package storage provides execution snapshot store implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and a per-account index
//   - memory: In-memory for tests and the local runner
package storage
