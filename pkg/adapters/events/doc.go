// Package events provides progress event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: In-process for tests and the local runner
package events
