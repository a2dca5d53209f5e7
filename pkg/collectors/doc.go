// Package collectors holds collaborator client implementations.
//
// Implementations:
//   - stub: deterministic simulated collectors for local use
package collectors
