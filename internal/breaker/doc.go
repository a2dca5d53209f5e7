// Package breaker implements a per-collaborator circuit breaker.
//
// A Registry tracks one state machine per collaborator identifier:
// closed circuits pass calls through and count consecutive failures;
// once the threshold is reached the circuit opens and calls fail fast
// with ErrCircuitOpen until the cooldown elapses, after which a single
// probe call decides whether the circuit closes again.
//
// Registry state lives for one invocation only.
package breaker
