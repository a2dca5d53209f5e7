// Package state implements the durable execution-state tracker.
//
// The manager owns the live execution record for one invocation and
// checkpoints it to the snapshot store after every mutation:
//   - task starts, completions, failures and skips
//   - terminal execution status
//
// Writes are serialized by an in-process mutex; checkpoint failures are
// logged and counted but never abort the run.
package state
