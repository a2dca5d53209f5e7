// Package orchestrator drives one cost-optimization run end to end.
//
// The entry point detects the trigger, builds a dependency-closed
// execution plan from the static task catalog, and hands it to the
// executor. The executor launches tasks as their dependencies complete,
// guards every collector call with a circuit breaker and a retry
// policy, and checkpoints progress through the state manager so a
// degraded run still yields a report. Budget awareness is built in:
// past the safety margin no new task starts, and in-flight tasks get a
// short grace period before being recorded as skipped.
package orchestrator
