// Package domain defines the core types of the costwise orchestration core:
// executions and their task records, the static task catalog, trigger shapes,
// the assembled optimization report, and the classified error taxonomy used
// by the retry and circuit breaker layers.
package domain
