// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Triggering optimization runs
//   - Execution snapshot queries
//   - Health checks
//   - Prometheus metrics
package http
