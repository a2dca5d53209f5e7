// Package ports declares the interfaces between the orchestration core
// and its collaborators and infrastructure adapters:
//   - Collector: per-resource data collectors and recommendation engines
//   - SnapshotStore / BlobStore: durable execution state and large payloads
//   - ReportGenerator / Cleaner: post-execution collaborators
//   - EventBus: execution progress events
//   - MetricsCollector: orchestration metrics
//
// The core depends only on these interfaces; concrete adapters live under
// pkg/adapters and are wired in at construction time.
package ports
