package ports

import (
	"context"
	"time"

	"github.com/costwise/costwise/internal/domain"
)

// Collector is the interface every data collaborator implements. The
// orchestration core never depends on a concrete collector; a registry
// maps task types to implementations at construction time.
type Collector interface {
	// FetchData collects cost or utilization data for the scope.
	FetchData(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error)

	// FetchRecommendations derives optimization recommendations for the scope.
	FetchRecommendations(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error)

	// HealthCheck probes the underlying provider API.
	HealthCheck(ctx context.Context) error
}

// SnapshotStore persists execution snapshots durably, keyed by account
// and execution id. Writes are full-snapshot overwrites.
type SnapshotStore interface {
	SaveExecution(ctx context.Context, exec *domain.Execution) error
	GetExecution(ctx context.Context, accountID, executionID string) (*domain.Execution, error)

	// GetLatestExecution returns the execution with the maximum CreatedAt
	// for the account, or nil when none exists.
	GetLatestExecution(ctx context.Context, accountID string) (*domain.Execution, error)
}

// BlobStore holds large task payloads outside the execution record.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte, contentType string) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
}

// ReportGenerator turns an assembled report into a human-readable
// narrative. Its failure is recorded on the report, never fatal.
type ReportGenerator interface {
	GenerateNarrative(ctx context.Context, report *domain.Report) (string, error)
}

// Cleaner is the external cleanup collaborator invoked once with the
// assembled report. It returns cleanup metadata to attach to the report.
type Cleaner interface {
	Cleanup(ctx context.Context, report *domain.Report) (map[string]interface{}, error)
}

// EventType identifies a progress event.
type EventType string

const (
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventTaskSkipped       EventType = "task.skipped"
	EventExecutionFinished EventType = "execution.finished"
)

// Event is a progress notification published during an execution.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	TaskType    domain.TaskType        `json:"task_type,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EventHandler consumes events delivered by an EventBus subscription.
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes and delivers execution progress events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records orchestration metrics.
type MetricsCollector interface {
	RecordExecution(status string, duration time.Duration)
	RecordTask(taskType, status string, duration time.Duration)
	RecordRetry(collaborator string)
	RecordCircuitOpen(collaborator string)
	RecordCheckpointFailure()
	SetActiveExecutions(count int)
}
