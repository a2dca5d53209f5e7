package domain

import "time"

// ExecutionStatus is the lifecycle status of one orchestration run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the execution status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusPartial, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle status of a single task within an execution.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// IsTerminal reports whether the task status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Skip reasons recorded on TaskRecord.SkipReason.
const (
	SkipReasonUpstreamFailure = "upstream failure"
	SkipReasonDeadline        = "deadline"
	SkipReasonTimeout         = "timeout"
)

// TaskRecord tracks the progress of one task within an execution.
// It is mutated only by the executor through the state manager, and
// transitions are monotonic: a terminal status is never regressed.
type TaskRecord struct {
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Execution is the durable record of one end-to-end orchestration run
// for an account.
type Execution struct {
	ID            string                   `json:"id"`
	AccountID     string                   `json:"account_id"`
	CorrelationID string                   `json:"correlation_id,omitempty"`
	Status        ExecutionStatus          `json:"status"`
	Scope         Scope                    `json:"scope,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Tasks         map[TaskType]*TaskRecord `json:"tasks"`
}

// Clone returns a deep copy of the execution so snapshots handed to
// storage adapters cannot alias live state.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.Tasks = make(map[TaskType]*TaskRecord, len(e.Tasks))
	for t, rec := range e.Tasks {
		recCopy := *rec
		cp.Tasks[t] = &recCopy
	}
	cp.Scope = e.Scope.Clone()
	return &cp
}

// Scope names the accounts, regions and services an execution targets.
type Scope struct {
	Accounts []string `json:"accounts,omitempty"`
	Regions  []string `json:"regions,omitempty"`
	Services []string `json:"services,omitempty"`
}

// Clone returns a copy with freshly allocated slices.
func (s Scope) Clone() Scope {
	return Scope{
		Accounts: append([]string(nil), s.Accounts...),
		Regions:  append([]string(nil), s.Regions...),
		Services: append([]string(nil), s.Services...),
	}
}

// IsEmpty reports whether the scope names no targets at all.
func (s Scope) IsEmpty() bool {
	return len(s.Accounts) == 0 && len(s.Regions) == 0 && len(s.Services) == 0
}
