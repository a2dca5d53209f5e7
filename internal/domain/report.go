package domain

import "time"

// TaskResult is the structured output of one collaborator call. Findings
// stay small; anything large is written to the blob store by the state
// manager and referenced by key.
type TaskResult struct {
	Type      TaskType               `json:"type"`
	Summary   string                 `json:"summary,omitempty"`
	Findings  []Finding              `json:"findings,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Finding is a single cost or utilization observation produced by a
// collector, possibly carrying an estimated monthly saving.
type Finding struct {
	ResourceID      string  `json:"resource_id"`
	Service         string  `json:"service,omitempty"`
	Region          string  `json:"region,omitempty"`
	Description     string  `json:"description"`
	MonthlySavings  float64 `json:"monthly_savings,omitempty"`
	Recommendation  string  `json:"recommendation,omitempty"`
}

// TaskFailure reports a task that ended failed or skipped.
type TaskFailure struct {
	Type   TaskType `json:"type"`
	Status string   `json:"status"`
	Reason string   `json:"reason"`
}

// Report is the consolidated optimization report assembled by the entry
// point after the executor finishes.
type Report struct {
	ExecutionID    string                   `json:"execution_id"`
	AccountID      string                   `json:"account_id"`
	Status         ExecutionStatus          `json:"status"`
	Degraded       bool                     `json:"degraded"`
	GeneratedAt    time.Time                `json:"generated_at"`
	Scope          Scope                    `json:"scope,omitempty"`
	Results        map[TaskType]*TaskResult `json:"results,omitempty"`
	Failures       []TaskFailure            `json:"failures,omitempty"`
	TotalSavings   float64                  `json:"total_monthly_savings"`
	Narrative      string                   `json:"narrative,omitempty"`
	NarrativeError string                   `json:"narrative_error,omitempty"`
	Cleanup        map[string]interface{}   `json:"cleanup,omitempty"`
}
