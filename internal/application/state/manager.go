package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/ports"
)

// maxInlineResultBytes is the largest serialized task result kept out of
// the blob store. Anything bigger is written durably and referenced by key.
const maxInlineResultBytes = 4096

// Manager is the durable, queryable record of one execution's task-level
// progress. All mutations go through the manager, which serializes
// read-modify-write cycles with an in-process mutex so concurrent task
// completions cannot lose an update.
//
// Persistence is full-snapshot overwrite per execution. A failed
// checkpoint write is logged and counted but never fails the run.
type Manager struct {
	snapshots ports.SnapshotStore
	blobs     ports.BlobStore
	metrics   ports.MetricsCollector
	logger    *zap.Logger

	mu   sync.Mutex
	exec *domain.Execution

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a state manager. blobs may be nil when no blob
// store is configured; large results are then kept inline.
func NewManager(snapshots ports.SnapshotStore, blobs ports.BlobStore, metrics ports.MetricsCollector, logger *zap.Logger) *Manager {
	return &Manager{
		snapshots: snapshots,
		blobs:     blobs,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateExecution starts tracking a new execution for the account. The
// initial snapshot write is the one persistence failure that is fatal:
// without it there is no durable record to update.
func (m *Manager) CreateExecution(ctx context.Context, accountID, correlationID string, scope domain.Scope, tasks []domain.TaskType) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	exec := &domain.Execution{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		CorrelationID: correlationID,
		Status:        domain.ExecutionStatusRunning,
		Scope:         scope.Clone(),
		CreatedAt:     now,
		StartedAt:     &now,
		Tasks:         make(map[domain.TaskType]*domain.TaskRecord, len(tasks)),
	}
	for _, t := range tasks {
		exec.Tasks[t] = &domain.TaskRecord{Type: t, Status: domain.TaskStatusPending}
	}

	if err := m.snapshots.SaveExecution(ctx, exec.Clone()); err != nil {
		return nil, fmt.Errorf("failed to persist initial execution snapshot: %w", err)
	}

	m.exec = exec
	m.logger.Info("execution created",
		zap.String("execution_id", exec.ID),
		zap.String("account_id", accountID),
		zap.Int("tasks", len(tasks)))
	return exec.Clone(), nil
}

// StartTask marks the task running and increments its attempt counter.
// Calling it again for a retry is valid and counts another attempt; a
// task already in a terminal state is never regressed.
func (m *Manager) StartTask(ctx context.Context, taskType domain.TaskType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(taskType)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("task %s already terminal (%s)", taskType, rec.Status)
	}

	if rec.Status != domain.TaskStatusRunning {
		now := m.now()
		rec.StartedAt = &now
	}
	rec.Status = domain.TaskStatusRunning
	rec.Attempts++

	m.persist(ctx)
	return nil
}

// CompleteTask marks the task completed with its result. The full result
// payload is written to the blob store when it exceeds the inline limit;
// the execution record only ever carries the reference key.
func (m *Manager) CompleteTask(ctx context.Context, taskType domain.TaskType, result *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(taskType)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("task %s already terminal (%s)", taskType, rec.Status)
	}

	now := m.now()
	rec.Status = domain.TaskStatusCompleted
	rec.CompletedAt = &now
	rec.LastError = ""
	rec.ResultRef = m.storeResult(ctx, taskType, result)

	m.persist(ctx)
	return nil
}

// FailTask marks the task failed after its retry budget is exhausted.
func (m *Manager) FailTask(ctx context.Context, taskType domain.TaskType, taskErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(taskType)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("task %s already terminal (%s)", taskType, rec.Status)
	}

	now := m.now()
	rec.Status = domain.TaskStatusFailed
	rec.CompletedAt = &now
	if taskErr != nil {
		rec.LastError = taskErr.Error()
	}

	m.persist(ctx)
	return nil
}

// SkipTask marks the task skipped with a reason. Skipping never regresses
// a terminal record.
func (m *Manager) SkipTask(ctx context.Context, taskType domain.TaskType, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(taskType)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	now := m.now()
	rec.Status = domain.TaskStatusSkipped
	rec.SkipReason = reason
	rec.CompletedAt = &now

	m.persist(ctx)
	return nil
}

// FinishExecution records the terminal execution status. The execution
// record is immutable afterwards.
func (m *Manager) FinishExecution(ctx context.Context, status domain.ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return fmt.Errorf("no execution in progress")
	}
	if m.exec.Status.IsTerminal() {
		return fmt.Errorf("execution %s already terminal (%s)", m.exec.ID, m.exec.Status)
	}

	now := m.now()
	m.exec.Status = status
	m.exec.CompletedAt = &now

	m.persist(ctx)
	return nil
}

// GetCompletedTasks returns the records of all tasks that completed.
func (m *Manager) GetCompletedTasks(ctx context.Context) []domain.TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return nil
	}
	var completed []domain.TaskRecord
	for _, rec := range m.exec.Tasks {
		if rec.Status == domain.TaskStatusCompleted {
			completed = append(completed, *rec)
		}
	}
	return completed
}

// Snapshot returns a copy of the current execution state.
func (m *Manager) Snapshot() *domain.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return nil
	}
	return m.exec.Clone()
}

// GetLatestExecution returns the execution with the maximum CreatedAt for
// the account, read from durable storage, or nil when none exists.
func (m *Manager) GetLatestExecution(ctx context.Context, accountID string) (*domain.Execution, error) {
	return m.snapshots.GetLatestExecution(ctx, accountID)
}

// record looks up the live task record; callers hold m.mu.
func (m *Manager) record(taskType domain.TaskType) (*domain.TaskRecord, error) {
	if m.exec == nil {
		return nil, fmt.Errorf("no execution in progress")
	}
	rec, ok := m.exec.Tasks[taskType]
	if !ok {
		return nil, fmt.Errorf("task %s not part of execution %s", taskType, m.exec.ID)
	}
	return rec, nil
}

// storeResult writes a large result payload to the blob store and returns
// its reference key. Small payloads and blob failures yield an empty ref;
// the executor still holds the result in memory for the report.
func (m *Manager) storeResult(ctx context.Context, taskType domain.TaskType, result *domain.TaskResult) string {
	if result == nil || m.blobs == nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		m.logger.Warn("failed to serialize task result",
			zap.String("task", string(taskType)),
			zap.Error(err))
		return ""
	}
	if len(data) <= maxInlineResultBytes {
		return ""
	}

	key := fmt.Sprintf("results/%s/%s/%s.json", m.exec.AccountID, m.exec.ID, taskType)
	if err := m.blobs.PutBlob(ctx, key, data, "application/json"); err != nil {
		m.logger.Warn("failed to store result blob",
			zap.String("task", string(taskType)),
			zap.String("key", key),
			zap.Error(err))
		return ""
	}
	return key
}

// persist overwrites the durable snapshot; callers hold m.mu. Failures
// are logged and counted, never propagated: report generation must not
// fail because a checkpoint write failed.
func (m *Manager) persist(ctx context.Context) {
	if err := m.snapshots.SaveExecution(ctx, m.exec.Clone()); err != nil {
		m.metrics.RecordCheckpointFailure()
		m.logger.Error("failed to persist execution snapshot",
			zap.String("execution_id", m.exec.ID),
			zap.Error(err))
	}
}
