package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/application/state"
	"github.com/costwise/costwise/internal/breaker"
	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/retry"
	"github.com/costwise/costwise/pkg/adapters/storage/memory"
)

type countingMetrics struct {
	mu      sync.Mutex
	retries int
}

func (m *countingMetrics) RecordExecution(status string, duration time.Duration) {}
func (m *countingMetrics) RecordTask(taskType, status string, duration time.Duration) {
}
func (m *countingMetrics) RecordRetry(collaborator string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}
func (m *countingMetrics) RecordCircuitOpen(collaborator string) {}
func (m *countingMetrics) RecordCheckpointFailure()             {}
func (m *countingMetrics) SetActiveExecutions(count int)        {}

// scriptedCollector delegates to per-task functions and records the
// order in which tasks were invoked.
type scriptedCollector struct {
	mu    sync.Mutex
	calls []domain.TaskType
	fetch map[domain.TaskType]func(ctx context.Context) (*domain.TaskResult, error)
}

func newScriptedCollector() *scriptedCollector {
	return &scriptedCollector{fetch: make(map[domain.TaskType]func(ctx context.Context) (*domain.TaskResult, error))}
}

func (c *scriptedCollector) script(t domain.TaskType, fn func(ctx context.Context) (*domain.TaskResult, error)) {
	c.fetch[t] = fn
}

func (c *scriptedCollector) invoke(ctx context.Context, t domain.TaskType) (*domain.TaskResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, t)
	fn := c.fetch[t]
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return &domain.TaskResult{Type: t, Summary: "ok", FetchedAt: time.Now()}, nil
}

func (c *scriptedCollector) callOrder() []domain.TaskType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TaskType(nil), c.calls...)
}

func (c *scriptedCollector) HealthCheck(ctx context.Context) error { return nil }

// taskCollector adapts a scriptedCollector to one task type, since the
// collector interface does not receive the task type.
type taskCollector struct {
	shared   *scriptedCollector
	taskType domain.TaskType
}

func (c taskCollector) FetchData(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return c.shared.invoke(ctx, c.taskType)
}

func (c taskCollector) FetchRecommendations(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return c.shared.invoke(ctx, c.taskType)
}

func (c taskCollector) HealthCheck(ctx context.Context) error { return nil }

type executorFixture struct {
	executor  *Executor
	state     *state.Manager
	collector *scriptedCollector
	plan      *Plan
}

func fastPolicy(maxRetries int) retry.Policy {
	policy := retry.ProviderAPIPolicy()
	policy.MaxRetries = maxRetries
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	policy.Jitter = false
	return policy
}

// newFixture wires an executor over in-memory storage with a scripted
// collector behind every catalog collaborator.
func newFixture(t *testing.T, requested []domain.TaskType, policy retry.Policy, margins ...time.Duration) *executorFixture {
	t.Helper()

	shared := newScriptedCollector()
	registry := NewRegistry()
	// The collector interface does not carry the task type, and the
	// cost-explorer serves two tasks. Give every task its own
	// collaborator id so the fixture can script tasks independently.
	catalog := make(map[domain.TaskType]domain.TaskSpec, len(domain.Catalog()))
	for taskType, spec := range domain.Catalog() {
		spec.Collaborator = spec.Collaborator + "/" + string(taskType)
		catalog[taskType] = spec
		registry.Register(spec.Collaborator, taskCollector{shared: shared, taskType: taskType})
	}

	plan, err := BuildPlan(catalog, requested, registry)
	require.NoError(t, err)

	logger := zap.NewNop()
	metrics := &countingMetrics{}
	stateMgr := state.NewManager(memory.NewStore(), memory.NewStore(), metrics, logger)
	_, err = stateMgr.CreateExecution(context.Background(), "acct-1", "corr-1", domain.Scope{}, plan.Tasks())
	require.NoError(t, err)

	safetyMargin := time.Duration(0)
	gracePeriod := 50 * time.Millisecond
	if len(margins) > 0 {
		safetyMargin = margins[0]
	}
	if len(margins) > 1 {
		gracePeriod = margins[1]
	}

	executor := NewExecutor(ExecutorConfig{
		Registry:     registry,
		Breakers:     breaker.NewRegistry(breaker.DefaultConfig(), logger),
		Retries:      retry.NewHandler(logger),
		Policy:       policy,
		State:        stateMgr,
		Metrics:      metrics,
		Logger:       logger,
		SafetyMargin: safetyMargin,
		GracePeriod:  gracePeriod,
	})
	return &executorFixture{executor: executor, state: stateMgr, collector: shared, plan: plan}
}

func TestExecuteRunsAllTasksInDependencyOrder(t *testing.T) {
	fix := newFixture(t, domain.AllTaskTypes(), fastPolicy(0))

	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, result.Results, len(domain.AllTaskTypes()))
	assert.Empty(t, result.Failures)
	assert.Empty(t, result.Skipped)
	assert.False(t, result.Degraded)

	order := fix.collector.callOrder()
	assert.Less(t, indexOf(order, domain.TaskInventory), indexOf(order, domain.TaskMetrics))
	assert.Less(t, indexOf(order, domain.TaskCost), indexOf(order, domain.TaskForecast))
	assert.Less(t, indexOf(order, domain.TaskCost), indexOf(order, domain.TaskRecommendations))
	assert.Less(t, indexOf(order, domain.TaskMetrics), indexOf(order, domain.TaskRecommendations))
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	fix := newFixture(t, []domain.TaskType{domain.TaskInventory}, fastPolicy(3))

	var calls int
	var mu sync.Mutex
	fix.collector.script(domain.TaskInventory, func(ctx context.Context) (*domain.TaskResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return nil, domain.NewCollaboratorError(domain.ErrThrottled, "inventory-collector", errors.New("throttled"))
		}
		return &domain.TaskResult{Type: domain.TaskInventory, Summary: "ok"}, nil
	})

	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, result.Results, 1)
	assert.Equal(t, 3, calls)

	snap := fix.state.Snapshot()
	assert.Equal(t, 3, snap.Tasks[domain.TaskInventory].Attempts)
}

func TestExecuteExhaustsRetriesThenFails(t *testing.T) {
	fix := newFixture(t, []domain.TaskType{domain.TaskCost}, fastPolicy(2))

	var calls int
	var mu sync.Mutex
	fix.collector.script(domain.TaskCost, func(ctx context.Context) (*domain.TaskResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, domain.NewCollaboratorError(domain.ErrConnection, "cost-explorer", errors.New("reset"))
	})

	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	require.Contains(t, result.Failures, domain.TaskCost)
	assert.True(t, result.Degraded)

	snap := fix.state.Snapshot()
	assert.Equal(t, domain.TaskStatusFailed, snap.Tasks[domain.TaskCost].Status)
	assert.Equal(t, 3, snap.Tasks[domain.TaskCost].Attempts)
}

func TestExecutePermanentFailureNotRetried(t *testing.T) {
	fix := newFixture(t, []domain.TaskType{domain.TaskCost}, fastPolicy(3))

	var calls int
	var mu sync.Mutex
	fix.collector.script(domain.TaskCost, func(ctx context.Context) (*domain.TaskResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, domain.NewCollaboratorError(domain.ErrPermissionDenied, "cost-explorer", errors.New("denied"))
	})

	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Contains(t, result.Failures, domain.TaskCost)
}

func TestExecuteSkipsDependentsOfFailedTask(t *testing.T) {
	fix := newFixture(t, domain.AllTaskTypes(), fastPolicy(0))

	fix.collector.script(domain.TaskCost, func(ctx context.Context) (*domain.TaskResult, error) {
		return nil, domain.NewCollaboratorError(domain.ErrPermissionDenied, "cost-explorer", errors.New("denied"))
	})

	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.Contains(t, result.Results, domain.TaskInventory)
	assert.Contains(t, result.Results, domain.TaskMetrics)
	assert.Contains(t, result.Failures, domain.TaskCost)
	assert.Equal(t, domain.SkipReasonUpstreamFailure, result.Skipped[domain.TaskForecast])
	assert.Equal(t, domain.SkipReasonUpstreamFailure, result.Skipped[domain.TaskRecommendations])
	assert.True(t, result.Degraded)

	snap := fix.state.Snapshot()
	assert.Equal(t, domain.TaskStatusSkipped, snap.Tasks[domain.TaskForecast].Status)
	assert.Equal(t, domain.SkipReasonUpstreamFailure, snap.Tasks[domain.TaskForecast].SkipReason)
}

func TestExecuteBudgetExhaustedBeforeAnyLaunch(t *testing.T) {
	fix := newFixture(t, domain.AllTaskTypes(), fastPolicy(0), 30*time.Second)

	// Deadline inside the safety margin: nothing may launch.
	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(time.Second))
	require.NoError(t, err)

	assert.Empty(t, result.Results)
	assert.Empty(t, result.Failures)
	assert.Len(t, result.Skipped, len(domain.AllTaskTypes()))
	for _, reason := range result.Skipped {
		assert.Equal(t, domain.SkipReasonDeadline, reason)
	}
	assert.True(t, result.Degraded)
	assert.Empty(t, fix.collector.callOrder(), "no collector call may happen past the budget")
}

func TestExecuteAbandonsTasksAfterGracePeriod(t *testing.T) {
	fix := newFixture(t, []domain.TaskType{domain.TaskInventory}, fastPolicy(0), 10*time.Millisecond, 30*time.Millisecond)

	fix.collector.script(domain.TaskInventory, func(ctx context.Context) (*domain.TaskResult, error) {
		// Ignores cancellation, simulating a stuck provider call.
		time.Sleep(500 * time.Millisecond)
		return &domain.TaskResult{Type: domain.TaskInventory}, nil
	})

	start := time.Now()
	result, err := fix.executor.Execute(context.Background(), "exec-1", fix.plan, domain.Scope{}, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, domain.SkipReasonTimeout, result.Skipped[domain.TaskInventory])
	assert.Empty(t, result.Results)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "must return before the stuck call finishes")
}

func TestExecuteSharedBreakerAcrossTasks(t *testing.T) {
	// forecast shares the cost-explorer with cost; drive the breaker
	// open through cost and observe forecast fast-failing.
	shared := newScriptedCollector()
	registry := NewRegistry()
	for taskType, spec := range domain.Catalog() {
		registry.Register(spec.Collaborator, taskCollector{shared: shared, taskType: taskType})
	}
	boom := domain.NewCollaboratorError(domain.ErrServiceUnhealthy, "cost-explorer", errors.New("down"))
	shared.script(domain.TaskCost, func(ctx context.Context) (*domain.TaskResult, error) { return nil, boom })
	shared.script(domain.TaskForecast, func(ctx context.Context) (*domain.TaskResult, error) { return nil, boom })

	plan, err := BuildPlan(domain.Catalog(), []domain.TaskType{domain.TaskForecast}, registry)
	require.NoError(t, err)

	logger := zap.NewNop()
	metrics := &countingMetrics{}
	stateMgr := state.NewManager(memory.NewStore(), memory.NewStore(), metrics, logger)
	_, err = stateMgr.CreateExecution(context.Background(), "acct-1", "corr-1", domain.Scope{}, plan.Tasks())
	require.NoError(t, err)

	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, Cooldown: time.Minute}, logger)
	executor := NewExecutor(ExecutorConfig{
		Registry: registry,
		Breakers: breakers,
		Retries:  retry.NewHandler(logger),
		Policy:   fastPolicy(3),
		State:    stateMgr,
		Metrics:  metrics,
		Logger:   logger,
	})

	result, err := executor.Execute(context.Background(), "exec-1", plan, domain.Scope{}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	// cost fails twice and opens the circuit; the retry handler stops
	// on circuit-open instead of burning the rest of the budget, and
	// forecast is skipped because its dependency failed.
	require.Contains(t, result.Failures, domain.TaskCost)
	assert.Equal(t, breaker.StateOpen, breakers.CurrentState("cost-explorer"))
	assert.Equal(t, domain.SkipReasonUpstreamFailure, result.Skipped[domain.TaskForecast])
	calls := shared.callOrder()
	assert.Len(t, calls, 2, "third attempt must be stopped by the open circuit before reaching the collector")
}
