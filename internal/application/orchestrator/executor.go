package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/application/state"
	"github.com/costwise/costwise/internal/breaker"
	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/ports"
	"github.com/costwise/costwise/internal/retry"
)

// eventTopic is the progress event topic for execution streams.
const eventTopic = "execution.events"

// Result is the outcome of one executor run.
type Result struct {
	Results  map[domain.TaskType]*domain.TaskResult
	Failures map[domain.TaskType]error
	Skipped  map[domain.TaskType]string

	// Degraded is set when any task failed or was skipped, even if the
	// overall output is usable.
	Degraded bool
}

// Executor resolves task dependencies and runs ready tasks concurrently
// under the retry handler and circuit breaker, respecting a deadline.
type Executor struct {
	registry *Registry
	breakers *breaker.Registry
	retries  *retry.Handler
	policy   retry.Policy
	state    *state.Manager
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	// safetyMargin stops new launches when remaining budget drops below
	// it; gracePeriod bounds how long in-flight tasks may outlive the
	// cutoff before their results are discarded.
	safetyMargin time.Duration
	gracePeriod  time.Duration
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Registry     *Registry
	Breakers     *breaker.Registry
	Retries      *retry.Handler
	Policy       retry.Policy
	State        *state.Manager
	Events       ports.EventBus
	Metrics      ports.MetricsCollector
	Logger       *zap.Logger
	SafetyMargin time.Duration
	GracePeriod  time.Duration
}

// NewExecutor creates an executor for one invocation.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		registry:     cfg.Registry,
		breakers:     cfg.Breakers,
		retries:      cfg.Retries,
		policy:       cfg.Policy,
		state:        cfg.State,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		safetyMargin: cfg.SafetyMargin,
		gracePeriod:  cfg.GracePeriod,
	}
}

// taskOutcome is one task's terminal result delivered over the fan-in
// channel.
type taskOutcome struct {
	taskType domain.TaskType
	result   *domain.TaskResult
	err      error
	duration time.Duration
}

// Execute runs the plan: all tasks with satisfied dependencies fan out
// concurrently; as each completes, newly ready tasks launch, until the
// plan is exhausted or the deadline is reached. A task never starts
// before every dependency is terminal; a failed or skipped dependency
// marks its dependents skipped with reason "upstream failure".
func (e *Executor) Execute(ctx context.Context, executionID string, plan *Plan, scope domain.Scope, deadline time.Time) (*Result, error) {
	res := &Result{
		Results:  make(map[domain.TaskType]*domain.TaskResult),
		Failures: make(map[domain.TaskType]error),
		Skipped:  make(map[domain.TaskType]string),
	}

	status := make(map[domain.TaskType]domain.TaskStatus, len(plan.order))
	for _, t := range plan.order {
		status[t] = domain.TaskStatusPending
	}

	taskCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Buffered so abandoned tasks can always deliver and exit.
	outcomes := make(chan taskOutcome, len(plan.order))
	running := 0

	for {
		e.propagateSkips(ctx, executionID, plan, status, res)

		if time.Until(deadline) > e.safetyMargin {
			for _, t := range plan.order {
				if status[t] != domain.TaskStatusPending || !e.depsCompleted(plan, status, t) {
					continue
				}
				status[t] = domain.TaskStatusRunning
				running++
				e.publish(ctx, ports.EventTaskStarted, executionID, t, nil)
				go e.runTask(taskCtx, plan.Spec(t), scope, outcomes)
			}
		} else {
			// Budget exhausted: nothing else launches this invocation.
			for _, t := range plan.order {
				if status[t] != domain.TaskStatusPending {
					continue
				}
				status[t] = domain.TaskStatusSkipped
				res.Skipped[t] = domain.SkipReasonDeadline
				_ = e.state.SkipTask(ctx, t, domain.SkipReasonDeadline)
				e.metrics.RecordTask(string(t), string(domain.TaskStatusSkipped), 0)
				e.publish(ctx, ports.EventTaskSkipped, executionID, t, map[string]interface{}{"reason": domain.SkipReasonDeadline})
				e.logger.Warn("task skipped, budget exhausted",
					zap.String("execution_id", executionID),
					zap.String("task", string(t)))
			}
		}

		if running == 0 {
			break
		}

		graceTimer := time.NewTimer(time.Until(deadline.Add(e.gracePeriod)))
		select {
		case out := <-outcomes:
			graceTimer.Stop()
			running--
			e.recordOutcome(ctx, executionID, status, res, out)

		case <-graceTimer.C:
			// In-flight tasks past the grace period: results discarded.
			cancel()
			for _, t := range plan.order {
				if status[t] != domain.TaskStatusRunning {
					continue
				}
				status[t] = domain.TaskStatusSkipped
				res.Skipped[t] = domain.SkipReasonTimeout
				_ = e.state.SkipTask(ctx, t, domain.SkipReasonTimeout)
				e.metrics.RecordTask(string(t), string(domain.TaskStatusSkipped), 0)
				e.publish(ctx, ports.EventTaskSkipped, executionID, t, map[string]interface{}{"reason": domain.SkipReasonTimeout})
				e.logger.Warn("task abandoned after grace period",
					zap.String("execution_id", executionID),
					zap.String("task", string(t)))
			}
			running = 0
		}
	}

	res.Degraded = len(res.Failures) > 0 || len(res.Skipped) > 0
	return res, nil
}

// depsCompleted reports whether every dependency of t completed
// successfully. Failed or skipped dependencies are handled by
// propagateSkips before this is consulted.
func (e *Executor) depsCompleted(plan *Plan, status map[domain.TaskType]domain.TaskStatus, t domain.TaskType) bool {
	for _, dep := range plan.Spec(t).DependsOn {
		if status[dep] != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// propagateSkips marks every pending task with a failed or skipped
// dependency as skipped, repeating until no more tasks change so skips
// reach transitive dependents.
func (e *Executor) propagateSkips(ctx context.Context, executionID string, plan *Plan, status map[domain.TaskType]domain.TaskStatus, res *Result) {
	for changed := true; changed; {
		changed = false
		for _, t := range plan.order {
			if status[t] != domain.TaskStatusPending {
				continue
			}
			for _, dep := range plan.Spec(t).DependsOn {
				if status[dep] != domain.TaskStatusFailed && status[dep] != domain.TaskStatusSkipped {
					continue
				}
				status[t] = domain.TaskStatusSkipped
				res.Skipped[t] = domain.SkipReasonUpstreamFailure
				_ = e.state.SkipTask(ctx, t, domain.SkipReasonUpstreamFailure)
				e.metrics.RecordTask(string(t), string(domain.TaskStatusSkipped), 0)
				e.publish(ctx, ports.EventTaskSkipped, executionID, t, map[string]interface{}{
					"reason":   domain.SkipReasonUpstreamFailure,
					"upstream": string(dep),
				})
				changed = true
				break
			}
		}
	}
}

// runTask performs one task: the collector call is wrapped by the
// circuit breaker guard, and that guarded call is what the retry
// handler re-attempts.
func (e *Executor) runTask(ctx context.Context, spec domain.TaskSpec, scope domain.Scope, outcomes chan<- taskOutcome) {
	start := time.Now()

	collector, ok := e.registry.Resolve(spec.Collaborator)
	if !ok {
		// BuildPlan validates bindings; reaching this is a wiring bug.
		outcomes <- taskOutcome{
			taskType: spec.Type,
			err:      &domain.ConfigurationError{Reason: fmt.Sprintf("collaborator %s vanished from registry", spec.Collaborator)},
		}
		return
	}

	invoke := func(ctx context.Context) (*domain.TaskResult, error) {
		switch spec.Op {
		case domain.OpFetchRecommendations:
			return collector.FetchRecommendations(ctx, scope)
		default:
			return collector.FetchData(ctx, scope)
		}
	}

	result, err := e.retries.Do(ctx, e.policy,
		func(ctx context.Context) (*domain.TaskResult, error) {
			return e.breakers.Guard(ctx, spec.Collaborator, invoke)
		},
		func(attempt int) {
			if attempt > 1 {
				e.metrics.RecordRetry(spec.Collaborator)
			}
			_ = e.state.StartTask(ctx, spec.Type)
		})

	outcomes <- taskOutcome{
		taskType: spec.Type,
		result:   result,
		err:      err,
		duration: time.Since(start),
	}
}

// recordOutcome applies one task's terminal result to the run state.
func (e *Executor) recordOutcome(ctx context.Context, executionID string, status map[domain.TaskType]domain.TaskStatus, res *Result, out taskOutcome) {
	if status[out.taskType] != domain.TaskStatusRunning {
		// Already skipped by the timeout path; discard.
		return
	}

	if out.err != nil {
		status[out.taskType] = domain.TaskStatusFailed
		res.Failures[out.taskType] = out.err
		_ = e.state.FailTask(ctx, out.taskType, out.err)
		e.metrics.RecordTask(string(out.taskType), string(domain.TaskStatusFailed), out.duration)
		e.publish(ctx, ports.EventTaskFailed, executionID, out.taskType, map[string]interface{}{"error": out.err.Error()})
		e.logger.Error("task failed",
			zap.String("execution_id", executionID),
			zap.String("task", string(out.taskType)),
			zap.Duration("duration", out.duration),
			zap.Error(out.err))
		return
	}

	status[out.taskType] = domain.TaskStatusCompleted
	res.Results[out.taskType] = out.result
	_ = e.state.CompleteTask(ctx, out.taskType, out.result)
	e.metrics.RecordTask(string(out.taskType), string(domain.TaskStatusCompleted), out.duration)
	e.publish(ctx, ports.EventTaskCompleted, executionID, out.taskType, nil)
	e.logger.Info("task completed",
		zap.String("execution_id", executionID),
		zap.String("task", string(out.taskType)),
		zap.Duration("duration", out.duration))
}

// publish emits a progress event; delivery is best effort.
func (e *Executor) publish(ctx context.Context, eventType ports.EventType, executionID string, taskType domain.TaskType, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	event := ports.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ExecutionID: executionID,
		TaskType:    taskType,
		Timestamp:   time.Now(),
		Data:        data,
	}
	if err := e.events.Publish(ctx, eventTopic, event); err != nil {
		e.logger.Debug("failed to publish progress event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
