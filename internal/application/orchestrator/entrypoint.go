package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/application/state"
	"github.com/costwise/costwise/internal/breaker"
	"github.com/costwise/costwise/internal/config"
	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/ports"
	"github.com/costwise/costwise/internal/retry"
)

// Request is the normalized trigger delivered to the entry point,
// regardless of how the host runtime received it.
type Request struct {
	Method  string
	Headers map[string]string
	Query   map[string]string
	Body    []byte

	// AccountID is the account the run targets; empty means default.
	AccountID string

	// DeadlineAt is the host runtime's termination deadline; zero means
	// the configured invocation budget applies.
	DeadlineAt time.Time
}

// Response is the structured entry point response.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// sensitiveHeaders are never echoed into logs or responses.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"x-amz-security-token": true,
	"cookie":              true,
}

// EntryPoint receives a trigger, builds the requested task set, drives
// the executor and assembles the final report.
type EntryPoint struct {
	cfg       *config.Config
	registry  *Registry
	snapshots ports.SnapshotStore
	blobs     ports.BlobStore
	events    ports.EventBus
	metrics   ports.MetricsCollector
	generator ports.ReportGenerator
	cleaner   ports.Cleaner
	logger    *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// EntryPointConfig wires an EntryPoint. Generator and Cleaner are
// optional collaborators.
type EntryPointConfig struct {
	Config    *config.Config
	Registry  *Registry
	Snapshots ports.SnapshotStore
	Blobs     ports.BlobStore
	Events    ports.EventBus
	Metrics   ports.MetricsCollector
	Generator ports.ReportGenerator
	Cleaner   ports.Cleaner
	Logger    *zap.Logger
}

// NewEntryPoint creates the orchestration entry point. The static task
// catalog is validated once here; an invalid catalog is a configuration
// error surfaced at startup rather than per request.
func NewEntryPoint(cfg EntryPointConfig) (*EntryPoint, error) {
	if err := domain.ValidateCatalog(domain.Catalog()); err != nil {
		return nil, err
	}
	return &EntryPoint{
		cfg:       cfg.Config,
		registry:  cfg.Registry,
		snapshots: cfg.Snapshots,
		blobs:     cfg.Blobs,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		generator: cfg.Generator,
		cleaner:   cfg.Cleaner,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Handle processes one trigger end to end. Errors before any task could
// be dispatched yield a 500 with a generic message and the correlation
// id; once an execution exists the assembled report is always returned,
// degraded or not.
func (ep *EntryPoint) Handle(ctx context.Context, req Request) Response {
	start := ep.now()
	correlationID := uuid.New().String()
	logger := ep.logger.With(zap.String("correlation_id", correlationID))

	trigger, err := ep.detectTrigger(req)
	if err != nil {
		logger.Error("failed to detect trigger",
			zap.Error(err),
			zap.Any("headers", SanitizeHeaders(req.Headers)))
		return errorResponse(correlationID, "invalid trigger")
	}
	logger.Info("trigger detected",
		zap.String("kind", string(trigger.Kind)),
		zap.Int("tasks", len(trigger.Tasks)))

	accountID := ep.resolveAccount(req, trigger)
	deadline := req.DeadlineAt
	if deadline.IsZero() {
		deadline = start.Add(ep.cfg.Budget.InvocationBudget)
	}

	plan, err := BuildPlan(domain.Catalog(), trigger.Tasks, ep.registry)
	if err != nil {
		logger.Error("failed to build execution plan", zap.Error(err))
		return errorResponse(correlationID, "internal error")
	}

	// Per-invocation wiring: breaker state and the live execution record
	// are scoped to this run, only the durable snapshot is shared.
	stateMgr := state.NewManager(ep.snapshots, ep.blobs, ep.metrics, logger)
	exec, err := stateMgr.CreateExecution(ctx, accountID, correlationID, trigger.Scope, plan.Tasks())
	if err != nil {
		logger.Error("failed to create execution", zap.Error(err))
		return errorResponse(correlationID, "internal error")
	}

	ep.metrics.SetActiveExecutions(1)
	defer ep.metrics.SetActiveExecutions(0)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: ep.cfg.Breaker.FailureThreshold,
		Cooldown:         ep.cfg.Breaker.Cooldown,
	}, logger)
	breakers.OnOpen(ep.metrics.RecordCircuitOpen)

	policy := retry.ProviderAPIPolicy()
	policy.MaxRetries = ep.cfg.Retry.MaxRetries
	policy.BaseDelay = ep.cfg.Retry.BaseDelay
	policy.MaxDelay = ep.cfg.Retry.MaxDelay
	policy.Multiplier = ep.cfg.Retry.Multiplier
	policy.Jitter = ep.cfg.Retry.Jitter

	executor := NewExecutor(ExecutorConfig{
		Registry:     ep.registry,
		Breakers:     breakers,
		Retries:      retry.NewHandler(logger),
		Policy:       policy,
		State:        stateMgr,
		Events:       ep.events,
		Metrics:      ep.metrics,
		Logger:       logger,
		SafetyMargin: ep.cfg.Budget.SafetyMargin,
		GracePeriod:  ep.cfg.Budget.GracePeriod,
	})

	result, err := executor.Execute(ctx, exec.ID, plan, trigger.Scope, deadline)
	if err != nil {
		// The executor isolates task errors; an error here happened
		// before any dispatch.
		logger.Error("executor failed before dispatch", zap.Error(err))
		_ = stateMgr.FinishExecution(ctx, domain.ExecutionStatusFailed)
		return errorResponse(correlationID, "internal error")
	}

	status := overallStatus(result)
	if err := stateMgr.FinishExecution(ctx, status); err != nil {
		logger.Warn("failed to finish execution record", zap.Error(err))
	}

	report := ep.assembleReport(ctx, exec, trigger.Scope, status, result, logger)

	duration := ep.now().Sub(start)
	ep.metrics.RecordExecution(string(status), duration)
	ep.publishFinished(ctx, exec.ID, status)
	logger.Info("execution finished",
		zap.String("execution_id", exec.ID),
		zap.String("account_id", accountID),
		zap.String("status", string(status)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", duration))

	body, err := json.Marshal(report)
	if err != nil {
		logger.Error("failed to serialize report", zap.Error(err))
		return errorResponse(correlationID, "internal error")
	}
	return Response{
		StatusCode: 200,
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"correlation-id": correlationID,
		},
		Body: string(body),
	}
}

// detectTrigger derives the requested task set and scope from the raw
// request. A tasks query parameter on a request/response trigger
// overrides the body's task selection.
func (ep *EntryPoint) detectTrigger(req Request) (*domain.Trigger, error) {
	trigger, err := domain.DetectTrigger(req.Body)
	if err != nil {
		return nil, err
	}

	if selector, ok := req.Query["tasks"]; ok && selector != "" {
		var tasks []domain.TaskType
		for _, name := range strings.Split(selector, ",") {
			t, err := domain.ParseTaskType(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
		trigger.Kind = domain.TriggerRequest
		trigger.Tasks = tasks
	}
	return trigger, nil
}

// resolveAccount picks the account an execution belongs to.
func (ep *EntryPoint) resolveAccount(req Request, trigger *domain.Trigger) string {
	if req.AccountID != "" {
		return req.AccountID
	}
	if len(trigger.Scope.Accounts) > 0 {
		return trigger.Scope.Accounts[0]
	}
	return "default"
}

// overallStatus applies the execution status state machine: completed
// when every task completed, partial when at least one task succeeded
// and at least one failed or was skipped, failed otherwise. A run whose
// budget expired before any task started therefore ends failed.
func overallStatus(result *Result) domain.ExecutionStatus {
	switch {
	case len(result.Results) > 0 && !result.Degraded:
		return domain.ExecutionStatusCompleted
	case len(result.Results) > 0:
		return domain.ExecutionStatusPartial
	default:
		return domain.ExecutionStatusFailed
	}
}

// assembleReport merges successes and failures into the final report and
// runs the optional post-execution collaborators. Their failures are
// recorded on the report, never propagated.
func (ep *EntryPoint) assembleReport(ctx context.Context, exec *domain.Execution, scope domain.Scope, status domain.ExecutionStatus, result *Result, logger *zap.Logger) *domain.Report {
	report := &domain.Report{
		ExecutionID: exec.ID,
		AccountID:   exec.AccountID,
		Status:      status,
		Degraded:    result.Degraded,
		GeneratedAt: ep.now(),
		Scope:       scope,
		Results:     result.Results,
	}

	for taskType, taskErr := range result.Failures {
		report.Failures = append(report.Failures, domain.TaskFailure{
			Type:   taskType,
			Status: string(domain.TaskStatusFailed),
			Reason: taskErr.Error(),
		})
	}
	for taskType, reason := range result.Skipped {
		report.Failures = append(report.Failures, domain.TaskFailure{
			Type:   taskType,
			Status: string(domain.TaskStatusSkipped),
			Reason: reason,
		})
	}
	for _, taskResult := range result.Results {
		for _, finding := range taskResult.Findings {
			report.TotalSavings += finding.MonthlySavings
		}
	}

	if ep.generator != nil {
		narrative, err := ep.generator.GenerateNarrative(ctx, report)
		if err != nil {
			logger.Warn("report narrative generation failed", zap.Error(err))
			report.NarrativeError = err.Error()
		} else {
			report.Narrative = narrative
		}
	}

	if ep.cleaner != nil {
		meta, err := ep.cleaner.Cleanup(ctx, report)
		if err != nil {
			logger.Warn("cleanup collaborator failed", zap.Error(err))
			report.Cleanup = map[string]interface{}{"error": err.Error()}
		} else {
			report.Cleanup = meta
		}
	}

	return report
}

func (ep *EntryPoint) publishFinished(ctx context.Context, executionID string, status domain.ExecutionStatus) {
	if ep.events == nil {
		return
	}
	event := ports.Event{
		ID:          uuid.New().String(),
		Type:        ports.EventExecutionFinished,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Data:        map[string]interface{}{"status": string(status)},
	}
	if err := ep.events.Publish(ctx, eventTopic, event); err != nil {
		ep.logger.Debug("failed to publish finished event", zap.Error(err))
	}
}

// SanitizeHeaders returns a copy of headers safe for logging: values of
// credential-bearing headers are replaced, never echoed.
func SanitizeHeaders(headers map[string]string) map[string]string {
	safe := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			safe[k] = "[redacted]"
			continue
		}
		safe[k] = v
	}
	return safe
}

// errorResponse is the generic pre-dispatch failure response: no stack
// traces, no secret values, just a correlation id to find the logs.
func errorResponse(correlationID, message string) Response {
	body, _ := json.Marshal(map[string]string{
		"error":          message,
		"correlation_id": correlationID,
	})
	return Response{
		StatusCode: 500,
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"correlation-id": correlationID,
		},
		Body: string(body),
	}
}
