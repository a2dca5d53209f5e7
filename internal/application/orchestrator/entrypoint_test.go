package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/config"
	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/pkg/adapters/storage/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Retry: config.RetryConfig{
			MaxRetries: 0,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2.0,
		},
		Breaker: config.BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute},
		Budget: config.BudgetConfig{
			InvocationBudget: time.Minute,
			SafetyMargin:     5 * time.Second,
			GracePeriod:      time.Second,
		},
	}
}

type stubGenerator struct {
	narrative string
	err       error
}

func (g stubGenerator) GenerateNarrative(ctx context.Context, report *domain.Report) (string, error) {
	return g.narrative, g.err
}

type stubCleaner struct {
	meta map[string]interface{}
	err  error
}

func (c stubCleaner) Cleanup(ctx context.Context, report *domain.Report) (map[string]interface{}, error) {
	return c.meta, c.err
}

type entryOption func(*EntryPointConfig)

func withGenerator(g stubGenerator) entryOption {
	return func(cfg *EntryPointConfig) { cfg.Generator = g }
}

func withCleaner(c stubCleaner) entryOption {
	return func(cfg *EntryPointConfig) { cfg.Cleaner = c }
}

func withRegistry(r *Registry) entryOption {
	return func(cfg *EntryPointConfig) { cfg.Registry = r }
}

func newTestEntryPoint(t *testing.T, opts ...entryOption) *EntryPoint {
	t.Helper()
	cfg := EntryPointConfig{
		Config:    testConfig(),
		Registry:  fullRegistry(),
		Snapshots: memory.NewStore(),
		Blobs:     memory.NewStore(),
		Metrics:   &countingMetrics{},
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ep, err := NewEntryPoint(cfg)
	require.NoError(t, err)
	return ep
}

func decodeReport(t *testing.T, resp Response) *domain.Report {
	t.Helper()
	var report domain.Report
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &report))
	return &report
}

func TestHandleScheduledTriggerRunsFullCatalog(t *testing.T) {
	ep := newTestEntryPoint(t)

	resp := ep.Handle(context.Background(), Request{Method: "POST"})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.NotEmpty(t, resp.Headers["correlation-id"])

	report := decodeReport(t, resp)
	assert.Equal(t, domain.ExecutionStatusCompleted, report.Status)
	assert.False(t, report.Degraded)
	assert.Len(t, report.Results, len(domain.AllTaskTypes()))
	assert.Empty(t, report.Failures)
}

func TestHandleTasksQueryOverridesBody(t *testing.T) {
	ep := newTestEntryPoint(t)

	resp := ep.Handle(context.Background(), Request{
		Method: "POST",
		Query:  map[string]string{"tasks": "cost, inventory"},
	})

	require.Equal(t, 200, resp.StatusCode)
	report := decodeReport(t, resp)
	assert.Len(t, report.Results, 2)
	assert.Contains(t, report.Results, domain.TaskCost)
	assert.Contains(t, report.Results, domain.TaskInventory)
}

func TestHandleNotificationTriggerUnwrapsMessage(t *testing.T) {
	ep := newTestEntryPoint(t)

	inner := `{"tasks":["cost"],"source":"billing-alarm"}`
	body, err := json.Marshal(map[string]string{"Type": "Notification", "Message": inner})
	require.NoError(t, err)

	resp := ep.Handle(context.Background(), Request{Method: "POST", Body: body})

	require.Equal(t, 200, resp.StatusCode)
	report := decodeReport(t, resp)
	assert.Len(t, report.Results, 1)
	assert.Contains(t, report.Results, domain.TaskCost)
}

func TestHandleBatchTriggerScopesExecution(t *testing.T) {
	ep := newTestEntryPoint(t)

	body := []byte(`{"tasks":["inventory"],"accounts":["111122223333"],"regions":["us-east-1"]}`)
	resp := ep.Handle(context.Background(), Request{Method: "POST", Body: body})

	require.Equal(t, 200, resp.StatusCode)
	report := decodeReport(t, resp)
	assert.Equal(t, "111122223333", report.AccountID)
	assert.Equal(t, []string{"us-east-1"}, report.Scope.Regions)
}

func TestHandlePartialWhenOneCollectorFails(t *testing.T) {
	registry := NewRegistry()
	for _, spec := range domain.Catalog() {
		registry.Register(spec.Collaborator, nopCollector{})
	}
	registry.Register("recommendation-engine", failingCollector{})
	ep := newTestEntryPoint(t, withRegistry(registry))

	resp := ep.Handle(context.Background(), Request{Method: "POST"})

	require.Equal(t, 200, resp.StatusCode, "degraded runs still return the report")
	report := decodeReport(t, resp)
	assert.Equal(t, domain.ExecutionStatusPartial, report.Status)
	assert.True(t, report.Degraded)
	assert.Len(t, report.Results, len(domain.AllTaskTypes())-1)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, domain.TaskRecommendations, report.Failures[0].Type)
}

func TestHandleDeadlineExhaustedYieldsFailedReport(t *testing.T) {
	ep := newTestEntryPoint(t)

	// Host deadline already inside the safety margin: zero tasks start,
	// yet the caller still receives a well-formed report.
	resp := ep.Handle(context.Background(), Request{
		Method:     "POST",
		DeadlineAt: time.Now().Add(time.Second),
	})

	require.Equal(t, 200, resp.StatusCode)
	report := decodeReport(t, resp)
	assert.Equal(t, domain.ExecutionStatusFailed, report.Status)
	assert.True(t, report.Degraded)
	assert.Empty(t, report.Results)
	assert.Len(t, report.Failures, len(domain.AllTaskTypes()))
	for _, failure := range report.Failures {
		assert.Equal(t, string(domain.TaskStatusSkipped), failure.Status)
		assert.Equal(t, domain.SkipReasonDeadline, failure.Reason)
	}
}

func TestHandleMalformedBodyReturnsGenericError(t *testing.T) {
	ep := newTestEntryPoint(t)

	resp := ep.Handle(context.Background(), Request{
		Method:  "POST",
		Headers: map[string]string{"Authorization": "Bearer sekrit"},
		Body:    []byte(`{"tasks": [`),
	})

	assert.Equal(t, 500, resp.StatusCode)
	assert.NotEmpty(t, resp.Headers["correlation-id"])

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.Equal(t, "invalid trigger", body["error"])
	assert.NotEmpty(t, body["correlation_id"])
	assert.NotContains(t, resp.Body, "sekrit")
}

func TestHandleUnknownTaskInQuery(t *testing.T) {
	ep := newTestEntryPoint(t)

	resp := ep.Handle(context.Background(), Request{
		Method: "GET",
		Query:  map[string]string{"tasks": "billing"},
	})

	assert.Equal(t, 500, resp.StatusCode)
	assert.NotContains(t, resp.Body, "billing", "internal detail must not leak")
}

func TestHandleNarrativeFailureIsNonFatal(t *testing.T) {
	ep := newTestEntryPoint(t, withGenerator(stubGenerator{err: errors.New("model overloaded")}))

	resp := ep.Handle(context.Background(), Request{Method: "POST"})

	require.Equal(t, 200, resp.StatusCode)
	report := decodeReport(t, resp)
	assert.Equal(t, domain.ExecutionStatusCompleted, report.Status)
	assert.Empty(t, report.Narrative)
	assert.Equal(t, "model overloaded", report.NarrativeError)
}

func TestHandleNarrativeAttached(t *testing.T) {
	ep := newTestEntryPoint(t, withGenerator(stubGenerator{narrative: "spend is trending down"}))

	resp := ep.Handle(context.Background(), Request{Method: "POST"})

	report := decodeReport(t, resp)
	assert.Equal(t, "spend is trending down", report.Narrative)
	assert.Empty(t, report.NarrativeError)
}

func TestHandleCleanerFailureIsNonFatal(t *testing.T) {
	ep := newTestEntryPoint(t, withCleaner(stubCleaner{err: errors.New("temp bucket gone")}))

	resp := ep.Handle(context.Background(), Request{Method: "POST"})

	require.Equal(t, 200, resp.StatusCode)
	report := decodeReport(t, resp)
	assert.Equal(t, "temp bucket gone", report.Cleanup["error"])
}

func TestHandleSumsSavingsAcrossResults(t *testing.T) {
	registry := NewRegistry()
	for _, spec := range domain.Catalog() {
		registry.Register(spec.Collaborator, savingsCollector{perCall: 12.5})
	}
	ep := newTestEntryPoint(t, withRegistry(registry))

	resp := ep.Handle(context.Background(), Request{
		Method: "POST",
		Query:  map[string]string{"tasks": "cost,inventory"},
	})

	report := decodeReport(t, resp)
	assert.InDelta(t, 25.0, report.TotalSavings, 0.001)
}

func TestSanitizeHeadersRedactsCredentials(t *testing.T) {
	safe := SanitizeHeaders(map[string]string{
		"Authorization": "Bearer sekrit",
		"X-Api-Key":     "abc123",
		"Content-Type":  "application/json",
	})

	assert.Equal(t, "[redacted]", safe["Authorization"])
	assert.Equal(t, "[redacted]", safe["X-Api-Key"])
	assert.Equal(t, "application/json", safe["Content-Type"])
}

type failingCollector struct{}

func (failingCollector) FetchData(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return nil, domain.NewCollaboratorError(domain.ErrPermissionDenied, "recommendation-engine", errors.New("denied"))
}

func (failingCollector) FetchRecommendations(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return nil, domain.NewCollaboratorError(domain.ErrPermissionDenied, "recommendation-engine", errors.New("denied"))
}

func (failingCollector) HealthCheck(ctx context.Context) error { return nil }

type savingsCollector struct {
	perCall float64
}

func (c savingsCollector) FetchData(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return &domain.TaskResult{
		Findings: []domain.Finding{{ResourceID: "i-1", MonthlySavings: c.perCall}},
	}, nil
}

func (c savingsCollector) FetchRecommendations(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return c.FetchData(ctx, scope)
}

func (c savingsCollector) HealthCheck(ctx context.Context) error { return nil }
