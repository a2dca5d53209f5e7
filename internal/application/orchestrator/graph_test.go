package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/ports"
)

type nopCollector struct{}

func (nopCollector) FetchData(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return &domain.TaskResult{}, nil
}

func (nopCollector) FetchRecommendations(ctx context.Context, scope domain.Scope) (*domain.TaskResult, error) {
	return &domain.TaskResult{}, nil
}

func (nopCollector) HealthCheck(ctx context.Context) error { return nil }

func fullRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range domain.Catalog() {
		r.Register(spec.Collaborator, nopCollector{})
	}
	return r
}

func indexOf(order []domain.TaskType, t domain.TaskType) int {
	for i, o := range order {
		if o == t {
			return i
		}
	}
	return -1
}

func TestBuildPlanClosesOverDependencies(t *testing.T) {
	plan, err := BuildPlan(domain.Catalog(), []domain.TaskType{domain.TaskRecommendations}, fullRegistry())
	require.NoError(t, err)

	order := plan.Tasks()
	assert.ElementsMatch(t, []domain.TaskType{
		domain.TaskInventory,
		domain.TaskCost,
		domain.TaskMetrics,
		domain.TaskRecommendations,
	}, order)
}

func TestBuildPlanTopologicalOrder(t *testing.T) {
	plan, err := BuildPlan(domain.Catalog(), domain.AllTaskTypes(), fullRegistry())
	require.NoError(t, err)

	order := plan.Tasks()
	require.Len(t, order, len(domain.Catalog()))
	for _, taskType := range order {
		for _, dep := range plan.Spec(taskType).DependsOn {
			assert.Less(t, indexOf(order, dep), indexOf(order, taskType),
				"%s must come after its dependency %s", taskType, dep)
		}
	}
}

func TestBuildPlanDeterministic(t *testing.T) {
	first, err := BuildPlan(domain.Catalog(), domain.AllTaskTypes(), fullRegistry())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := BuildPlan(domain.Catalog(), domain.AllTaskTypes(), fullRegistry())
		require.NoError(t, err)
		assert.Equal(t, first.Tasks(), next.Tasks())
	}
}

func TestBuildPlanEmptyRequest(t *testing.T) {
	_, err := BuildPlan(domain.Catalog(), nil, fullRegistry())
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
}

func TestBuildPlanUndeclaredTask(t *testing.T) {
	_, err := BuildPlan(domain.Catalog(), []domain.TaskType{domain.TaskType("billing")}, fullRegistry())
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
}

func TestBuildPlanUnregisteredCollaborator(t *testing.T) {
	registry := NewRegistry()
	registry.Register("inventory-collector", nopCollector{})

	_, err := BuildPlan(domain.Catalog(), []domain.TaskType{domain.TaskCost}, registry)
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "cost-explorer")
}

func TestBuildPlanRejectsCycle(t *testing.T) {
	registry := NewRegistry()
	registry.Register("collector", nopCollector{})
	catalog := map[domain.TaskType]domain.TaskSpec{
		"a": {Type: "a", Collaborator: "collector", Op: domain.OpFetchData, DependsOn: []domain.TaskType{"b"}},
		"b": {Type: "b", Collaborator: "collector", Op: domain.OpFetchData, DependsOn: []domain.TaskType{"a"}},
	}

	_, err := BuildPlan(catalog, []domain.TaskType{"a"}, registry)
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	registry.Register("cost-explorer", nopCollector{})

	_, ok := registry.Resolve("cost-explorer")
	assert.True(t, ok)
	_, ok = registry.Resolve("unknown")
	assert.False(t, ok)
}

var _ ports.Collector = nopCollector{}
