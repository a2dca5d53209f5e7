package orchestrator

import (
	"fmt"
	"sort"

	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/ports"
)

// Registry maps collaborator identifiers to collector implementations.
// It is populated once at construction time; the executor resolves
// collaborators through it rather than holding concrete collectors.
type Registry struct {
	collectors map[string]ports.Collector
}

// NewRegistry creates an empty collector registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]ports.Collector)}
}

// Register binds a collaborator id to a collector.
func (r *Registry) Register(collaborator string, c ports.Collector) {
	r.collectors[collaborator] = c
}

// Resolve returns the collector bound to a collaborator id.
func (r *Registry) Resolve(collaborator string) (ports.Collector, bool) {
	c, ok := r.collectors[collaborator]
	return c, ok
}

// Plan is a validated, topologically ordered execution plan for one
// invocation. It is immutable after BuildPlan returns.
type Plan struct {
	specs map[domain.TaskType]domain.TaskSpec
	order []domain.TaskType
}

// Tasks returns the planned task types in topological order.
func (p *Plan) Tasks() []domain.TaskType {
	return append([]domain.TaskType(nil), p.order...)
}

// Spec returns the declaration for a planned task.
func (p *Plan) Spec(t domain.TaskType) domain.TaskSpec {
	return p.specs[t]
}

// BuildPlan restricts the static catalog to the requested tasks and
// produces a topological plan. The requested set is closed over
// transitive dependencies so every planned task can observe its
// dependencies' terminal state. A cycle, an undeclared task or a
// collaborator missing from the registry is a configuration error,
// detected here before any task runs.
func BuildPlan(catalog map[domain.TaskType]domain.TaskSpec, requested []domain.TaskType, registry *Registry) (*Plan, error) {
	if len(requested) == 0 {
		return nil, &domain.ConfigurationError{Reason: "no tasks requested"}
	}

	// Close the requested set over dependencies.
	specs := make(map[domain.TaskType]domain.TaskSpec)
	var include func(t domain.TaskType) error
	include = func(t domain.TaskType) error {
		if _, ok := specs[t]; ok {
			return nil
		}
		spec, ok := catalog[t]
		if !ok {
			return &domain.ConfigurationError{Reason: fmt.Sprintf("undeclared task type: %s", t)}
		}
		if _, ok := registry.Resolve(spec.Collaborator); !ok {
			return &domain.ConfigurationError{Reason: fmt.Sprintf("task %s references unregistered collaborator %s", t, spec.Collaborator)}
		}
		specs[t] = spec
		for _, dep := range spec.DependsOn {
			if err := include(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range requested {
		if err := include(t); err != nil {
			return nil, err
		}
	}

	order, err := topoSort(specs)
	if err != nil {
		return nil, err
	}
	return &Plan{specs: specs, order: order}, nil
}

// topoSort orders tasks so dependencies come first, using Kahn's
// algorithm with a stable tie-break for deterministic plans.
func topoSort(specs map[domain.TaskType]domain.TaskSpec) ([]domain.TaskType, error) {
	indegree := make(map[domain.TaskType]int, len(specs))
	dependents := make(map[domain.TaskType][]domain.TaskType, len(specs))
	for t, spec := range specs {
		if _, ok := indegree[t]; !ok {
			indegree[t] = 0
		}
		for _, dep := range spec.DependsOn {
			indegree[t]++
			dependents[dep] = append(dependents[dep], t)
		}
	}

	var ready []domain.TaskType
	for t, deg := range indegree {
		if deg == 0 {
			ready = append(ready, t)
		}
	}
	sortTypes(ready)

	order := make([]domain.TaskType, 0, len(specs))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var unlocked []domain.TaskType
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sortTypes(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) != len(specs) {
		return nil, &domain.ConfigurationError{Reason: "dependency cycle in task graph"}
	}
	return order, nil
}

func sortTypes(ts []domain.TaskType) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}
