package domain

import "fmt"

// TaskType identifies a schedulable unit of work. The set of task types
// is closed: every type is declared in the catalog below together with
// its dependencies and the collaborator that serves it.
type TaskType string

const (
	TaskInventory       TaskType = "inventory"
	TaskCost            TaskType = "cost"
	TaskMetrics         TaskType = "metrics"
	TaskForecast        TaskType = "forecast"
	TaskRecommendations TaskType = "recommendations"
)

// CollectorOp selects which collector operation a task invokes.
type CollectorOp string

const (
	OpFetchData            CollectorOp = "fetch_data"
	OpFetchRecommendations CollectorOp = "fetch_recommendations"
)

// TaskSpec is the static declaration of one task type.
type TaskSpec struct {
	Type         TaskType
	Collaborator string
	Op           CollectorOp
	DependsOn    []TaskType
}

// Catalog returns the static task catalog. Dependencies form a DAG;
// ValidateCatalog checks this at startup.
func Catalog() map[TaskType]TaskSpec {
	return map[TaskType]TaskSpec{
		TaskInventory: {
			Type:         TaskInventory,
			Collaborator: "inventory-collector",
			Op:           OpFetchData,
		},
		TaskCost: {
			Type:         TaskCost,
			Collaborator: "cost-explorer",
			Op:           OpFetchData,
		},
		TaskMetrics: {
			Type:         TaskMetrics,
			Collaborator: "metrics-collector",
			Op:           OpFetchData,
			DependsOn:    []TaskType{TaskInventory},
		},
		TaskForecast: {
			Type:         TaskForecast,
			Collaborator: "cost-explorer",
			Op:           OpFetchData,
			DependsOn:    []TaskType{TaskCost},
		},
		TaskRecommendations: {
			Type:         TaskRecommendations,
			Collaborator: "recommendation-engine",
			Op:           OpFetchRecommendations,
			DependsOn:    []TaskType{TaskCost, TaskMetrics},
		},
	}
}

// AllTaskTypes returns every declared task type in a stable order.
func AllTaskTypes() []TaskType {
	return []TaskType{TaskInventory, TaskCost, TaskMetrics, TaskForecast, TaskRecommendations}
}

// ParseTaskType validates a task type name against the catalog.
func ParseTaskType(name string) (TaskType, error) {
	t := TaskType(name)
	if _, ok := Catalog()[t]; !ok {
		return "", fmt.Errorf("unknown task type: %q", name)
	}
	return t, nil
}

// ValidateCatalog verifies the static catalog: every dependency must be
// declared, and the dependency relation must be acyclic. It is run once
// at startup; a failure here is a configuration error.
func ValidateCatalog(catalog map[TaskType]TaskSpec) error {
	for t, spec := range catalog {
		if spec.Collaborator == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("task %s has no collaborator", t)}
		}
		for _, dep := range spec.DependsOn {
			if _, ok := catalog[dep]; !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("task %s depends on undeclared task %s", t, dep)}
			}
		}
	}

	// DFS with colors: 0 unvisited, 1 in progress, 2 done.
	colors := make(map[TaskType]int, len(catalog))
	var visit func(t TaskType) error
	visit = func(t TaskType) error {
		switch colors[t] {
		case 1:
			return &ConfigurationError{Reason: fmt.Sprintf("dependency cycle through task %s", t)}
		case 2:
			return nil
		}
		colors[t] = 1
		for _, dep := range catalog[t].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[t] = 2
		return nil
	}

	for t := range catalog {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}
