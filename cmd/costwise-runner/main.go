package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/application/orchestrator"
	"github.com/costwise/costwise/internal/config"
	"github.com/costwise/costwise/internal/domain"
	eventsmemory "github.com/costwise/costwise/pkg/adapters/events/memory"
	"github.com/costwise/costwise/pkg/adapters/storage/memory"
	"github.com/costwise/costwise/pkg/collectors/stub"
)

// taskSets are the named selections an operator can run. Each is also
// addressable by its 1-based position in this list.
var taskSets = []struct {
	name  string
	tasks []domain.TaskType
}{
	{"all", domain.AllTaskTypes()},
	{"inventory", []domain.TaskType{domain.TaskInventory}},
	{"cost", []domain.TaskType{domain.TaskCost}},
	{"metrics", []domain.TaskType{domain.TaskMetrics}},
	{"forecast", []domain.TaskType{domain.TaskForecast}},
	{"recommendations", []domain.TaskType{domain.TaskRecommendations}},
}

func main() {
	var (
		selector = flag.String("tasks", "all", "task set to run: a name or its number")
		account  = flag.String("account", "local", "account id for the run")
		delay    = flag.Duration("delay", 100*time.Millisecond, "simulated collector latency")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Usage = usage
	flag.Parse()

	tasks, err := resolveTaskSet(*selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	registry := orchestrator.NewRegistry()
	for _, spec := range domain.Catalog() {
		registry.Register(spec.Collaborator, stub.New(spec.Collaborator, *delay))
	}

	entryPoint, err := orchestrator.NewEntryPoint(orchestrator.EntryPointConfig{
		Config:    cfg,
		Registry:  registry,
		Snapshots: memory.NewStore(),
		Blobs:     memory.NewStore(),
		Events:    eventsmemory.NewBus(),
		Metrics:   noopMetrics{},
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid task catalog: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = string(t)
	}
	body, _ := json.Marshal(map[string]interface{}{"tasks": names, "source": "runner"})

	resp := entryPoint.Handle(context.Background(), orchestrator.Request{
		Method:    "POST",
		Body:      body,
		AccountID: *account,
	})

	if resp.StatusCode != 200 {
		fmt.Fprintf(os.Stderr, "run failed (%d): %s\n", resp.StatusCode, resp.Body)
		os.Exit(1)
	}

	var pretty json.RawMessage = []byte(resp.Body)
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(resp.Body)
		return
	}
	fmt.Println(string(out))
}

// resolveTaskSet accepts either a set name or its 1-based number.
func resolveTaskSet(selector string) ([]domain.TaskType, error) {
	if n, err := strconv.Atoi(selector); err == nil {
		if n < 1 || n > len(taskSets) {
			return nil, fmt.Errorf("task set number out of range: %d", n)
		}
		return taskSets[n-1].tasks, nil
	}
	for _, set := range taskSets {
		if set.name == selector {
			return set.tasks, nil
		}
	}
	return nil, fmt.Errorf("unknown task set: %s", selector)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: costwise-runner [flags]\n\nTask sets:\n")
	for i, set := range taskSets {
		fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, set.name)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

// noopMetrics discards metrics; the runner has no scrape endpoint.
type noopMetrics struct{}

func (noopMetrics) RecordExecution(status string, duration time.Duration)      {}
func (noopMetrics) RecordTask(taskType, status string, duration time.Duration) {}
func (noopMetrics) RecordRetry(collaborator string)                            {}
func (noopMetrics) RecordCircuitOpen(collaborator string)                      {}
func (noopMetrics) RecordCheckpointFailure()                                   {}
func (noopMetrics) SetActiveExecutions(count int)                              {}
