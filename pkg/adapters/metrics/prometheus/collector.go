package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements the orchestration MetricsCollector on Prometheus.
type Collector struct {
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	tasksTotal         *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	retriesTotal       *prometheus.CounterVec
	circuitOpensTotal  *prometheus.CounterVec
	checkpointFailures prometheus.Counter
	activeExecutions   prometheus.Gauge
}

// NewCollector creates and registers the orchestration metrics.
func NewCollector() *Collector {
	return &Collector{
		executionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwise_executions_total",
				Help: "Total number of optimization executions",
			},
			[]string{"status"},
		),
		executionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "costwise_execution_duration_seconds",
				Help:    "End to end execution duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
			},
			[]string{"status"},
		),
		tasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwise_tasks_total",
				Help: "Total number of tasks by type and terminal status",
			},
			[]string{"task_type", "status"},
		),
		taskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "costwise_task_duration_seconds",
				Help:    "Task duration in seconds, retries included",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"task_type"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwise_retries_total",
				Help: "Total number of collector call retries",
			},
			[]string{"collaborator"},
		),
		circuitOpensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwise_circuit_opens_total",
				Help: "Total number of circuit breaker open transitions",
			},
			[]string{"collaborator"},
		),
		checkpointFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "costwise_checkpoint_failures_total",
				Help: "Total number of failed snapshot writes",
			},
		),
		activeExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "costwise_active_executions",
				Help: "Number of currently active executions",
			},
		),
	}
}

// RecordExecution records one finished execution.
func (c *Collector) RecordExecution(status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTask records one task reaching a terminal status.
func (c *Collector) RecordTask(taskType, status string, duration time.Duration) {
	c.tasksTotal.WithLabelValues(taskType, status).Inc()
	if duration > 0 {
		c.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	}
}

// RecordRetry records one retry of a collector call.
func (c *Collector) RecordRetry(collaborator string) {
	c.retriesTotal.WithLabelValues(collaborator).Inc()
}

// RecordCircuitOpen records a circuit transitioning to open.
func (c *Collector) RecordCircuitOpen(collaborator string) {
	c.circuitOpensTotal.WithLabelValues(collaborator).Inc()
}

// RecordCheckpointFailure records a failed snapshot write.
func (c *Collector) RecordCheckpointFailure() {
	c.checkpointFailures.Inc()
}

// SetActiveExecutions sets the active execution gauge.
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}
