package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/ports"
)

// CollaboratorStatus is one collaborator's last observed health.
type CollaboratorStatus struct {
	Collaborator string    `json:"collaborator"`
	Healthy      bool      `json:"healthy"`
	Error        string    `json:"error,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Monitor periodically probes every registered collector and caches the
// results for the health endpoint. Probes never block request handling.
type Monitor struct {
	collectors map[string]ports.Collector
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	status  map[string]CollaboratorStatus
	running bool
	stopCh  chan struct{}
}

// NewMonitor creates a health monitor over the given collaborators.
func NewMonitor(collectors map[string]ports.Collector, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		collectors: collectors,
		interval:   interval,
		timeout:    5 * time.Second,
		logger:     logger,
		status:     make(map[string]CollaboratorStatus),
		stopCh:     make(chan struct{}),
	}
}

// Start begins periodic probing. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run()
}

// Stop halts probing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
}

func (m *Monitor) run() {
	m.probeAll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *Monitor) probeAll() {
	for collaborator, collector := range m.collectors {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := collector.HealthCheck(ctx)
		cancel()

		status := CollaboratorStatus{
			Collaborator: collaborator,
			Healthy:      err == nil,
			CheckedAt:    time.Now(),
		}
		if err != nil {
			status.Error = err.Error()
			m.logger.Warn("collaborator health check failed",
				zap.String("collaborator", collaborator),
				zap.Error(err))
		}

		m.mu.Lock()
		m.status[collaborator] = status
		m.mu.Unlock()
	}
}

// Status returns the last observed status per collaborator.
func (m *Monitor) Status() map[string]CollaboratorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CollaboratorStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// Healthy reports whether every probed collaborator is healthy. An
// unprobed monitor reports healthy so startup is not blocked on the
// first probe cycle.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.status {
		if !s.Healthy {
			return false
		}
	}
	return true
}
