package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/domain"
)

// State is the circuit state for one collaborator.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Guard without invoking the wrapped
// function while a collaborator's circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// IsCircuitOpen reports whether err originates from an open circuit.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// Config holds circuit breaker thresholds.
type Config struct {
	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before admitting a probe.
	Cooldown time.Duration
}

// DefaultConfig matches provider API behaviour: open after 5 consecutive
// failures, probe again after 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// circuit tracks one collaborator's state.
type circuit struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// Registry holds per-collaborator circuits for one invocation. State is
// scoped to the process lifetime and not shared across invocations.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	circuits map[string]*circuit

	// now is replaceable in tests.
	now func() time.Time

	onOpen func(collaborator string)
}

// NewRegistry creates a circuit breaker registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// OnOpen registers a callback invoked whenever a circuit transitions to
// open, for metrics.
func (r *Registry) OnOpen(fn func(collaborator string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpen = fn
}

// Guard runs fn against the collaborator's circuit. While the circuit is
// open and the cooldown has not elapsed, Guard fails immediately with
// ErrCircuitOpen without invoking fn. After the cooldown exactly one
// probe call is admitted; its success closes the circuit, its failure
// reopens it and restarts the cooldown.
func (r *Registry) Guard(ctx context.Context, collaborator string, fn func(ctx context.Context) (*domain.TaskResult, error)) (*domain.TaskResult, error) {
	if err := r.allow(collaborator); err != nil {
		return nil, err
	}

	result, err := fn(ctx)
	if err != nil {
		r.recordFailure(collaborator)
		return nil, err
	}
	r.recordSuccess(collaborator)
	return result, nil
}

// CurrentState returns the collaborator's circuit state.
func (r *Registry) CurrentState(collaborator string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(collaborator).state
}

// allow decides whether a call may proceed, transitioning open circuits
// to half-open once the cooldown has elapsed.
func (r *Registry) allow(collaborator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(collaborator)
	switch c.state {
	case StateClosed:
		return nil

	case StateOpen:
		if r.now().Sub(c.openedAt) < r.cfg.Cooldown {
			return fmt.Errorf("collaborator %s: %w", collaborator, ErrCircuitOpen)
		}
		c.state = StateHalfOpen
		c.probeInFlight = true
		r.logger.Info("circuit half-open, admitting probe",
			zap.String("collaborator", collaborator))
		return nil

	case StateHalfOpen:
		if c.probeInFlight {
			return fmt.Errorf("collaborator %s: probe in flight: %w", collaborator, ErrCircuitOpen)
		}
		c.probeInFlight = true
		return nil
	}
	return nil
}

func (r *Registry) recordSuccess(collaborator string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(collaborator)
	if c.state == StateHalfOpen {
		r.logger.Info("circuit closed after successful probe",
			zap.String("collaborator", collaborator))
	}
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.probeInFlight = false
}

func (r *Registry) recordFailure(collaborator string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(collaborator)
	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = r.now()
		c.probeInFlight = false
		r.logger.Warn("probe failed, circuit reopened",
			zap.String("collaborator", collaborator))
		r.notifyOpen(collaborator)

	default:
		c.consecutiveFailures++
		if c.consecutiveFailures >= r.cfg.FailureThreshold && c.state != StateOpen {
			c.state = StateOpen
			c.openedAt = r.now()
			r.logger.Warn("circuit opened",
				zap.String("collaborator", collaborator),
				zap.Int("consecutive_failures", c.consecutiveFailures))
			r.notifyOpen(collaborator)
		}
	}
}

// notifyOpen runs the onOpen callback; callers hold r.mu.
func (r *Registry) notifyOpen(collaborator string) {
	if r.onOpen != nil {
		go r.onOpen(collaborator)
	}
}

// get returns the circuit for a collaborator, creating it closed.
func (r *Registry) get(collaborator string) *circuit {
	c, ok := r.circuits[collaborator]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[collaborator] = c
	}
	return c
}
