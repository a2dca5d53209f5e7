package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/breaker"
	"github.com/costwise/costwise/internal/domain"
)

// Policy configures retry behaviour for a single unit of work.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so a
	// call makes at most MaxRetries+1 attempts in total.
	MaxRetries int

	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter randomizes each delay within +/-50% when enabled.
	Jitter bool

	// IsRetryable classifies errors; a nil predicate retries everything.
	IsRetryable func(error) bool
}

// ProviderAPIPolicy is the preset for provider-API-style transient
// failures: throttling, timeouts and transient connection errors are
// retried; auth, not-found and validation errors fail immediately.
// An open circuit also fails immediately so retries against a known-bad
// collaborator cannot exhaust the shared time budget.
func ProviderAPIPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		IsRetryable: func(err error) bool {
			if breaker.IsCircuitOpen(err) {
				return false
			}
			return domain.IsTransient(err)
		},
	}
}

// Handler retries a single unit of work with exponential backoff.
type Handler struct {
	logger *zap.Logger
	rand   *rand.Rand

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHandler creates a retry handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
}

// Fn is one attempt of the wrapped unit of work.
type Fn func(ctx context.Context) (*domain.TaskResult, error)

// Do runs fn under the policy, returning the first success or the last
// error after MaxRetries+1 attempts. A non-retryable error stops on its
// first occurrence. onAttempt, when non-nil, is called before every
// attempt with the 1-based attempt number.
func (h *Handler) Do(ctx context.Context, policy Policy, fn Fn, onAttempt func(attempt int)) (*domain.TaskResult, error) {
	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt + 1)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.IsRetryable != nil && !policy.IsRetryable(err) {
			h.logger.Debug("error not retryable",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := h.delayFor(policy, attempt)
		h.logger.Debug("retrying after backoff",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := h.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// delayFor computes min(MaxDelay, BaseDelay * Multiplier^attempt),
// optionally jittered within +/-50%.
func (h *Handler) delayFor(policy Policy, attempt int) time.Duration {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter && delay > 0 {
		// Uniform in [delay/2, delay].
		delay = delay/2 + h.rand.Float64()*delay/2
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
