package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/domain"
)

func newTestRegistry(threshold int, cooldown time.Duration) (*Registry, *time.Time) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(Config{FailureThreshold: threshold, Cooldown: cooldown}, zap.NewNop())
	r.now = func() time.Time { return now }
	return r, &now
}

func failing(calls *int) func(ctx context.Context) (*domain.TaskResult, error) {
	return func(ctx context.Context) (*domain.TaskResult, error) {
		*calls++
		return nil, errors.New("boom")
	}
}

func succeeding(calls *int) func(ctx context.Context) (*domain.TaskResult, error) {
	return func(ctx context.Context) (*domain.TaskResult, error) {
		*calls++
		return &domain.TaskResult{}, nil
	}
}

func TestGuard_OpensAfterThresholdConsecutiveFailures(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := r.Guard(ctx, "cost-explorer", failing(&calls))
		require.Error(t, err)
		assert.False(t, IsCircuitOpen(err))
	}
	assert.Equal(t, StateOpen, r.CurrentState("cost-explorer"))

	// Subsequent calls fail fast without invoking the function.
	_, err := r.Guard(ctx, "cost-explorer", failing(&calls))
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 3, calls)
}

func TestGuard_SuccessResetsFailureCount(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)
	ctx := context.Background()

	calls := 0
	_, _ = r.Guard(ctx, "x", failing(&calls))
	_, _ = r.Guard(ctx, "x", failing(&calls))
	_, err := r.Guard(ctx, "x", succeeding(&calls))
	require.NoError(t, err)

	// Two more failures stay below the threshold again.
	_, _ = r.Guard(ctx, "x", failing(&calls))
	_, _ = r.Guard(ctx, "x", failing(&calls))
	assert.Equal(t, StateClosed, r.CurrentState("x"))
}

func TestGuard_CooldownAdmitsSingleProbe(t *testing.T) {
	r, now := newTestRegistry(2, time.Minute)
	ctx := context.Background()

	calls := 0
	_, _ = r.Guard(ctx, "x", failing(&calls))
	_, _ = r.Guard(ctx, "x", failing(&calls))
	require.Equal(t, StateOpen, r.CurrentState("x"))

	// Before the cooldown elapses: fail fast.
	*now = now.Add(30 * time.Second)
	_, err := r.Guard(ctx, "x", succeeding(&calls))
	require.True(t, IsCircuitOpen(err))
	assert.Equal(t, 2, calls)

	// After the cooldown: exactly one probe goes through and closes the circuit.
	*now = now.Add(31 * time.Second)
	_, err = r.Guard(ctx, "x", succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateClosed, r.CurrentState("x"))
}

func TestGuard_FailedProbeReopensAndRestartsCooldown(t *testing.T) {
	r, now := newTestRegistry(2, time.Minute)
	ctx := context.Background()

	calls := 0
	_, _ = r.Guard(ctx, "x", failing(&calls))
	_, _ = r.Guard(ctx, "x", failing(&calls))

	*now = now.Add(2 * time.Minute)
	_, err := r.Guard(ctx, "x", failing(&calls))
	require.Error(t, err)
	assert.False(t, IsCircuitOpen(err), "probe failure is the function's own error")
	assert.Equal(t, StateOpen, r.CurrentState("x"))

	// Cooldown restarted from the probe failure: still fast-failing.
	*now = now.Add(30 * time.Second)
	_, err = r.Guard(ctx, "x", succeeding(&calls))
	assert.True(t, IsCircuitOpen(err))

	*now = now.Add(31 * time.Second)
	_, err = r.Guard(ctx, "x", succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, r.CurrentState("x"))
}

func TestGuard_HalfOpenBlocksConcurrentProbe(t *testing.T) {
	r, now := newTestRegistry(1, time.Minute)
	ctx := context.Background()

	calls := 0
	_, _ = r.Guard(ctx, "x", failing(&calls))
	*now = now.Add(2 * time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := r.Guard(ctx, "x", func(ctx context.Context) (*domain.TaskResult, error) {
			close(probeStarted)
			<-release
			return &domain.TaskResult{}, nil
		})
		done <- err
	}()

	<-probeStarted
	_, err := r.Guard(ctx, "x", succeeding(&calls))
	assert.True(t, IsCircuitOpen(err), "second probe rejected while first in flight")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, r.CurrentState("x"))
}

func TestGuard_CircuitsAreIndependentPerCollaborator(t *testing.T) {
	r, _ := newTestRegistry(1, time.Minute)
	ctx := context.Background()

	calls := 0
	_, _ = r.Guard(ctx, "bad", failing(&calls))
	require.Equal(t, StateOpen, r.CurrentState("bad"))

	_, err := r.Guard(ctx, "good", succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, r.CurrentState("good"))
}
