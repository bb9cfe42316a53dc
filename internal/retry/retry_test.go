package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdl/riftdl/internal/breaker"
	"github.com/riftdl/riftdl/internal/taxonomy"
)

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	stats := NewStats()
	exec := NewExecutor(breaker.NewRegistry(breaker.DefaultConfig()), stats)

	boom := &taxonomy.TypedError{Category: taxonomy.Authentication, Err: errors.New("401 unauthorized")}
	var calls int
	err := exec.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, taxonomy.PolicyFor(taxonomy.Authentication).MaxAttempts, calls,
		"Do must stop exactly at the category's MaxAttempts")

	snap := stats.Snapshot()
	attempts, failures := snap[string(taxonomy.Authentication)][0], snap[string(taxonomy.Authentication)][1]
	assert.Equal(t, int64(calls), attempts)
	assert.Equal(t, int64(calls), failures)
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	exec := NewExecutor(breaker.NewRegistry(breaker.DefaultConfig()), NewStats())

	var calls int
	err := exec.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 2 {
			return &taxonomy.TypedError{Category: taxonomy.Protocol, Err: errors.New("temporary glitch")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoNonRetryableCategoryStopsAfterOneAttempt(t *testing.T) {
	exec := NewExecutor(breaker.NewRegistry(breaker.DefaultConfig()), NewStats())

	var calls int
	err := exec.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return &taxonomy.TypedError{Category: taxonomy.Configuration, Err: errors.New("bad config")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "Configuration has MaxAttempts=1, so Do must not retry it")
}

func TestDoShortCircuitsWhenBreakerAlreadyOpen(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1, SuccessThreshold: 1,
		RecoveryTimeout: time.Hour, Window: time.Hour,
	})
	// Trip the network breaker before Do ever runs.
	breakers.For(string(taxonomy.Network)).RecordFailure()
	require.Equal(t, breaker.Open, breakers.For(string(taxonomy.Network)).State())

	exec := NewExecutor(breakers, NewStats())

	var calls int
	err := exec.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return &taxonomy.TypedError{Category: taxonomy.Network, Err: errors.New("connection refused")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls,
		"the first attempt always runs (its category is unknown until it fails); the breaker should block the retry, not the initial call")
}

func TestDoHonorsContextCancellationDuringBackoff(t *testing.T) {
	exec := NewExecutor(breaker.NewRegistry(breaker.DefaultConfig()), NewStats())

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := exec.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return &taxonomy.TypedError{Category: taxonomy.Network, Err: errors.New("timeout")}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during the backoff sleep must stop further attempts")
}
