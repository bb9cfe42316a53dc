package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	cfg := Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		Window:           time.Minute,
	}
	b := New(cfg)

	require.NoError(t, b.Allow())
	assert.Equal(t, Closed, b.State())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State(), "should stay closed below the threshold")

	b.RecordFailure()
	assert.Equal(t, Open, b.State(), "should trip open once the threshold is reached")
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  20 * time.Millisecond,
		Window:           time.Minute,
	}
	b := New(cfg)

	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.ErrorIs(t, b.Allow(), ErrOpen)

	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	require.NoError(t, b.Allow(), "past the recovery timeout a trial request should be admitted")
	assert.Equal(t, HalfOpen, b.State())

	// A second concurrent trial is rejected while one is already in flight.
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State(), "one success is below SuccessThreshold")

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State(), "SuccessThreshold successes in HalfOpen close the breaker")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
		Window:           time.Minute,
	}
	b := New(cfg)

	b.RecordFailure()
	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)
	require.NoError(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, Open, b.State(), "a failure during the HalfOpen trial reopens the breaker immediately")
}

func TestBreakerPrunesOldFailuresOutsideWindow(t *testing.T) {
	cfg := Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
		Window:           20 * time.Millisecond,
	}
	b := New(cfg)

	b.RecordFailure()
	time.Sleep(cfg.Window + 10*time.Millisecond)
	b.RecordFailure()

	assert.Equal(t, Closed, b.State(), "a failure older than Window should not count toward the threshold")
}

func TestRegistryIsolatesCategoriesAndSnapshots(t *testing.T) {
	r := NewRegistry(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
		Window:           time.Minute,
	})

	r.For("network").RecordFailure()
	assert.Equal(t, Open, r.For("network").State())
	assert.Equal(t, Closed, r.For("external_service").State(), "categories must trip independently")

	snap := r.Snapshot()
	assert.Equal(t, "open", snap["network"])
	assert.Equal(t, "closed", snap["external_service"])
}
