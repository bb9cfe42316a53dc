package ratelimit

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterZeroIsUnlimited(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	require.NoError(t, l.WaitN(context.Background(), 10*1024*1024))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterEnforcesApproximateTiming(t *testing.T) {
	// 1000 bytes/sec, burst of 1000: the bucket starts full, so the first
	// WaitN(1000) is free, but a second back-to-back WaitN(1000) must wait
	// roughly one second for the bucket to refill.
	l := NewLimiter(1000)

	require.NoError(t, l.WaitN(context.Background(), 1000))

	start := time.Now()
	require.NoError(t, l.WaitN(context.Background(), 1000))
	elapsed := time.Since(start)

	assert.Greaterf(t, elapsed, 800*time.Millisecond, "second WaitN should be throttled to ~1s, took %s", elapsed)
	assert.Lessf(t, elapsed, 1500*time.Millisecond, "second WaitN should not be throttled far beyond ~1s, took %s", elapsed)
}

func TestLimiterWaitNClampsToBurst(t *testing.T) {
	// n far larger than the burst must be split into burst-sized waits
	// rather than rejected outright by the underlying rate.Limiter (which
	// errors if asked to wait for more than its burst in one call).
	l := NewLimiter(10) // burst 10
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, l.WaitN(ctx, 25))
}

func TestLimiterSetLimitDisablesAndReenables(t *testing.T) {
	l := NewLimiter(1000)
	l.SetLimit(0)

	start := time.Now()
	require.NoError(t, l.WaitN(context.Background(), 10_000_000))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "SetLimit(0) must disable limiting")

	l.SetLimit(1000)
	require.NoError(t, l.WaitN(context.Background(), 1000))
	start = time.Now()
	require.NoError(t, l.WaitN(context.Background(), 1000))
	assert.Greater(t, time.Since(start), 400*time.Millisecond, "SetLimit must re-enable throttling")
}

func TestLimiterWaitNHonorsContextCancellation(t *testing.T) {
	l := NewLimiter(1)
	// Drain the single-byte-per-second bucket so the next WaitN blocks.
	require.NoError(t, l.WaitN(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WaitN(ctx, 1)
	assert.Error(t, err)
}

func TestNewReaderPassthroughWhenUnlimited(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	r := NewReader(context.Background(), src, nil)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestNewReaderMetersReads(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 2000)
	src := bytes.NewReader(payload)
	l := NewLimiter(1000) // burst 1000, so reading all 2000 bytes needs a refill wait
	r := NewReader(context.Background(), src, l)

	start := time.Now()
	out, err := io.ReadAll(r)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Greaterf(t, elapsed, 300*time.Millisecond, "reading 2x the burst size should be metered, took %s", elapsed)
}
