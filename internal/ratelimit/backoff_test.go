package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffHandle429RetryAfterSeconds(t *testing.T) {
	b := NewBackoff()
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"2"}}}

	wait := b.Handle429(resp)
	assert.Equal(t, 2*time.Second, wait)
}

func TestBackoffHandle429RetryAfterHTTPDate(t *testing.T) {
	b := NewBackoff()
	target := time.Now().UTC().Add(3 * time.Second)
	resp := &http.Response{Header: http.Header{"Retry-After": []string{target.Format(http.TimeFormat)}}}

	wait := b.Handle429(resp)
	assert.InDelta(t, 3*time.Second, wait, float64(time.Second))
}

func TestBackoffHandle429ExponentialWithoutRetryAfter(t *testing.T) {
	b := NewBackoff()
	resp := &http.Response{Header: http.Header{}}

	assert.Equal(t, 1*time.Second, b.Handle429(resp))
	assert.Equal(t, 2*time.Second, b.Handle429(resp))
	assert.Equal(t, 4*time.Second, b.Handle429(resp))
}

func TestBackoffExponentialCapsAt60s(t *testing.T) {
	b := NewBackoff()
	resp := &http.Response{Header: http.Header{}}

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.Handle429(resp)
	}
	assert.LessOrEqual(t, last, 60*time.Second)
}

func TestBackoffReportSuccessResetsCounter(t *testing.T) {
	b := NewBackoff()
	resp := &http.Response{Header: http.Header{}}

	b.Handle429(resp)
	b.Handle429(resp)
	b.ReportSuccess()

	assert.Equal(t, 1*time.Second, b.Handle429(resp), "after ReportSuccess the next 429 should start the backoff over")
}

// TestBackoffWaitEnforcesTiming grounds the "rate-limit-enforcement-timing"
// scenario: Wait must actually block the caller until the recorded
// blockedUntil deadline passes, not merely report it.
func TestBackoffWaitEnforcesTiming(t *testing.T) {
	b := NewBackoff()
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"1"}}}
	b.Handle429(resp)

	start := time.Now()
	b.Wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestBackoffWaitReturnsImmediatelyWhenNotBlocked(t *testing.T) {
	b := NewBackoff()
	start := time.Now()
	b.Wait()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRegistryIsolatesHostsAndReusesInstances(t *testing.T) {
	r := NewRegistry()
	a := r.For("host-a")
	b := r.For("host-a")
	require.Same(t, a, b, "the same host must always get the same Backoff instance")

	c := r.For("host-b")
	resp := &http.Response{Header: http.Header{}}
	a.Handle429(resp)
	a.Handle429(resp)

	assert.Equal(t, 1*time.Second, c.Handle429(resp), "a different host's backoff must be independent")
}
