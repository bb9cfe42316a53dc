// Package retry runs a caller-supplied attempt under a taxonomy.Category's
// policy: it classifies failures, consults the category's circuit
// breaker, sleeps a jittered exponential backoff between attempts, and
// gives up when the policy's max attempts or a non-retryable error is hit.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/riftdl/riftdl/internal/breaker"
	"github.com/riftdl/riftdl/internal/taxonomy"
)

// Stats accumulates retry counters per category, exposed on the /stats
// control-surface route.
type Stats struct {
	mu       sync.Mutex
	attempts map[taxonomy.Category]int64
	failures map[taxonomy.Category]int64
}

func NewStats() *Stats {
	return &Stats{
		attempts: make(map[taxonomy.Category]int64),
		failures: make(map[taxonomy.Category]int64),
	}
}

func (s *Stats) recordAttempt(c taxonomy.Category) {
	s.mu.Lock()
	s.attempts[c]++
	s.mu.Unlock()
}

func (s *Stats) recordFailure(c taxonomy.Category) {
	s.mu.Lock()
	s.failures[c]++
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the attempt/failure counters.
func (s *Stats) Snapshot() map[string][2]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][2]int64, len(s.attempts))
	for c, n := range s.attempts {
		out[string(c)] = [2]int64{n, s.failures[c]}
	}
	return out
}

// Executor runs attempts against a shared breaker registry and stats
// counter; one Executor is reused across every task in the process.
type Executor struct {
	breakers *breaker.Registry
	stats    *Stats
}

func NewExecutor(breakers *breaker.Registry, stats *Stats) *Executor {
	return &Executor{breakers: breakers, stats: stats}
}

// Attempt is the nullary, context-aware action the Executor retries.
type Attempt func(ctx context.Context, attemptNumber int) error

// ErrNonRetryable wraps a final error to signal it was classified
// non-retryable rather than having exhausted its attempt budget; callers
// that only care about "did it ultimately fail" can ignore the distinction.
var ErrNonRetryable = errors.New("non-retryable error")

// Do runs fn, retrying according to the policy of the category its error
// classifies into. It returns the last error encountered, or nil on
// success. Cancellation is honored at every sleep boundary.
func (e *Executor) Do(ctx context.Context, fn Attempt) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		category := taxonomy.System
		var br *breaker.Breaker

		if lastErr != nil {
			category = taxonomy.Classify(lastErr)
			policy := taxonomy.PolicyFor(category)
			if policy.BreakerEnabled && e.breakers != nil {
				br = e.breakers.For(string(category))
				if err := br.Allow(); err != nil {
					return lastErr
				}
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			if e.stats != nil {
				e.stats.recordAttempt(category)
			}
			if br != nil {
				br.RecordSuccess()
			}
			return nil
		}

		lastErr = err
		category = taxonomy.Classify(err)
		policy := taxonomy.PolicyFor(category)

		if policy.BreakerEnabled && e.breakers != nil {
			e.breakers.For(string(category)).RecordFailure()
		}
		if e.stats != nil {
			e.stats.recordAttempt(category)
			e.stats.recordFailure(category)
		}

		if !category.Retryable() {
			return fmt.Errorf("%w: %w", ErrNonRetryable, lastErr)
		}
		if attempt >= policy.MaxAttempts {
			return lastErr
		}

		delay := backoffDelay(policy, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay computes min(max_delay, base_delay * multiplier^(attempt-1))
// and, if the policy enables jitter, scales it by 1 + U(-factor, +factor).
func backoffDelay(p taxonomy.Policy, attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffMultiplier
	}
	if max := float64(p.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	if p.JitterEnabled && p.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * p.JitterFactor
		delay *= 1 + jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
