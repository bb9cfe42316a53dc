// Package ratelimit provides the two independent rate-limiting concerns a
// chunked download needs: a global bandwidth ceiling shared by every active
// transfer (Limiter, backed by golang.org/x/time/rate), and a per-host 429
// backoff tracker (Backoff) that reacts to explicit rate-limit responses
// from a remote server.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter is a global, FIFO-fair byte-budget token bucket. A rate of 0
// means unlimited: Reader skips the limiter entirely rather than paying
// for a no-op Wait on every read.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a limiter admitting bytesPerSec bytes/sec on average,
// with a burst equal to one second of traffic so a newly started chunk
// isn't starved waiting for the bucket to refill from empty.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}
	burst := int(bytesPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// SetLimit changes the bandwidth ceiling at runtime; 0 disables limiting.
func (l *Limiter) SetLimit(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		l.rl = nil
		return
	}
	burst := int(bytesPerSec)
	if burst < 1 {
		burst = 1
	}
	if l.rl == nil {
		l.rl = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
		return
	}
	l.rl.SetLimit(rate.Limit(bytesPerSec))
	l.rl.SetBurst(burst)
}

// WaitN blocks, honoring ctx, until n bytes' worth of budget is available.
// n is clamped to the bucket's burst size since rate.Limiter.WaitN rejects
// requests larger than the burst.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil || l.rl == nil || n <= 0 {
		return nil
	}
	burst := l.rl.Burst()
	for n > burst {
		if err := l.rl.WaitN(ctx, burst); err != nil {
			return err
		}
		n -= burst
	}
	if n > 0 {
		return l.rl.WaitN(ctx, n)
	}
	return nil
}

// reader wraps an io.Reader so every Read is metered against the shared
// bandwidth limiter before the caller sees the bytes.
type reader struct {
	ctx context.Context
	r   io.Reader
	lim *Limiter
}

// NewReader wraps r so reads are paced by lim. A nil or unlimited Limiter
// makes this a pass-through.
func NewReader(ctx context.Context, r io.Reader, lim *Limiter) io.Reader {
	if lim == nil || lim.rl == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, lim: lim}
}

func (m *reader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		if werr := m.lim.WaitN(m.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
