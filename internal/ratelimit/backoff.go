package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Backoff tracks 429 responses from a single host and tells callers how
// long to wait before trying that host again. Unlike Limiter, this is
// reactive: it does nothing until the remote end actually signals it is
// overloaded.
type Backoff struct {
	blockedUntil    atomic.Int64 // unix nanoseconds
	consecutiveHits atomic.Int32
	mu              sync.Mutex
}

func NewBackoff() *Backoff {
	return &Backoff{}
}

// Handle429 records a 429 response and returns how long callers should
// wait, preferring the server's Retry-After header over an exponential
// guess.
func (b *Backoff) Handle429(resp *http.Response) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	hits := b.consecutiveHits.Add(1)

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			wait := time.Duration(seconds) * time.Second
			b.setBlockedUntil(wait)
			return wait
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			wait := time.Until(t)
			if wait < 0 {
				wait = time.Second
			}
			b.setBlockedUntil(wait)
			return wait
		}
	}

	base := time.Second
	multiplier := int64(1) << min(int(hits-1), 5)
	wait := time.Duration(multiplier) * base
	if max := 60 * time.Second; wait > max {
		wait = max
	}
	b.setBlockedUntil(wait)
	return wait
}

func (b *Backoff) setBlockedUntil(d time.Duration) {
	target := time.Now().Add(d).UnixNano()
	for {
		current := b.blockedUntil.Load()
		if target <= current {
			return
		}
		if b.blockedUntil.CompareAndSwap(current, target) {
			return
		}
	}
}

// Wait blocks the caller's goroutine if the host is currently backed off.
func (b *Backoff) Wait() {
	until := b.blockedUntil.Load()
	if until == 0 {
		return
	}
	d := time.Until(time.Unix(0, until))
	if d > 0 {
		time.Sleep(d)
	}
}

// ReportSuccess clears the consecutive-hit counter after a clean response.
func (b *Backoff) ReportSuccess() {
	b.consecutiveHits.Store(0)
}

// Registry hands out one Backoff per host, shared across every download
// hitting that host so a 429 from one chunk worker throttles the rest.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Backoff
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Backoff)}
}

func (r *Registry) For(host string) *Backoff {
	r.mu.RLock()
	if b, ok := r.m[host]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.m[host]; ok {
		return b
	}
	b := NewBackoff()
	r.m[host] = b
	return b
}
