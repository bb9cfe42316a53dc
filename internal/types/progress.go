package types

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressState is the set of low-level, lock-light counters the chunked
// engine updates on every read: bytes downloaded, active worker count, and
// the pause/done/error flags that drive the state machine. It is shared by
// pointer between the manager, the chunked engine, and the stats tracker.
type ProgressState struct {
	ID            string
	Downloaded    atomic.Int64
	TotalSize     int64
	StartTime     time.Time
	ActiveWorkers atomic.Int32
	Done          atomic.Bool
	Error         atomic.Pointer[error]
	Paused        atomic.Bool
	pausing       atomic.Bool
	CancelFunc    context.CancelFunc

	// SavedElapsed is the accumulated run time from prior sessions, restored
	// on resume so the ETA/average-speed calculations don't reset to zero.
	SavedElapsed time.Duration

	SessionStartBytes int64      // bytes already downloaded when the current session started
	mu                sync.Mutex // protects TotalSize, StartTime, SessionStartBytes, SavedElapsed
}

func NewProgressState(id string, totalSize int64) *ProgressState {
	return &ProgressState{
		ID:        id,
		TotalSize: totalSize,
		StartTime: time.Now(),
	}
}

func (ps *ProgressState) SetTotalSize(size int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.TotalSize = size
	ps.SessionStartBytes = ps.Downloaded.Load()
	ps.StartTime = time.Now()
}

func (ps *ProgressState) SyncSessionStart() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.SessionStartBytes = ps.Downloaded.Load()
	ps.StartTime = time.Now()
}

func (ps *ProgressState) SetSavedElapsed(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.SavedElapsed = d
}

func (ps *ProgressState) SetError(err error) {
	ps.Error.Store(&err)
}

func (ps *ProgressState) GetError() error {
	if e := ps.Error.Load(); e != nil {
		return *e
	}
	return nil
}

// GetProgress returns the downloaded/total bytes, session elapsed time,
// active connection count, and the session-start byte offset used to
// exclude resumed bytes from the current session's speed calculation.
func (ps *ProgressState) GetProgress() (downloaded int64, total int64, elapsed time.Duration, connections int32, sessionStartBytes int64) {
	downloaded = ps.Downloaded.Load()
	connections = ps.ActiveWorkers.Load()

	ps.mu.Lock()
	total = ps.TotalSize
	elapsed = time.Since(ps.StartTime) + ps.SavedElapsed
	sessionStartBytes = ps.SessionStartBytes
	ps.mu.Unlock()
	return
}

func (ps *ProgressState) Pause() {
	ps.Paused.Store(true)
	if ps.CancelFunc != nil {
		ps.CancelFunc()
	}
}

func (ps *ProgressState) Resume() {
	ps.Paused.Store(false)
}

func (ps *ProgressState) IsPaused() bool {
	return ps.Paused.Load()
}

// SetPausing/IsPausing mark the transition window between a pause request
// and the worker goroutines actually exiting and flushing resume state, so
// a concurrent Resume doesn't race the sidecar write.
func (ps *ProgressState) SetPausing(v bool) {
	ps.pausing.Store(v)
}

func (ps *ProgressState) IsPausing() bool {
	return ps.pausing.Load()
}
