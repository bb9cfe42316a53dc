// Package types holds the data model shared across the download engine:
// the chunk-addressable Task, size/timing constants, and the low-level
// per-download progress counters the chunked engine updates directly.
package types

import (
	"errors"
	"time"
)

// ErrPaused signals that a download stopped because Pause() was called,
// as distinct from an error or an external cancellation -- the caller
// should treat it as a successful suspension, not a failure.
var ErrPaused = errors.New("download paused")

// ErrCancelled signals that a download stopped because its context was
// cancelled outright (not paused) -- the caller must treat this as
// neither success nor failure but as the Cancelled terminal state, since
// no final file was produced at the destination path.
var ErrCancelled = errors.New("download cancelled")

const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Sizing and pacing constants used by the chunked resume engine. These
// mirror the tuning knobs a ConnectionSettings/ChunkSettings/Performance
// settings block exposes to the user; config.RuntimeConfig overrides them
// per download where the user has set an explicit preference.
const (
	AlignSize      = 4 * KB
	MinChunk       = 256 * KB
	TasksPerWorker = 4

	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration             = 30 * time.Second
	ProbeTimeout                  = 15 * time.Second

	HealthCheckInterval = 2 * time.Second
	RetryBaseDelay       = 250 * time.Millisecond

	IncompleteSuffix = ".part"
)

// Task describes a single byte-range unit of work: [Offset, Offset+Length).
// It is the unit the task queue schedules, the work-stealing balancer
// splits, and the resume sidecar persists.
type Task struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}
