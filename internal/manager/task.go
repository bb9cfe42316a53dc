// Package manager implements the Download Manager: the task registry,
// priority scheduler, and lifecycle state machine every submitted download
// passes through on its way to a protocol.Downloader. It owns the registry
// lock exclusively -- the chunked engine and protocol downloaders borrow a
// task's id and shared state to drive it, but never mutate Status directly.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/riftdl/riftdl/internal/protocol"
	"github.com/riftdl/riftdl/internal/types"
)

// Status is a task's lifecycle state, per the state machine in §4.1:
// Pending -> Downloading -> {Completed, Paused, Cancelled, Failed}, with
// Paused -> Pending (via Resume) and Failed -> Pending (via RetryFailed or
// StartAll) the only ways back; a task not yet terminal can also be
// cancelled directly from Pending or Paused.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Task is one submission's full lifecycle record. Scalar fields mutated
// after creation are guarded by mu; CreatedAt, ID, URL and Priority are
// set once and read without it, including by the priority queue.
type Task struct {
	ID        string
	URL       string
	Mirrors   []string
	OutputDir string
	Priority  int
	CreatedAt time.Time

	mu              sync.Mutex
	Title           string
	DestPath        string
	Status          Status
	Kind            protocol.Kind
	UpdatedAt       time.Time
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64
	ETASeconds      float64
	LastError       string

	state  *types.ProgressState
	cancel context.CancelFunc

	// heapIndex is maintained by container/heap; -1 when not queued.
	heapIndex int
}

func newTask(id, rawurl, outputDir string, mirrors []string, priority int, now time.Time) *Task {
	return &Task{
		ID:        id,
		URL:       rawurl,
		Mirrors:   mirrors,
		OutputDir: outputDir,
		Priority:  priority,
		CreatedAt: now,
		Status:    StatusPending,
		UpdatedAt: now,
		heapIndex: -1,
	}
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.Status = s
	t.UpdatedAt = time.Now()
	t.mu.Unlock()
}

func (t *Task) getStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

func (t *Task) setError(msg string) {
	t.mu.Lock()
	t.LastError = msg
	t.mu.Unlock()
}

// Snapshot is the read-only view get_tasks and get_stats hand external
// callers -- a value copy, safe to use after the registry lock is released.
type Snapshot struct {
	ID              string
	URL             string
	DestPath        string
	Title           string
	Status          Status
	Priority        int
	Kind            protocol.Kind
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DownloadedBytes int64
	TotalBytes      int64
	Progress        float64
	Speed           float64
	ETASeconds      float64
	LastError       string
}

func (t *Task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var progress float64
	if t.TotalBytes > 0 {
		progress = float64(t.DownloadedBytes) / float64(t.TotalBytes)
	}

	return Snapshot{
		ID:              t.ID,
		URL:             t.URL,
		DestPath:        t.DestPath,
		Title:           t.Title,
		Status:          t.Status,
		Priority:        t.Priority,
		Kind:            t.Kind,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		DownloadedBytes: t.DownloadedBytes,
		TotalBytes:      t.TotalBytes,
		Progress:        progress,
		Speed:           t.Speed,
		ETASeconds:      t.ETASeconds,
		LastError:       t.LastError,
	}
}
