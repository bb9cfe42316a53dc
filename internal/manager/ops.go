package manager

import (
	"container/heap"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/history"
	"github.com/riftdl/riftdl/internal/progress"
	"github.com/riftdl/riftdl/internal/protocol"
	"github.com/riftdl/riftdl/internal/types"
)

// Submission is one entry of an AddBatch call.
type Submission struct {
	URL       string
	OutputDir string
	Priority  int
	Mirrors   []string
}

// BatchResult is AddBatch's per-entry outcome; Err is nil on success.
type BatchResult struct {
	ID      string
	Created bool
	Err     error
}

// AddTask validates and admits one submission, returning the id of an
// existing non-terminal task with the same (url, output_dir) instead of
// creating a duplicate.
func (m *Manager) AddTask(rawurl, outputDir string, priority int) (string, bool, error) {
	return m.addTask(rawurl, outputDir, priority, nil)
}

func (m *Manager) addTask(rawurl, outputDir string, priority int, mirrors []string) (string, bool, error) {
	u, err := url.Parse(rawurl)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false, fmt.Errorf("%w: %s", ErrInvalidURL, rawurl)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", false, fmt.Errorf("manager: output dir not writable: %w", err)
	}

	key := dedupKey(rawurl, outputDir)

	m.mu.Lock()
	if existingID, ok := m.dedup[key]; ok {
		if existing, ok := m.tasks[existingID]; ok && !isTerminal(existing.getStatus()) {
			m.mu.Unlock()
			return existingID, false, nil
		}
	}

	id := uuid.New().String()
	t := newTask(id, rawurl, outputDir, mirrors, priority, time.Now())
	t.Kind = protocol.Classify(rawurl, m.extractors)
	m.tasks[id] = t
	m.dedup[key] = id
	heap.Push(&m.queue, t)
	m.mu.Unlock()

	m.wake()
	return id, true, nil
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AddBatch admits every submission independently; one entry's failure does
// not prevent the rest from being admitted.
func (m *Manager) AddBatch(subs []Submission) []BatchResult {
	out := make([]BatchResult, len(subs))
	for i, s := range subs {
		id, created, err := m.addTask(s.URL, s.OutputDir, s.Priority, s.Mirrors)
		out[i] = BatchResult{ID: id, Created: created, Err: err}
	}
	return out
}

// Start admits id into the scheduler queue if it is Pending and has
// somehow fallen out of it; a Pending task already queued (the normal
// case, since AddTask queues immediately) is a no-op.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownTask
	}
	if t.getStatus() != StatusPending {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if t.heapIndex < 0 {
		heap.Push(&m.queue, t)
	}
	m.mu.Unlock()
	m.wake()
	return nil
}

// Pause suspends an actively downloading task. Only HTTP tasks (the only
// protocol variant whose downloader persists a resume sidecar) can pause;
// anything else returns ErrPauseUnsupported.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusDownloading {
		return ErrInvalidTransition
	}
	if t.Kind != protocol.KindHTTP {
		return ErrPauseUnsupported
	}
	if t.state == nil || t.state.IsPausing() || t.state.IsPaused() {
		return nil
	}
	t.state.SetPausing(true)
	t.state.Pause()
	return nil
}

// Resume re-admits a Paused task into the scheduler queue as Pending; the
// downloader's own sidecar lookup picks up where the task left off.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}

	t.mu.Lock()
	if t.Status != StatusPaused {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	if t.state != nil && t.state.IsPausing() {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	t.Status = StatusPending
	t.UpdatedAt = time.Now()
	if t.state != nil {
		t.state.Resume()
	}
	t.mu.Unlock()

	m.mu.Lock()
	heap.Push(&m.queue, t)
	m.mu.Unlock()
	m.wake()
	return nil
}

// Cancel aborts id from any non-terminal state. A queued-but-not-started
// task is dropped from the heap directly; an active task is cancelled via
// its context and lands in Cancelled once its goroutine observes it.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownTask
	}

	t.mu.Lock()
	status := t.Status
	cancel := t.cancel
	t.mu.Unlock()

	if isTerminal(status) {
		m.mu.Unlock()
		return ErrInvalidTransition
	}

	if status == StatusDownloading {
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	// Pending (possibly still queued) or Paused: neither has a running
	// goroutine to observe a context cancellation, so transition directly.
	if t.heapIndex >= 0 {
		heap.Remove(&m.queue, t.heapIndex)
	}
	m.mu.Unlock()

	t.mu.Lock()
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	t.mu.Unlock()

	// The resume sidecar (if this task was Paused) survives a cancel --
	// only Remove deletes it, so a cancelled task can still be resumed by
	// re-adding the same url/output_dir.
	if pt := m.progress.Get(id); pt != nil {
		pt.SetStatus(progress.StatusCanceled)
		m.progress.Publish(id, pt.Snapshot(0), true)
	}
	m.recordHistory(historyEntryFor(t, "cancelled"))
	return nil
}

func historyEntryFor(t *Task, status string) history.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return history.Entry{
		ID: t.ID, URL: t.URL, DestPath: t.DestPath, Filename: filepath.Base(t.DestPath),
		Status: status, TotalSize: t.TotalBytes, Downloaded: t.DownloadedBytes, CompletedAt: time.Now(),
	}
}

// StartAll admits every eligible task: Paused tasks resume, Pending tasks
// start, and Failed tasks are implicitly reset to Pending and started --
// the one operation where Failed participates in bulk admission without a
// separate RetryFailed call, per §4.1's start_all policy.
func (m *Manager) StartAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		switch t.getStatus() {
		case StatusPaused, StatusPending, StatusFailed:
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		m.mu.Lock()
		t := m.tasks[id]
		m.mu.Unlock()
		if t == nil {
			continue
		}
		switch t.getStatus() {
		case StatusPaused:
			if m.Resume(id) == nil {
				n++
			}
		case StatusPending:
			if m.Start(id) == nil {
				n++
			}
		case StatusFailed:
			if m.resetFailed(t) {
				n++
			}
		}
	}
	return n
}

func (m *Manager) PauseAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if t.getStatus() == StatusDownloading {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.Pause(id) == nil {
			n++
		}
	}
	return n
}

func (m *Manager) ResumeAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if t.getStatus() == StatusPaused {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.Resume(id) == nil {
			n++
		}
	}
	return n
}

func (m *Manager) CancelAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if !isTerminal(t.getStatus()) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.Cancel(id) == nil {
			n++
		}
	}
	return n
}

// Remove cancels id if active, then drops it from the registry and
// deletes any resume sidecar. It deletes no history entry; cancelling a
// task that is not yet terminal records a cancelled entry as usual.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}

	if status := t.getStatus(); !isTerminal(status) {
		m.Cancel(id)
	}

	m.mu.Lock()
	delete(m.tasks, id)
	for k, v := range m.dedup {
		if v == id {
			delete(m.dedup, k)
			break
		}
	}
	if t.heapIndex >= 0 {
		heap.Remove(&m.queue, t.heapIndex)
	}
	m.mu.Unlock()

	m.progress.Forget(id)
	if m.resume != nil {
		m.resume.Delete(id)
	}
	return nil
}

// RetryFailed resets every Failed task to Pending, clearing its error
// message and displayed progress, then re-admits it into the queue.
func (m *Manager) RetryFailed() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if t.getStatus() == StatusFailed {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		m.mu.Lock()
		t := m.tasks[id]
		m.mu.Unlock()
		if t != nil && m.resetFailed(t) {
			n++
		}
	}
	return n
}

// resetFailed performs the Failed -> Pending transition shared by
// RetryFailed and StartAll's Failed branch.
func (m *Manager) resetFailed(t *Task) bool {
	t.mu.Lock()
	if t.Status != StatusFailed {
		t.mu.Unlock()
		return false
	}
	t.Status = StatusPending
	t.LastError = ""
	t.DownloadedBytes = 0
	t.UpdatedAt = time.Now()
	t.mu.Unlock()

	m.mu.Lock()
	heap.Push(&m.queue, t)
	m.mu.Unlock()
	m.wake()
	return true
}

// ClearCompleted drops every Completed task from the registry and returns
// how many were removed. The history ledger is untouched.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.tasks {
		if t.getStatus() == StatusCompleted {
			delete(m.tasks, id)
			for k, v := range m.dedup {
				if v == id {
					delete(m.dedup, k)
					break
				}
			}
			m.progress.Forget(id)
			n++
		}
	}
	return n
}

const (
	minRateLimit = 64 * types.KB
	maxRateLimit = 10 * types.GB
)

// SetRateLimit clamps bytesPerSec to [64 KiB/s, 10 GiB/s] and applies it to
// the shared bandwidth limiter; nil disables limiting entirely. It returns
// the value actually applied.
func (m *Manager) SetRateLimit(bytesPerSec *int64) int64 {
	if bytesPerSec == nil || *bytesPerSec <= 0 {
		m.bandwidth.SetLimit(0)
		return 0
	}
	v := *bytesPerSec
	if v < minRateLimit {
		v = minRateLimit
	}
	if v > maxRateLimit {
		v = maxRateLimit
	}
	m.bandwidth.SetLimit(v)

	m.settingsMu.Lock()
	m.settings.Connections.GlobalRateLimitBytesPerSec = v
	m.settingsMu.Unlock()
	return v
}

// GetTask returns a point-in-time snapshot of one task.
func (m *Manager) GetTask(id string) (Snapshot, bool) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// GetTasks returns a point-in-time snapshot of every task in the registry.
func (m *Manager) GetTasks() []Snapshot {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	out := make([]Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.snapshot()
	}
	return out
}

// Stats bundles the global progress aggregate with the retry/breaker
// registries' per-category snapshots, for the control surface's /stats
// route.
type Stats struct {
	Aggregate progress.Aggregate
	Breakers  map[string]string
	Retries   map[string][2]int64
}

func (m *Manager) GetStats() Stats {
	return Stats{
		Aggregate: m.progress.Aggregate(),
		Breakers:  m.breakers.Snapshot(),
		Retries:   m.retryStats.Snapshot(),
	}
}

// Subscribe registers a new progress event subscriber, e.g. for the
// control surface's SSE route, and returns its channel plus an unsubscribe
// func to call once the client disconnects.
func (m *Manager) Subscribe(buffer int) (<-chan progress.Event, func()) {
	return m.progress.Bus().Subscribe(buffer)
}

// GetHistory returns every terminal task the history ledger has recorded,
// most recent first. Returns an empty slice if no history store is wired.
func (m *Manager) GetHistory() ([]history.Entry, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.List()
}

// GetConfig returns a copy of the current settings.
func (m *Manager) GetConfig() config.Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return *m.settings
}

// UpdateConfig atomically swaps the settings every subsequently admitted
// task is built against (tasks already running keep the RuntimeConfig
// snapshot they were admitted with), rejecting a settings value the
// scheduler and limiters can't run on instead of silently clamping it away.
func (m *Manager) UpdateConfig(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.settingsMu.Lock()
	m.settings = &s
	m.settingsMu.Unlock()

	m.bandwidth.SetLimit(s.Connections.GlobalRateLimitBytesPerSec)
	m.wake()
	return nil
}
