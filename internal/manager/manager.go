package manager

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/riftdl/riftdl/internal/breaker"
	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/history"
	"github.com/riftdl/riftdl/internal/progress"
	"github.com/riftdl/riftdl/internal/protocol"
	"github.com/riftdl/riftdl/internal/ratelimit"
	"github.com/riftdl/riftdl/internal/resume"
	"github.com/riftdl/riftdl/internal/retry"
	"github.com/riftdl/riftdl/internal/taxonomy"
	"github.com/riftdl/riftdl/internal/types"
	"github.com/riftdl/riftdl/internal/utils"
)

// Manager is the process-wide Download Manager: one registry of tasks, one
// priority queue admitting them against a counted concurrency ceiling, and
// the shared rate limiter / retry / breaker / progress infrastructure every
// admitted task's downloader borrows. One Manager per process.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task
	dedup map[string]string // dedupKey -> task id
	queue taskHeap
	used  int

	settingsMu sync.RWMutex
	settings   *config.Settings

	bandwidth  *ratelimit.Limiter
	backoffs   *ratelimit.Registry
	breakers   *breaker.Registry
	retryStats *retry.Stats
	retryExec  *retry.Executor
	progress   *progress.Registry
	resume     *resume.Store
	history    *history.Store

	extractors   []protocol.ExtractorPattern
	extractorCfg protocol.ExtractorConfig

	wakeCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the process-lived infrastructure a Manager is constructed
// with. Settings seeds the first RuntimeConfig and concurrency ceiling;
// Extractors/ExtractorCfg wire the YouTube-like downloader variant.
type Deps struct {
	Settings     *config.Settings
	Resume       *resume.Store
	History      *history.Store
	Progress     *progress.Registry
	Extractors   []protocol.ExtractorPattern
	ExtractorCfg protocol.ExtractorConfig
}

func New(deps Deps) *Manager {
	settings := deps.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}

	m := &Manager{
		tasks:      make(map[string]*Task),
		dedup:      make(map[string]string),
		settings:   settings,
		bandwidth:  ratelimit.NewLimiter(settings.Connections.GlobalRateLimitBytesPerSec),
		backoffs:   ratelimit.NewRegistry(),
		breakers:   breaker.NewRegistry(breaker.DefaultConfig()),
		retryStats: retry.NewStats(),
		progress:   deps.Progress,
		resume:     deps.Resume,
		history:    deps.History,

		extractors:   deps.Extractors,
		extractorCfg: deps.ExtractorCfg,

		wakeCh: make(chan struct{}, 1),
	}
	m.retryExec = retry.NewExecutor(m.breakers, m.retryStats)
	if m.progress == nil {
		m.progress = progress.NewRegistry()
	}
	return m
}

// Run starts the scheduler loop in its own goroutine under ctx and returns
// immediately; the loop stops once ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.schedulerLoop()
}

// Close performs a graceful shutdown: every active HTTP task is paused (so
// its sidecar survives for a later resume, the way a single-download CLI's
// own shutdown path pauses rather than discards in-flight work), every
// active non-resumable task is hard-cancelled since it has no sidecar to
// preserve, then the scheduler loop is stopped and every goroutine awaited.
func (m *Manager) Close() {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		t.mu.Lock()
		status := t.Status
		kind := t.Kind
		state := t.state
		cancel := t.cancel
		t.mu.Unlock()

		if status != StatusDownloading {
			continue
		}
		if kind == protocol.KindHTTP && state != nil {
			state.SetPausing(true)
			state.Pause()
		} else if cancel != nil {
			cancel()
		}
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *Manager) runtimeConfig() *config.RuntimeConfig {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.settings.ToRuntimeConfig()
}

func (m *Manager) maxConcurrent() int {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	n := m.settings.Connections.MaxConcurrentDownloads
	if n <= 0 {
		return 1
	}
	return n
}

// schedulerLoop is the single long-lived cooperative loop described in
// §4.1: it wakes on new submissions, permit releases, config changes, and
// shutdown, and each time drains as much of the queue as the concurrency
// ceiling currently allows.
func (m *Manager) schedulerLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wakeCh:
		}
		m.admitReady()
	}
}

func (m *Manager) admitReady() {
	for {
		m.mu.Lock()
		if m.used >= m.maxConcurrent() {
			m.mu.Unlock()
			return
		}

		var next *Task
		for m.queue.Len() > 0 {
			t := heap.Pop(&m.queue).(*Task)
			if t.getStatus() == StatusPending {
				next = t
				break
			}
		}
		if next == nil {
			m.mu.Unlock()
			return
		}
		m.used++
		m.mu.Unlock()

		m.wg.Add(1)
		go m.runTask(next)
	}
}

// release drops one used permit and wakes the scheduler to try admitting
// whatever is next in the queue.
func (m *Manager) release() {
	m.mu.Lock()
	m.used--
	m.mu.Unlock()
	m.wake()
}

// runTask drives one admitted task end to end: classify/refine its
// protocol kind, probe, resolve a destination path, download, and land it
// in a terminal state (or in Paused, for a pause).
func (m *Manager) runTask(t *Task) {
	defer m.wg.Done()
	defer m.release()

	ctx, cancel := context.WithCancel(m.ctx)
	t.mu.Lock()
	t.Status = StatusDownloading
	t.UpdatedAt = time.Now()
	t.cancel = cancel
	state := t.state
	if state == nil {
		state = types.NewProgressState(t.ID, t.TotalBytes)
		t.state = state
	} else {
		state.SyncSessionStart()
	}
	t.mu.Unlock()
	defer cancel()

	ptask := m.progress.Get(t.ID)
	if ptask == nil {
		ptask = m.progress.Track(t.ID, state.TotalSize)
	}
	ptask.SetStatus(progress.StatusDownloading)

	runtime := m.runtimeConfig()
	kind := t.Kind
	if kind == "" || kind == protocol.KindHTTP {
		if selected, err := protocol.Select(ctx, t.URL, m.extractors, runtime.GetUserAgent()); err == nil {
			kind = selected
		}
	}

	wireEvents := make(chan any, 32)
	deps := protocol.Deps{
		ID:           t.ID,
		ProgressChan: wireEvents,
		State:        state,
		Runtime:      runtime,
		Resume:       m.resume,
		Bandwidth:    m.bandwidth,
		Backoffs:     m.backoffs,
		Retry:        m.retryExec,
		Extractor:    m.extractorCfg,
	}
	downloader := protocol.New(kind, deps)
	defer close(wireEvents)

	stopPoll := make(chan struct{})
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		m.pollProgress(t, ptask, state, stopPoll)
	}()
	defer func() { close(stopPoll); <-pollDone }()

	info, err := downloader.Probe(ctx, t.URL, "")
	if err != nil {
		m.finishFailed(t, ptask, err)
		return
	}

	t.mu.Lock()
	t.Kind = kind
	t.TotalBytes = info.Size
	if t.Title == "" {
		t.Title = info.Filename
	}
	destPath := t.DestPath
	if destPath == "" {
		destPath = uniqueDestPath(filepath.Join(t.OutputDir, sanitizeTitle(info.Filename, t.ID)))
		t.DestPath = destPath
	}
	t.mu.Unlock()
	state.SetTotalSize(info.Size)
	ptask.SetTotalSize(info.Size)

	err = downloader.Download(ctx, t.URL, destPath, info, false)

	switch {
	case errors.Is(err, types.ErrCancelled), ctx.Err() != nil:
		m.finishCancelled(t, ptask)
	case errors.Is(err, types.ErrPaused):
		m.finishPaused(t, ptask)
	case err == nil:
		m.finishCompleted(t, ptask)
	default:
		m.finishFailed(t, ptask, err)
	}
}

// progressPollInterval matches the progress tracker's emit interval, and
// polling follows the TUI reporter's approach (at its own cadence): the
// engine never pushes progress on its wire-event channel (that channel
// exists for future start/complete/error signalling, not byte counts), so
// whoever wants live numbers polls *types.ProgressState directly.
const progressPollInterval = 200 * time.Millisecond

// pollProgress samples state on a fixed interval and feeds it into the
// progress tracker until stop is closed, taking one final sample first so
// the task's last reported numbers reflect its true end-of-run state.
func (m *Manager) pollProgress(t *Task, ptask *progress.Task, state *types.ProgressState, stop <-chan struct{}) {
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			m.sampleProgress(t, ptask, state)
			return
		case <-ticker.C:
			m.sampleProgress(t, ptask, state)
		}
	}
}

func (m *Manager) sampleProgress(t *Task, ptask *progress.Task, state *types.ProgressState) {
	downloaded, total, _, connections, _ := state.GetProgress()
	ptask.Update(downloaded, connections)
	if total > 0 {
		ptask.SetTotalSize(total)
	}
	snap := ptask.Snapshot(connections)
	m.progress.Publish(t.ID, snap, false)

	t.mu.Lock()
	t.DownloadedBytes = downloaded
	if total > 0 {
		t.TotalBytes = total
	}
	t.Speed = snap.SmoothedSpeed
	t.ETASeconds = snap.ETASeconds
	t.UpdatedAt = time.Now()
	t.mu.Unlock()
}

func (m *Manager) finishCompleted(t *Task, ptask *progress.Task) {
	t.mu.Lock()
	t.Status = StatusCompleted
	t.DownloadedBytes = t.TotalBytes
	t.UpdatedAt = time.Now()
	entry := history.Entry{
		ID: t.ID, URL: t.URL, DestPath: t.DestPath, Filename: filepath.Base(t.DestPath),
		Status: "completed", TotalSize: t.TotalBytes, Downloaded: t.DownloadedBytes,
		CompletedAt: t.UpdatedAt,
	}
	t.mu.Unlock()

	ptask.SetStatus(progress.StatusCompleted)
	m.progress.Publish(t.ID, ptask.Snapshot(0), true)
	m.progress.MarkCompleted()
	if m.resume != nil {
		m.resume.Delete(t.ID)
	}
	m.recordHistory(entry)
}

func (m *Manager) finishFailed(t *Task, ptask *progress.Task, err error) {
	category := taxonomy.Classify(err)
	t.mu.Lock()
	t.Status = StatusFailed
	t.LastError = fmt.Sprintf("%s: %v", category, err)
	t.UpdatedAt = time.Now()
	entry := history.Entry{
		ID: t.ID, URL: t.URL, DestPath: t.DestPath, Filename: filepath.Base(t.DestPath),
		Status: "failed", TotalSize: t.TotalBytes, Downloaded: t.DownloadedBytes,
		CompletedAt: t.UpdatedAt, ErrorMsg: t.LastError,
	}
	t.mu.Unlock()

	ptask.SetStatus(progress.StatusFailed)
	m.progress.Publish(t.ID, ptask.Snapshot(0), true)
	utils.Debug("task %s failed: %v", t.ID, err)
	m.recordHistory(entry)
}

func (m *Manager) finishCancelled(t *Task, ptask *progress.Task) {
	t.mu.Lock()
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	entry := history.Entry{
		ID: t.ID, URL: t.URL, DestPath: t.DestPath, Filename: filepath.Base(t.DestPath),
		Status: "cancelled", TotalSize: t.TotalBytes, Downloaded: t.DownloadedBytes,
		CompletedAt: t.UpdatedAt,
	}
	t.mu.Unlock()

	ptask.SetStatus(progress.StatusCanceled)
	m.progress.Publish(t.ID, ptask.Snapshot(0), true)
	// The resume sidecar, if the chunked engine managed to save one before
	// observing the cancellation, survives -- only Remove deletes it.
	m.recordHistory(entry)
}

func (m *Manager) finishPaused(t *Task, ptask *progress.Task) {
	t.mu.Lock()
	t.Status = StatusPaused
	t.UpdatedAt = time.Now()
	t.mu.Unlock()

	t.state.SetPausing(false)
	ptask.SetStatus(progress.StatusPaused)
	m.progress.Publish(t.ID, ptask.Snapshot(0), true)
}

// recordHistory writes the terminal entry outside any registry lock, per
// the "never suspend across a registry lock" rule.
func (m *Manager) recordHistory(e history.Entry) {
	if m.history == nil {
		return
	}
	if err := m.history.Record(e); err != nil {
		utils.Debug("history record failed for %s: %v", e.ID, err)
	}
}

// uniqueDestPath appends "(1)", "(2)", ... before the extension until
// neither the final nor the in-progress path exists, mirroring how a
// single-download CLI avoids clobbering an existing file of the same name.
func uniqueDestPath(path string) string {
	if !pathExists(path) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", name, i, ext))
		if !pathExists(candidate) {
			return candidate
		}
	}
	return path
}

func pathExists(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	if _, err := os.Stat(path + types.IncompleteSuffix); err == nil {
		return true
	}
	return false
}

// sanitizeTitle falls back to the task id when a probe returned no usable
// filename at all.
func sanitizeTitle(filename, id string) string {
	if strings.TrimSpace(filename) == "" {
		return "download-" + id
	}
	return filename
}
