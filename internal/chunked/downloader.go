package chunked

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/ratelimit"
	"github.com/riftdl/riftdl/internal/resume"
	"github.com/riftdl/riftdl/internal/retry"
	"github.com/riftdl/riftdl/internal/types"
	"github.com/riftdl/riftdl/internal/utils"
)

// ConcurrentDownloader drives one task's multi-connection chunked download:
// probing already done, file size known, work split across a TaskQueue that
// an adaptive balancer splits and steals from to keep every connection busy.
type ConcurrentDownloader struct {
	ProgressChan chan<- any           // Channel for events (start/complete/error)
	ID           string               // Download ID
	State        *types.ProgressState // Shared state polled by progress.Task
	activeTasks  map[int]*ActiveTask
	activeMu     sync.Mutex
	URL          string // For pause/resume
	DestPath     string // For pause/resume
	Runtime      *config.RuntimeConfig
	bufPool      sync.Pool

	Resume    *resume.Store
	Bandwidth *ratelimit.Limiter
	Backoffs  *ratelimit.Registry
	Retry     *retry.Executor
}

// NewConcurrentDownloader creates a new concurrent downloader with all required parameters
func NewConcurrentDownloader(
	id string,
	progressCh chan<- any,
	progState *types.ProgressState,
	runtime *config.RuntimeConfig,
	resumeStore *resume.Store,
	bandwidth *ratelimit.Limiter,
	backoffs *ratelimit.Registry,
	retryExec *retry.Executor,
) *ConcurrentDownloader {
	return &ConcurrentDownloader{
		ID:           id,
		ProgressChan: progressCh,
		State:        progState,
		activeTasks:  make(map[int]*ActiveTask),
		Runtime:      runtime,
		Resume:       resumeStore,
		Bandwidth:    bandwidth,
		Backoffs:     backoffs,
		Retry:        retryExec,
		bufPool: sync.Pool{
			New: func() any {
				size := runtime.GetWorkerBufferSize()
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// getInitialConnections returns the starting number of connections based on file size
func (d *ConcurrentDownloader) getInitialConnections(fileSize int64) int {
	maxConns := d.Runtime.GetMaxConnectionsPerHost()

	var recConns int
	switch {
	case fileSize < 10*types.MB:
		recConns = 1
	case fileSize < 100*types.MB:
		recConns = 4
	case fileSize < 1*types.GB:
		recConns = 6
	default:
		recConns = 32
	}

	if recConns > maxConns {
		return maxConns
	}
	return recConns
}

// calculateChunkSize determines optimal chunk size
func (d *ConcurrentDownloader) calculateChunkSize(fileSize int64, numConns int) int64 {
	targetChunks := int64(numConns * types.TasksPerWorker)
	chunkSize := fileSize / targetChunks

	minChunk := d.Runtime.GetMinChunkSize()
	maxChunk := d.Runtime.GetMaxChunkSize()
	targetChunk := d.Runtime.GetTargetChunkSize()

	if chunkSize == 0 {
		chunkSize = targetChunk
	}
	if chunkSize < minChunk {
		chunkSize = minChunk
	}
	if chunkSize > maxChunk {
		chunkSize = maxChunk
	}

	chunkSize = (chunkSize / types.AlignSize) * types.AlignSize
	if chunkSize == 0 {
		chunkSize = types.AlignSize
	}

	return chunkSize
}

// createTasks generates initial task queue from file size and chunk size
func createTasks(fileSize, chunkSize int64) []types.Task {
	if chunkSize <= 0 {
		return nil
	}
	var tasks []types.Task
	for offset := int64(0); offset < fileSize; offset += chunkSize {
		length := chunkSize
		if offset+length > fileSize {
			length = fileSize - offset
		}
		tasks = append(tasks, types.Task{Offset: offset, Length: length})
	}
	return tasks
}

// newConcurrentClient creates an http.Client tuned for concurrent downloads
func (d *ConcurrentDownloader) newConcurrentClient(numConns int) *http.Client {
	maxConns := d.Runtime.GetMaxConnectionsPerHost()
	if numConns > maxConns {
		maxConns = numConns
	}

	transport := &http.Transport{
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,
		MaxConnsPerHost:     maxConns,

		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	if d.Runtime != nil && d.Runtime.ProxyURL != "" {
		if proxyURL, err := url.Parse(d.Runtime.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			utils.Debug("invalid proxy URL %q: %v", d.Runtime.ProxyURL, err)
		}
	}

	return &http.Client{Transport: transport}
}

// saveRemainingState persists a resume sidecar describing whatever work is
// still outstanding, shared by the pause and cancel paths since both leave
// the partial file in place and need the same remaining-chunk bookkeeping
// to pick back up later. reason is only for the debug log line.
func (d *ConcurrentDownloader) saveRemainingState(queue *TaskQueue, destPath string, fileSize int64, startTime time.Time, reason string) {
	var activeRemaining []types.Task
	d.activeMu.Lock()
	for _, active := range d.activeTasks {
		if remaining := active.RemainingTask(); remaining != nil {
			activeRemaining = append(activeRemaining, *remaining)
		}
	}
	d.activeMu.Unlock()

	remainingTasks := queue.DrainRemaining()
	remainingTasks = append(remainingTasks, activeRemaining...)

	var remainingBytes int64
	for _, task := range remainingTasks {
		remainingBytes += task.Length
	}
	computedDownloaded := fileSize - remainingBytes

	var totalElapsed time.Duration
	if d.State != nil {
		totalElapsed = d.State.SavedElapsed + time.Since(startTime)
	} else {
		totalElapsed = time.Since(startTime)
	}

	if d.Resume != nil {
		info := &resume.Info{
			TaskID:          d.ID,
			URL:             d.URL,
			TargetPath:      destPath,
			TotalSize:       fileSize,
			DownloadedBytes: computedDownloaded,
			Elapsed:         totalElapsed,
			Chunks:          toChunks(remainingTasks),
		}
		if err := d.Resume.Save(info); err != nil {
			utils.Debug("Failed to save %s state: %v", reason, err)
		}
	}

	utils.Debug("Download %s, state saved (Downloaded=%d, RemainingTasks=%d, RemainingBytes=%d)",
		reason, computedDownloaded, len(remainingTasks), remainingBytes)
}

// toChunks converts the queue's remaining tasks into the sidecar's
// outstanding-work representation.
func toChunks(tasks []types.Task) []resume.ChunkInfo {
	chunks := make([]resume.ChunkInfo, len(tasks))
	for i, t := range tasks {
		chunks[i] = resume.ChunkInfo{Index: i, Start: t.Offset, End: t.Offset + t.Length - 1}
	}
	return chunks
}

// fromChunks is the inverse of toChunks.
func fromChunks(chunks []resume.ChunkInfo) []types.Task {
	tasks := make([]types.Task, len(chunks))
	for i, c := range chunks {
		tasks[i] = types.Task{Offset: c.Start, Length: c.End - c.Start + 1}
	}
	return tasks
}

// Download downloads a file using multiple concurrent connections.
// Uses pre-probed metadata (file size already known).
func (d *ConcurrentDownloader) Download(ctx context.Context, rawurl, destPath string, fileSize int64, verbose bool) error {
	utils.Debug("ConcurrentDownloader.Download: %s -> %s (size: %d)", rawurl, destPath, fileSize)

	d.URL = rawurl
	d.DestPath = destPath

	workingPath := destPath + types.IncompleteSuffix

	downloadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d.State != nil {
		d.State.CancelFunc = cancel
	}

	numConns := d.getInitialConnections(fileSize)
	chunkSize := d.calculateChunkSize(fileSize, numConns)

	client := d.newConcurrentClient(numConns)

	if verbose {
		fmt.Printf("File size: %s, connections: %d, chunk size: %s\n",
			utils.ConvertBytesToHumanReadable(fileSize),
			numConns,
			utils.ConvertBytesToHumanReadable(chunkSize))
	}

	outFile, err := os.OpenFile(workingPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer outFile.Close()

	var tasks []types.Task
	var savedInfo *resume.Info
	if d.Resume != nil {
		savedInfo, err = d.Resume.Load(d.ID)
	}
	isResume := err == nil && savedInfo != nil && len(savedInfo.Chunks) > 0

	if isResume {
		tasks = fromChunks(savedInfo.Chunks)
		if d.State != nil {
			d.State.Downloaded.Store(savedInfo.DownloadedBytes)
			d.State.SetSavedElapsed(savedInfo.Elapsed)
			d.State.SyncSessionStart()
		}
		utils.Debug("Resuming from saved state: %d tasks, %d bytes downloaded", len(tasks), savedInfo.DownloadedBytes)
	} else {
		if err := outFile.Truncate(fileSize); err != nil {
			return fmt.Errorf("failed to preallocate file: %w", err)
		}
		tasks = createTasks(fileSize, chunkSize)
		if d.State != nil {
			d.State.Downloaded.Store(0)
			d.State.SyncSessionStart()
		}
	}
	queue := NewTaskQueue()
	queue.PushMultiple(tasks)

	startTime := time.Now()

	balancerCtx, cancelBalancer := context.WithCancel(downloadCtx)
	defer cancelBalancer()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		maxSplits := 50
		splitCount := 0

		for {
			select {
			case <-balancerCtx.Done():
				return
			case <-ticker.C:
				if queue.IdleWorkers() > 0 && splitCount < maxSplits {
					if queue.SplitLargestIfNeeded() {
						splitCount++
						utils.Debug("Balancer: split largest task (total splits: %d)", splitCount)
					} else if queue.Len() == 0 {
						if d.StealWork(queue) {
							splitCount++
						}
					}
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				queue.Close()
				return
			case <-balancerCtx.Done():
				queue.Close()
				return
			case <-ticker.C:
				if queue.Len() == 0 && (int(queue.IdleWorkers()) == numConns || d.State.Downloaded.Load() >= fileSize) {
					queue.Close()
					return
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(types.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-balancerCtx.Done():
				return
			case <-ticker.C:
				d.checkWorkerHealth()
			}
		}
	}()

	var wg sync.WaitGroup
	workerErrors := make(chan error, numConns)

	for i := 0; i < numConns; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			err := d.worker(downloadCtx, workerID, rawurl, outFile, queue, fileSize, startTime, verbose, client)
			if err != nil && err != context.Canceled {
				workerErrors <- err
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(workerErrors)
		queue.Close()
	}()

	var downloadErr error
	for err := range workerErrors {
		if err != nil {
			downloadErr = err
		}
	}

	if d.State != nil && d.State.IsPaused() {
		d.saveRemainingState(queue, destPath, fileSize, startTime, "paused")
		return types.ErrPaused
	}

	if downloadCtx.Err() == context.Canceled {
		// A cancelled task leaves its sidecar in place (same remaining-chunk
		// bookkeeping a pause would save) so re-adding the same url/output_dir
		// resumes instead of starting over; only an explicit Remove deletes it.
		d.saveRemainingState(queue, destPath, fileSize, startTime, "cancelled")
		return types.ErrCancelled
	}

	if downloadErr != nil {
		return downloadErr
	}

	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	outFile.Close()

	if err := os.Rename(workingPath, destPath); err != nil {
		if os.IsNotExist(err) {
			if info, statErr := os.Stat(destPath); statErr == nil && info.Size() == fileSize {
				utils.Debug("Race condition detected: File already exists and has correct size. Treating as success.")
				if d.Resume != nil {
					_ = d.Resume.Delete(d.ID)
				}
				return nil
			}
		}
		return fmt.Errorf("failed to rename completed file: %w", err)
	}

	if d.Resume != nil {
		_ = d.Resume.Delete(d.ID)
	}

	return nil
}
