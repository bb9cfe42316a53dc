package chunked

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/riftdl/riftdl/internal/ratelimit"
	"github.com/riftdl/riftdl/internal/taxonomy"
	"github.com/riftdl/riftdl/internal/types"
	"github.com/riftdl/riftdl/internal/utils"
)

// worker downloads tasks from the queue
func (d *ConcurrentDownloader) worker(ctx context.Context, id int, rawurl string, file *os.File, queue *TaskQueue, totalSize int64, startTime time.Time, verbose bool, client *http.Client) error {
	bufPtr := d.bufPool.Get().(*[]byte)
	defer d.bufPool.Put(bufPtr)
	buf := *bufPtr

	utils.Debug("Worker %d started", id)
	defer utils.Debug("Worker %d finished", id)

	for {
		task, ok := queue.Pop()
		if !ok {
			return nil // Queue closed, no more work
		}

		if d.State != nil {
			d.State.ActiveWorkers.Add(1)
		}

		var lastErr error
		maxRetries := d.Runtime.GetMaxTaskRetries()
		for attempt := 0; attempt < maxRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(time.Duration(1<<attempt) * types.RetryBaseDelay)
			}

			taskCtx, taskCancel := context.WithCancel(ctx)
			now := time.Now()
			activeTask := &ActiveTask{
				Task:          task,
				CurrentOffset: task.Offset,
				StopAt:        task.Offset + task.Length,
				LastActivity:  now.UnixNano(),
				StartTime:     now,
				Cancel:        taskCancel,
				WindowStart:   now,
			}
			d.activeMu.Lock()
			d.activeTasks[id] = activeTask
			d.activeMu.Unlock()

			taskStart := time.Now()
			lastErr = d.downloadTask(taskCtx, rawurl, file, activeTask, buf, verbose, client)

			wasExternallyCancelled := taskCtx.Err() != nil
			taskCancel()
			utils.Debug("Worker %d: Task offset=%d length=%d took %v", id, task.Offset, task.Length, time.Since(taskStart))

			if ctx.Err() != nil {
				if d.State != nil {
					d.State.ActiveWorkers.Add(-1)
				}
				return ctx.Err()
			}

			if wasExternallyCancelled && lastErr != nil {
				// Health monitor cancelled this task: re-queue the remaining
				// work only, clamped to the original task boundary.
				if remaining := activeTask.RemainingTask(); remaining != nil {
					originalEnd := task.Offset + task.Length
					if remaining.Offset+remaining.Length > originalEnd {
						remaining.Length = originalEnd - remaining.Offset
					}
					if remaining.Length > 0 {
						queue.Push(*remaining)
						utils.Debug("Worker %d: health-cancelled task requeued (remaining: %d bytes from offset %d)",
							id, remaining.Length, remaining.Offset)
					}
				}
				d.activeMu.Lock()
				delete(d.activeTasks, id)
				d.activeMu.Unlock()
				lastErr = nil
				break
			}

			d.activeMu.Lock()
			delete(d.activeTasks, id)
			d.activeMu.Unlock()

			if lastErr == nil {
				break
			}

			category := taxonomy.Classify(lastErr)
			if !category.Retryable() {
				utils.Debug("Worker %d: non-retryable error (%s): %v", id, category, lastErr)
				break
			}

			// Resume-on-retry: shrink the task to whatever is still left so
			// a retry doesn't double-count bytes already written.
			current := atomic.LoadInt64(&activeTask.CurrentOffset)
			if current > task.Offset {
				task = types.Task{Offset: current, Length: task.Offset + task.Length - current}
			}
		}

		if d.State != nil {
			d.State.ActiveWorkers.Add(-1)
		}

		if lastErr != nil {
			queue.Push(task)
			utils.Debug("task at offset %d failed after %d retries: %v", task.Offset, maxRetries, lastErr)
		}
	}
}

// downloadTask downloads a single byte range and writes to file at offset
func (d *ConcurrentDownloader) downloadTask(ctx context.Context, rawurl string, file *os.File, activeTask *ActiveTask, buf []byte, verbose bool, client *http.Client) error {
	if d.Backoffs != nil {
		if host := hostOf(rawurl); host != "" {
			d.Backoffs.For(host).Wait()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return err
	}

	task := activeTask.Task

	req.Header.Set("User-Agent", d.Runtime.GetUserAgent())
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", task.Offset, task.Offset+task.Length-1))

	resp, err := client.Do(req)
	if err != nil {
		return &taxonomy.TypedError{Category: taxonomy.Network, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if d.Backoffs != nil {
			if host := hostOf(rawurl); host != "" {
				d.Backoffs.For(host).Handle429(resp)
			}
		}
		return &taxonomy.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("rate limited (429)")}
	}

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &taxonomy.HTTPStatusError{StatusCode: resp.StatusCode}
	}

	if d.Backoffs != nil {
		if host := hostOf(rawurl); host != "" {
			d.Backoffs.For(host).ReportSuccess()
		}
	}

	body := io.Reader(resp.Body)
	if d.Bandwidth != nil {
		body = ratelimit.NewReader(ctx, body, d.Bandwidth)
	}

	offset := task.Offset
	for {
		stopAt := atomic.LoadInt64(&activeTask.StopAt)
		if offset >= stopAt {
			return nil // Stealing happened, stop here
		}

		remaining := stopAt - offset
		if remaining <= 0 {
			return nil
		}

		readSize := int64(len(buf))
		if readSize > remaining {
			readSize = remaining
		}

		readSoFar := 0
		var readErr error

		for readSoFar < int(readSize) {
			n, err := body.Read(buf[readSoFar:readSize])
			if n > 0 {
				readSoFar += n
			}
			if err != nil {
				readErr = err
				break
			}
			if n == 0 {
				readErr = io.ErrUnexpectedEOF
				break
			}
		}

		if readSoFar > 0 {
			currentStopAt := atomic.LoadInt64(&activeTask.StopAt)
			if offset+int64(readSoFar) > currentStopAt {
				readSoFar = int(currentStopAt - offset)
				if readSoFar <= 0 {
					return nil // stolen completely
				}
			}

			if _, writeErr := file.WriteAt(buf[:readSoFar], offset); writeErr != nil {
				return &taxonomy.TypedError{Category: taxonomy.FileSystem, Err: fmt.Errorf("write error: %w", writeErr)}
			}

			now := time.Now()
			oldOffset := offset
			offset += int64(readSoFar)
			atomic.StoreInt64(&activeTask.CurrentOffset, offset)
			atomic.AddInt64(&activeTask.WindowBytes, int64(readSoFar))
			atomic.StoreInt64(&activeTask.LastActivity, now.UnixNano())

			windowElapsed := now.Sub(activeTask.WindowStart).Seconds()
			if windowElapsed >= 2.0 {
				windowBytes := atomic.SwapInt64(&activeTask.WindowBytes, 0)
				recentSpeed := float64(windowBytes) / windowElapsed

				activeTask.SpeedMu.Lock()
				alpha := d.Runtime.GetSpeedEmaAlpha()
				if activeTask.Speed == 0 {
					activeTask.Speed = recentSpeed
				} else {
					activeTask.Speed = (1-alpha)*activeTask.Speed + alpha*recentSpeed
				}
				activeTask.SpeedMu.Unlock()

				activeTask.WindowStart = now
			}

			if d.State != nil {
				currentStopAt := atomic.LoadInt64(&activeTask.StopAt)
				effectiveEnd := offset
				if effectiveEnd > currentStopAt {
					effectiveEnd = currentStopAt
				}
				contributed := effectiveEnd - oldOffset
				if contributed > 0 {
					d.State.Downloaded.Add(contributed)
				}
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &taxonomy.TypedError{Category: taxonomy.Network, Err: fmt.Errorf("read error: %w", readErr)}
		}
	}

	return nil
}

func hostOf(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Host
}

// StealWork tries to split an active task from a busy worker.
// It greedily targets the worker with the MOST remaining work.
func (d *ConcurrentDownloader) StealWork(queue *TaskQueue) bool {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()

	var bestID int = -1
	var maxRemaining int64 = 0
	var bestActive *ActiveTask

	for id, active := range d.activeTasks {
		remaining := active.RemainingBytes()
		if remaining > types.MinChunk && remaining > maxRemaining {
			maxRemaining = remaining
			bestID = id
			bestActive = active
		}
	}

	if bestID == -1 {
		return false
	}

	remaining := maxRemaining
	active := bestActive

	splitSize := alignedSplitSize(remaining)
	if splitSize == 0 {
		return false
	}

	current := atomic.LoadInt64(&active.CurrentOffset)
	newStopAt := current + splitSize
	atomic.StoreInt64(&active.StopAt, newStopAt)

	finalCurrent := atomic.LoadInt64(&active.CurrentOffset)
	stolenStart := newStopAt
	if finalCurrent > newStopAt {
		stolenStart = finalCurrent
	}

	originalEnd := current + remaining
	if stolenStart >= originalEnd {
		return false
	}

	stolenTask := types.Task{
		Offset: stolenStart,
		Length: originalEnd - stolenStart,
	}

	queue.Push(stolenTask)
	utils.Debug("Balancer: stole %s from worker %d (new range: %d-%d)",
		utils.ConvertBytesToHumanReadable(stolenTask.Length), bestID, stolenTask.Offset, stolenTask.Offset+stolenTask.Length)

	return true
}
