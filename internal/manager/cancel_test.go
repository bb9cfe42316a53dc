package manager

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdl/riftdl/internal/progress"
	"github.com/riftdl/riftdl/internal/resume"
)

// parseByteRange parses a "bytes=A-B" Range header, defaulting to the
// whole resource when absent.
func parseByteRange(header string, total int64) (start, end int64) {
	end = total - 1
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return start, end
	}
	if parts[0] != "" {
		start, _ = strconv.ParseInt(parts[0], 10, 64)
	}
	if parts[1] != "" {
		end, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return start, end
}

// slowRangeServer serves a fixed-size resource over ranged GETs, answering
// the chunked engine's bytes=0-0 capability probe immediately but trickling
// out the real range one byte at a time so a test has a wide window to
// cancel a task while it is still Downloading.
func slowRangeServer(t *testing.T, total int64, perByteDelay time.Duration) *httptest.Server {
	t.Helper()
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")

		// The capability probe (bytes=0-0) and the protocol sniffer's
		// peek (bytes=0-511) both need a fast, complete answer -- only
		// the real chunk worker's request should trickle out slowly.
		if rangeHeader == "bytes=0-0" || rangeHeader == "bytes=0-511" {
			start, end := parseByteRange(rangeHeader, total)
			if end >= total {
				end = total - 1
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[start : end+1])
			return
		}

		start, end := parseByteRange(rangeHeader, total)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)

		for off := start; off <= end; off++ {
			if _, err := w.Write(data[off : off+1]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(perByteDelay):
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// waitForStatus polls id's status until it matches one of want or the
// timeout elapses, returning the last snapshot observed.
func waitForStatus(t *testing.T, m *Manager, id string, timeout time.Duration, want ...Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last Snapshot
	for time.Now().Before(deadline) {
		snap, ok := m.GetTask(id)
		require.True(t, ok)
		last = snap
		for _, s := range want {
			if snap.Status == s {
				return snap
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %v within %s, last status %q", id, want, timeout, last.Status)
	return last
}

// TestCancelDuringDownloadingIsNotReportedCompleted drives a task all the
// way into Downloading against a deliberately slow server, cancels it
// mid-transfer, and asserts it lands in Cancelled rather than Completed --
// the regression this package's state machine previously got wrong by
// treating the downloader's context.Canceled return as success.
func TestCancelDuringDownloadingIsNotReportedCompleted(t *testing.T) {
	srv := slowRangeServer(t, 64, 25*time.Millisecond)

	resumeDir := t.TempDir()
	m := New(Deps{
		Resume:   resume.NewStore(resumeDir),
		Progress: progress.NewRegistry(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)
	defer m.Close()

	outDir := t.TempDir()
	id, created, err := m.AddTask(srv.URL+"/file.bin", outDir, 0)
	require.NoError(t, err)
	require.True(t, created)

	waitForStatus(t, m, id, 2*time.Second, StatusDownloading)

	require.NoError(t, m.Cancel(id))

	snap := waitForStatus(t, m, id, 2*time.Second, StatusCancelled, StatusCompleted, StatusFailed)
	assert.Equal(t, StatusCancelled, snap.Status, "a cancelled in-flight download must not be reported as any other terminal state")

	require.NotEmpty(t, snap.DestPath)
	_, statErr := os.Stat(snap.DestPath)
	assert.True(t, os.IsNotExist(statErr), "no final file should exist at the destination after a cancel, the rename must have been skipped")

	assert.True(t, resume.NewStore(resumeDir).Exists(id), "a cancelled task should leave a resume sidecar behind for a later re-add to pick up")
}

// TestCancelPendingTaskLeavesNoSidecar documents the counterpart case: a
// task cancelled before it ever starts downloading never had a sidecar to
// begin with, and Cancel must not try to synthesize one.
func TestCancelPendingTaskLeavesNoSidecar(t *testing.T) {
	resumeDir := t.TempDir()
	m := New(Deps{
		Resume:   resume.NewStore(resumeDir),
		Progress: progress.NewRegistry(),
	})

	id, _, err := m.AddTask("https://example.com/video.mp4", t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(id))

	snap, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.False(t, resume.NewStore(resumeDir).Exists(id))
}
