package resume

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo(taskID string) *Info {
	return &Info{
		TaskID:          taskID,
		URL:             "https://example.com/video.mp4",
		TargetPath:      "/tmp/video.mp4",
		TotalSize:       1000,
		DownloadedBytes: 400,
		Elapsed:         5 * time.Second,
		Capabilities:    Capabilities{SupportsRanges: true, MaxConcurrent: 4, ProbedAt: time.Unix(0, 0)},
		Chunks: []ChunkInfo{
			{Index: 0, Start: 400, End: 699, Downloaded: 0},
			{Index: 1, Start: 700, End: 999, Downloaded: 0},
		},
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	info := sampleInfo("task-1")

	require.NoError(t, store.Save(info))
	assert.True(t, store.Exists("task-1"))

	loaded, err := store.Load("task-1")
	require.NoError(t, err)
	assert.Equal(t, info.URL, loaded.URL)
	assert.Equal(t, info.DownloadedBytes, loaded.DownloadedBytes)
	assert.Equal(t, info.Elapsed, loaded.Elapsed)
	require.Len(t, loaded.Chunks, 2)
	assert.Equal(t, int64(600), loaded.RemainingBytes())
}

func TestStoreLoadMissingIsNotExist(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load("does-not-exist")
	assert.True(t, os.IsNotExist(err))
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	info := sampleInfo("task-2")
	require.NoError(t, store.Save(info))
	require.True(t, store.Exists("task-2"))

	require.NoError(t, store.Delete("task-2"))
	assert.False(t, store.Exists("task-2"))

	// Deleting again (no sidecar present) must not error.
	require.NoError(t, store.Delete("task-2"))
}

func TestStoreSaveOverwritesPriorVersion(t *testing.T) {
	store := NewStore(t.TempDir())
	info := sampleInfo("task-3")
	require.NoError(t, store.Save(info))

	info.DownloadedBytes = 900
	info.Chunks = []ChunkInfo{{Index: 0, Start: 900, End: 999}}
	require.NoError(t, store.Save(info))

	loaded, err := store.Load("task-3")
	require.NoError(t, err)
	assert.Equal(t, int64(900), loaded.DownloadedBytes)
	assert.Equal(t, int64(100), loaded.RemainingBytes())
}

// TestResumeAfterSimulatedKill mirrors spec's "resume after simulated kill"
// scenario: a process saves a sidecar, dies, and a fresh process (a brand
// new Store pointed at the same directory) must load back the same
// outstanding work.
func TestResumeAfterSimulatedKill(t *testing.T) {
	dir := t.TempDir()
	first := NewStore(dir)
	info := sampleInfo("task-4")
	require.NoError(t, first.Save(info))

	// Simulate the process dying and a new one starting up against the
	// same resume directory.
	second := NewStore(dir)
	require.True(t, second.Exists("task-4"))

	loaded, err := second.Load("task-4")
	require.NoError(t, err)
	assert.Equal(t, info.TaskID, loaded.TaskID)
	assert.Equal(t, info.TargetPath, loaded.TargetPath)
	assert.Equal(t, info.DownloadedBytes, loaded.DownloadedBytes)
	require.Len(t, loaded.Chunks, len(info.Chunks))
	assert.Equal(t, info.Chunks[0].Start, loaded.Chunks[0].Start)
}
