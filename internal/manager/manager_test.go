package manager

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(Deps{})
}

func TestAddTaskDedup(t *testing.T) {
	m := newTestManager(t)
	out := t.TempDir()

	id1, created1, err := m.AddTask("https://example.com/video.mp4", out, 0)
	require.NoError(t, err)
	assert.True(t, created1)

	id2, created2, err := m.AddTask("https://example.com/video.mp4", out, 0)
	require.NoError(t, err)
	assert.False(t, created2, "resubmitting the same url+output_dir should not create a new task")
	assert.Equal(t, id1, id2)

	// A different output_dir is a distinct task even for the same URL.
	id3, created3, err := m.AddTask("https://example.com/video.mp4", t.TempDir(), 0)
	require.NoError(t, err)
	assert.True(t, created3)
	assert.NotEqual(t, id1, id3)
}

func TestAddTaskInvalidURL(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.AddTask("not-a-url", t.TempDir(), 0)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestAddBatchIndependentFailures(t *testing.T) {
	m := newTestManager(t)
	out := t.TempDir()

	results := m.AddBatch([]Submission{
		{URL: "https://example.com/a.mp4", OutputDir: out},
		{URL: "not-a-url", OutputDir: out},
		{URL: "https://example.com/b.mp4", OutputDir: out},
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestQueuePriorityOrdering(t *testing.T) {
	m := newTestManager(t)
	out := t.TempDir()

	lowID, _, err := m.AddTask("https://example.com/low.mp4", out, 0)
	require.NoError(t, err)
	highID, _, err := m.AddTask("https://example.com/high.mp4", out, 10)
	require.NoError(t, err)
	midID, _, err := m.AddTask("https://example.com/mid.mp4", out, 5)
	require.NoError(t, err)

	m.mu.Lock()
	var order []string
	for m.queue.Len() > 0 {
		order = append(order, heap.Pop(&m.queue).(*Task).ID)
	}
	m.mu.Unlock()

	require.Equal(t, []string{highID, midID, lowID}, order)
}

func TestCancelPendingTask(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.AddTask("https://example.com/video.mp4", t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))

	snap, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, snap.Status)

	// A terminal task can't be cancelled again.
	assert.ErrorIs(t, m.Cancel(id), ErrInvalidTransition)
}

func TestRemoveUnknownTask(t *testing.T) {
	m := newTestManager(t)
	assert.ErrorIs(t, m.Remove("does-not-exist"), ErrUnknownTask)
}

func TestStartOnUnknownTask(t *testing.T) {
	m := newTestManager(t)
	assert.ErrorIs(t, m.Start("does-not-exist"), ErrUnknownTask)
}

func TestPauseRejectsNonDownloading(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.AddTask("https://example.com/video.mp4", t.TempDir(), 0)
	require.NoError(t, err)

	// Freshly added tasks are Pending, not Downloading.
	assert.ErrorIs(t, m.Pause(id), ErrInvalidTransition)
}

func TestSetRateLimitClamps(t *testing.T) {
	m := newTestManager(t)

	tiny := int64(1)
	assert.Equal(t, int64(minRateLimit), m.SetRateLimit(&tiny))

	huge := int64(maxRateLimit) * 100
	assert.Equal(t, int64(maxRateLimit), m.SetRateLimit(&huge))

	assert.Equal(t, int64(0), m.SetRateLimit(nil))
}

func TestClearCompletedOnlyTouchesCompleted(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.AddTask("https://example.com/video.mp4", t.TempDir(), 0)
	require.NoError(t, err)

	// Still Pending: clear-completed must leave it alone.
	assert.Equal(t, 0, m.ClearCompleted())
	_, ok := m.GetTask(id)
	assert.True(t, ok)
}
