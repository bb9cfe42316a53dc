package chunked

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWorkerHealthCancelsSlowWorker(t *testing.T) {
	d := &ConcurrentDownloader{activeTasks: make(map[int]*ActiveTask)}

	var fastCancelled, slowCancelled bool
	fast := &ActiveTask{StartTime: time.Now().Add(-time.Minute), Speed: 1_000_000,
		Cancel: func() { fastCancelled = true }}
	slow := &ActiveTask{StartTime: time.Now().Add(-time.Minute), Speed: 1_000,
		Cancel: func() { slowCancelled = true }}
	d.activeTasks[0] = fast
	d.activeTasks[1] = slow

	d.checkWorkerHealth()

	assert.False(t, fastCancelled, "the fast worker must not be cancelled")
	assert.True(t, slowCancelled, "a worker far below the mean speed must be cancelled once past its grace period")
}

func TestCheckWorkerHealthSkipsWorkersInGracePeriod(t *testing.T) {
	d := &ConcurrentDownloader{activeTasks: make(map[int]*ActiveTask)}

	var cancelled bool
	fast := &ActiveTask{StartTime: time.Now(), Speed: 1_000_000}
	slow := &ActiveTask{StartTime: time.Now(), Speed: 1_000, Cancel: func() { cancelled = true }}
	d.activeTasks[0] = fast
	d.activeTasks[1] = slow

	d.checkWorkerHealth()

	assert.False(t, cancelled, "a worker still inside its grace period must never be cancelled")
}

func TestCheckWorkerHealthNoActiveTasksIsNoop(t *testing.T) {
	d := &ConcurrentDownloader{activeTasks: make(map[int]*ActiveTask)}
	require.NotPanics(t, func() { d.checkWorkerHealth() })
}
