package progress

import (
	"testing"
	"time"
)

func TestTaskSnapshotZeroState(t *testing.T) {
	task := NewTask("t1", 1000)
	snap := task.Snapshot(0)

	if snap.TaskID != "t1" {
		t.Errorf("expected task id t1, got %s", snap.TaskID)
	}
	if snap.Status != StatusPending {
		t.Errorf("expected pending status, got %s", snap.Status)
	}
	if snap.ETASeconds != -1 {
		t.Errorf("expected unknown ETA before any progress, got %v", snap.ETASeconds)
	}
}

func TestTaskUpdateAdvancesSpeed(t *testing.T) {
	task := NewTask("t1", 1_000_000)
	task.SetStatus(StatusDownloading)

	task.Update(0, 1)
	time.Sleep(10 * time.Millisecond)
	task.Update(100_000, 1)

	snap := task.Snapshot(1)
	if snap.SmoothedSpeed <= 0 {
		t.Errorf("expected positive smoothed speed after update, got %v", snap.SmoothedSpeed)
	}
	if snap.Downloaded != 100_000 {
		t.Errorf("expected downloaded=100000, got %d", snap.Downloaded)
	}
}

func TestTaskETACompletesAtZero(t *testing.T) {
	task := NewTask("t1", 100)
	task.Update(0, 1)
	time.Sleep(5 * time.Millisecond)
	task.Update(100, 1)

	snap := task.Snapshot(1)
	if snap.ETASeconds != 0 {
		t.Errorf("expected ETA=0 once fully downloaded, got %v", snap.ETASeconds)
	}
}

func TestStabilityScoreRange(t *testing.T) {
	task := NewTask("t1", 1_000_000)
	downloaded := int64(0)
	for i := 0; i < 10; i++ {
		downloaded += 10_000
		task.Update(downloaded, 1)
		time.Sleep(2 * time.Millisecond)
	}

	snap := task.Snapshot(1)
	if snap.StabilityScore < 0 || snap.StabilityScore > 1 {
		t.Errorf("stability score out of [0,1]: %v", snap.StabilityScore)
	}
}

func TestRegistryAggregate(t *testing.T) {
	reg := NewRegistry()
	a := reg.Track("a", 1000)
	a.SetStatus(StatusDownloading)
	a.Update(500, 1)

	b := reg.Track("b", 2000)
	b.SetStatus(StatusCompleted)
	b.Update(2000, 0)
	reg.MarkCompleted()

	agg := reg.Aggregate()
	if agg.TotalDownloadedBytes != 2500 {
		t.Errorf("expected total downloaded 2500, got %d", agg.TotalDownloadedBytes)
	}
	if agg.ActiveTasks != 1 {
		t.Errorf("expected 1 active task, got %d", agg.ActiveTasks)
	}
	if agg.CompletedTasks != 1 {
		t.Errorf("expected 1 completed task, got %d", agg.CompletedTasks)
	}
}

func TestBusSubscribeAndPublish(t *testing.T) {
	bus := newBus()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	bus.publish(Event{TaskID: "t1"}, true)

	select {
	case ev := <-ch:
		if ev.TaskID != "t1" {
			t.Errorf("expected event for t1, got %s", ev.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestBusThrottlesWithoutForce(t *testing.T) {
	bus := newBus()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	bus.publish(Event{TaskID: "t1"}, false)
	bus.publish(Event{TaskID: "t1"}, false)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected first event to be delivered")
	}
	select {
	case <-ch:
		t.Fatal("expected second rapid event to be throttled")
	case <-time.After(50 * time.Millisecond):
	}
}
