package dashboard

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRefresherRunsPeriodically(t *testing.T) {
	r := NewRefresher()
	defer r.StopAll()

	var count atomic.Int64
	r.Set("w1", 10*time.Millisecond, func() { count.Add(1) })

	deadline := time.After(2 * time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("ticker fired %d times, want at least 3", count.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRefresherSetReplacesExistingTask(t *testing.T) {
	r := NewRefresher()
	defer r.StopAll()

	var old, new_ atomic.Int64
	r.Set("w1", 10*time.Millisecond, func() { old.Add(1) })
	r.Set("w1", 10*time.Millisecond, func() { new_.Add(1) })

	// Let the replacement run, then confirm the old task stays frozen.
	time.Sleep(50 * time.Millisecond)
	frozen := old.Load()
	time.Sleep(50 * time.Millisecond)

	if old.Load() != frozen {
		t.Fatalf("replaced task still firing: %d -> %d", frozen, old.Load())
	}
	if new_.Load() == 0 {
		t.Fatal("replacement task never fired")
	}
	if !r.Active("w1") {
		t.Fatal("widget should still have an active task")
	}
}

func TestRefresherStop(t *testing.T) {
	r := NewRefresher()
	defer r.StopAll()

	var count atomic.Int64
	r.Set("w1", 10*time.Millisecond, func() { count.Add(1) })
	r.Stop("w1")

	if r.Active("w1") {
		t.Fatal("task should be gone after Stop")
	}
	frozen := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() != frozen {
		t.Fatalf("stopped task still firing: %d -> %d", frozen, count.Load())
	}

	// Stopping again is a no-op.
	r.Stop("w1")
}

func TestRefresherStopAll(t *testing.T) {
	r := NewRefresher()
	r.Set("w1", time.Hour, func() {})
	r.Set("w2", time.Hour, func() {})
	r.StopAll()
	if r.Active("w1") || r.Active("w2") {
		t.Fatal("tasks remain after StopAll")
	}
}
