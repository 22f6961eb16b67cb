package dashboard

import (
	"sync"
	"time"
)

// Refresher owns the periodic refresh tasks, one at most per widget id.
// Set replaces atomically: the old task is stopped under the same lock
// that installs the new one, so an orphaned ticker can never keep writing
// into a rebound widget.
type Refresher struct {
	mu    sync.Mutex
	tasks map[string]chan struct{}
}

func NewRefresher() *Refresher {
	return &Refresher{tasks: make(map[string]chan struct{})}
}

// Set starts a periodic task for id, stopping any existing one first.
func (r *Refresher) Set(id string, interval time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if done, ok := r.tasks[id]; ok {
		close(done)
	}
	done := make(chan struct{})
	r.tasks[id] = done
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop cancels the task for id, if any.
func (r *Refresher) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if done, ok := r.tasks[id]; ok {
		close(done)
		delete(r.tasks, id)
	}
}

// Active reports whether id currently has a running task.
func (r *Refresher) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// StopAll cancels every task; used on shutdown.
func (r *Refresher) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, done := range r.tasks {
		close(done)
		delete(r.tasks, id)
	}
}
