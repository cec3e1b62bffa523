// Package timers provides a registry of named one-shot timers. Scheduling a
// timer under a name that is already armed supersedes the previous one, so a
// repeated enqueue never stacks duplicate fallbacks for the same client.
// Callbacks are expected to re-check their guard condition at fire time;
// cancellation is fire-and-check, not cancel-on-write.
package timers

import (
	"sync"
	"time"
)

type Registry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewRegistry() *Registry {
	return &Registry{timers: make(map[string]*time.Timer)}
}

// Schedule arms a one-shot timer under name, replacing any timer already
// armed under the same name.
func (r *Registry) Schedule(name string, delay time.Duration, fn func()) {
	if r == nil || fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[name]; ok {
		old.Stop()
	}

	r.timers[name] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, name)
		r.mu.Unlock()
		fn()
	})
}

// Cancel stops a named timer if it is still armed. Missing names are a no-op:
// the guard inside the callback is the real cancellation mechanism.
func (r *Registry) Cancel(name string) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[name]; ok {
		t.Stop()
		delete(r.timers, name)
	}
}

// Armed reports whether a timer is currently scheduled under name.
func (r *Registry) Armed(name string) bool {
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.timers[name]
	return ok
}

// Stop cancels every armed timer. Used on shutdown.
func (r *Registry) Stop() {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
}
