// Package timers keeps named one-shot and periodic timers for session
// governance. Callbacks fire on timer goroutines; callers that need the
// event loop must schedule onto it themselves.
package timers

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	cancel func()
}

// Registry owns a set of timers keyed by name. Starting a name that is
// already running replaces the old timer; stopping an unknown name is a
// no-op.
type Registry struct {
	log *slog.Logger

	mu     sync.Mutex
	timers map[string]*entry
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, timers: make(map[string]*entry)}
}

// Start arms a one-shot timer. The entry removes itself when it fires.
func (r *Registry) Start(name string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(name)

	e := &entry{}
	t := time.AfterFunc(d, func() {
		r.mu.Lock()
		if r.timers[name] == e {
			delete(r.timers, name)
		}
		r.mu.Unlock()
		fn()
	})
	e.cancel = func() { t.Stop() }
	r.timers[name] = e
	r.log.Debug("timer armed", "name", name, "after", d)
}

// StartPeriodic arms a repeating timer that fires every d until stopped.
func (r *Registry) StartPeriodic(name string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(name)

	done := make(chan struct{})
	ticker := time.NewTicker(d)
	go func() {
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
	r.timers[name] = &entry{cancel: func() { close(done) }}
	r.log.Debug("periodic timer armed", "name", name, "every", d)
}

// Stop cancels the named timer if it is running.
func (r *Registry) Stop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(name)
}

func (r *Registry) stopLocked(name string) {
	if e, ok := r.timers[name]; ok {
		e.cancel()
		delete(r.timers, name)
	}
}

// StopAll cancels every running timer. Used by logout teardown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.timers {
		e.cancel()
		delete(r.timers, name)
	}
}

// Active reports whether the named timer is currently armed.
func (r *Registry) Active(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[name]
	return ok
}
