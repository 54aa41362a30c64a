// Package sched provides one-shot timers keyed by stable identifiers.
// Creating a timer under an existing key replaces it, so callers get
// atomic cancel+create semantics for each logical timer slot.
package sched

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Handler receives the key of a fired timer. It is invoked from the
// timer's own goroutine; the handler owns its own serialization.
type Handler func(key string)

type Timers struct {
	handler Handler

	mu      sync.Mutex
	pending map[string]*entry
	stopped bool
}

type entry struct {
	timer *time.Timer
	at    time.Time
}

func New(handler Handler) *Timers {
	return &Timers{
		handler: handler,
		pending: make(map[string]*entry),
	}
}

// Create schedules the handler to run with key at the given instant,
// replacing any timer already registered under key. An instant in the
// past fires immediately.
func (t *Timers) Create(key string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if prev, ok := t.pending[key]; ok {
		prev.timer.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	e := &entry{at: at}
	e.timer = time.AfterFunc(d, func() { t.fire(key, e) })
	t.pending[key] = e
}

func (t *Timers) fire(key string, e *entry) {
	t.mu.Lock()
	// A replacement may have raced with this firing; only the current
	// registration is allowed to deliver.
	current, ok := t.pending[key]
	if !ok || current != e || t.stopped {
		t.mu.Unlock()
		return
	}
	delete(t.pending, key)
	t.mu.Unlock()
	t.handler(key)
}

// Cancel stops and removes the timer under key, reporting whether one
// was registered.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.pending, key)
	return true
}

// CancelPrefix cancels every timer whose key starts with prefix and
// returns how many were removed.
func (t *Timers) CancelPrefix(prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, e := range t.pending {
		if strings.HasPrefix(key, prefix) {
			e.timer.Stop()
			delete(t.pending, key)
			n++
		}
	}
	return n
}

// Keys returns the currently registered timer keys, sorted.
func (t *Timers) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.pending))
	for key := range t.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stop cancels all timers and rejects further Create calls.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, e := range t.pending {
		e.timer.Stop()
		delete(t.pending, key)
	}
}
