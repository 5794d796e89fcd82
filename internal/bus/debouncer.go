// Package bus moves change notifications between sync participants: a
// debouncer for outbound pushes, same-device broadcasters and the
// authority's cross-device signal feed.
package bus

import (
	"sync"
	"time"
)

// Debouncer delays a keyed action until no new request for that key has
// arrived for the configured delay. Each Schedule cancels the pending timer
// for its key and starts a new one.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer returns a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, timers: make(map[string]*time.Timer)}
}

// Schedule arranges for fn to run after the quiet period unless another
// Schedule for the same key arrives first. fn runs on its own goroutine.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A later Schedule may have replaced this timer after it fired.
		if d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

// Pending reports how many keys have a scheduled action.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every pending action. Later Schedule calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}

// Reset lets a stopped debouncer accept Schedule calls again.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.stopped = false
	d.mu.Unlock()
}
