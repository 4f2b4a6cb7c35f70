package reconciler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// delayScheduler is the spec §9 design note's "delay-scheduler" abstraction:
// schedule(key, delay, fn) / cancel(key), with at-most-one-timer-per-key.
// It backs RetryState's per-VM retry timers.
type delayScheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newDelayScheduler() *delayScheduler {
	return &delayScheduler{timers: make(map[uuid.UUID]*time.Timer)}
}

// Schedule arms a one-shot timer for key, replacing any existing one.
func (d *delayScheduler) Schedule(key uuid.UUID, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel stops and removes key's timer, if any.
func (d *delayScheduler) Cancel(key uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// CancelAll stops every pending timer, used by engine shutdown/reset.
func (d *delayScheduler) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
