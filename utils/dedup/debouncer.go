package dedup

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// DebounceFunc runs a single coalesced pass and returns its result.
type DebounceFunc func() (interface{}, error)

// Debouncer coalesces rapid callers of an expensive operation. Each Call
// resets a shared timer; once the timer fires, the operation runs exactly once
// and every pending caller receives the same result. Used by category path
// validation, where many adapters finish their connect-time sync
// near-simultaneously.
type Debouncer struct {
	sync.Mutex
	clk   clock.Clock
	delay time.Duration
	f     DebounceFunc

	timer   *clock.Timer
	pending *debounceResult
}

type debounceResult struct {
	done chan struct{}
	val  interface{}
	err  error
}

// NewDebouncer creates a new Debouncer around f with the given settle delay.
func NewDebouncer(delay time.Duration, clk clock.Clock, f DebounceFunc) *Debouncer {
	return &Debouncer{clk: clk, delay: delay, f: f}
}

// Call schedules a run of the debounced operation and blocks until the
// coalesced pass completes. Concurrent and rapid sequential callers share one
// pass.
func (d *Debouncer) Call() (interface{}, error) {
	d.Lock()
	if d.pending == nil {
		d.pending = &debounceResult{done: make(chan struct{})}
		d.timer = d.clk.Timer(d.delay)
		go d.wait(d.timer, d.pending)
	} else {
		// Reset pushes the pending pass out by another full delay.
		d.timer.Reset(d.delay)
	}
	r := d.pending
	d.Unlock()

	<-r.done
	return r.val, r.err
}

func (d *Debouncer) wait(t *clock.Timer, r *debounceResult) {
	<-t.C

	d.Lock()
	// New callers from this point on start a fresh batch.
	d.pending = nil
	d.timer = nil
	d.Unlock()

	r.val, r.err = d.f()
	close(r.done)
}
