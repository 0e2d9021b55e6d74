package search

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

const DefaultDebounce = 300 * time.Millisecond

// DebounceState is the phase of a Debouncer.
type DebounceState int

const (
	// Idle means no query has been typed yet.
	Idle DebounceState = iota
	// Pending means the raw query has changed and is waiting out the delay.
	Pending
	// Settled means the raw query is the one in effect.
	Settled
)

func (s DebounceState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Debouncer holds a raw query and the settled query derived from it. The
// raw value settles once it has gone unchanged for the delay. Time is read
// from the injected clock on every access.
type Debouncer struct {
	mu       sync.Mutex
	clock    clock.Clock
	delay    time.Duration
	touched  bool
	raw      string
	settled  string
	deadline time.Time
}

func NewDebouncer(clk clock.Clock, delay time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.WallClock
	}
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{clock: clk, delay: delay}
}

// Set records a new raw query and restarts the quiet period.
func (d *Debouncer) Set(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touched = true
	d.raw = query
	if query == d.settled || d.delay == 0 {
		d.settled = query
		d.deadline = time.Time{}
		return
	}
	d.deadline = d.clock.Now().Add(d.delay)
}

// Flush settles the raw query immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled = d.raw
	d.deadline = time.Time{}
}

func (d *Debouncer) Raw() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw
}

func (d *Debouncer) Settled() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	return d.settled
}

// IsPending is true exactly while the raw query differs from the settled one.
func (d *Debouncer) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	return d.raw != d.settled
}

func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	switch {
	case !d.touched:
		return Idle
	case d.raw != d.settled:
		return Pending
	default:
		return Settled
	}
}

// Deadline returns when the pending query settles, or the zero time.
func (d *Debouncer) Deadline() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()
	return d.deadline
}

func (d *Debouncer) advanceLocked() {
	if d.deadline.IsZero() || d.clock.Now().Before(d.deadline) {
		return
	}
	d.settled = d.raw
	d.deadline = time.Time{}
}
