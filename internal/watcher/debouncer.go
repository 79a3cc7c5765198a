package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces triggers into a single signal emitted once no new
// trigger has arrived for the debounce window.
type Debouncer struct {
	window  time.Duration
	output  chan struct{}
	mu      sync.Mutex
	timer   *time.Timer
	pending int
	stopped bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		output: make(chan struct{}, 1),
	}
}

// Trigger records an event and restarts the window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits one signal for every trigger since the last flush.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.pending == 0 {
		return
	}
	d.pending = 0

	// A signal already waiting covers this one too.
	select {
	case d.output <- struct{}{}:
	default:
	}
}

// Output returns the channel of debounced signals.
func (d *Debouncer) Output() <-chan struct{} {
	return d.output
}

// Stop stops the debouncer. Pending triggers are dropped.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
