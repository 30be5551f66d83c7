package sched

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period used for repository change fan-out.
const DefaultDebounceDelay = 1100 * time.Millisecond

// Debouncer groups rapid successive calls into a single callback after a
// quiet period.
//
// The callback is never run concurrently with itself by the debouncer.
type Debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	pending  bool
	seq      uint64 // detects stale timer callbacks
	stopped  bool
	callback func()
	running  sync.Mutex
}

// NewDebouncer creates a debouncer that runs callback once no Call has
// happened for delay.
func NewDebouncer(delay time.Duration, callback func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{
		delay:    delay,
		callback: callback,
	}
}

// Call schedules the callback, restarting the quiet period.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = true
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.pending || d.seq != seq || d.stopped {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()
		d.invoke()
	})
}

// Flush runs the callback now if a call is pending and cancels the timer.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++

	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.invoke()
}

// Cancel drops any pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// Stop cancels any pending call and ignores all future calls.
func (d *Debouncer) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Debouncer) invoke() {
	if d.callback == nil {
		return
	}
	d.running.Lock()
	defer d.running.Unlock()
	d.callback()
}
