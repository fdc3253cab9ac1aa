package eventbus

import (
	"sync"
	"time"
)

type debounceState int

const (
	debounceIdle debounceState = iota
	debouncePending
)

// debouncer coalesces publishes of one event name: each publish replaces the
// pending payload and resets the timer; the latest envelope is flushed when
// the window expires with no further publish.
type debouncer struct {
	mu      sync.Mutex
	state   debounceState
	pending Envelope
	timer   *time.Timer
	window  time.Duration
	flush   func(Envelope)
}

func newDebouncer(window time.Duration, flush func(Envelope)) *debouncer {
	return &debouncer{window: window, flush: flush}
}

func (d *debouncer) publish(e Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = e
	if d.state == debounceIdle {
		d.state = debouncePending
		d.timer = time.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if d.state != debouncePending {
		d.mu.Unlock()
		return
	}
	e := d.pending
	d.state = debounceIdle
	d.mu.Unlock()
	d.flush(e)
}

// stop flushes a pending envelope immediately instead of dropping it.
func (d *debouncer) stop() {
	d.mu.Lock()
	if d.state != debouncePending {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	e := d.pending
	d.state = debounceIdle
	d.mu.Unlock()
	d.flush(e)
}
