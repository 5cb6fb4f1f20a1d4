package socketio

import (
	"sort"
	"sync"
	"time"
)

// BroadcastDebouncer collapses rapid change notifications into one batched
// callback. Notifications for several topics within the window produce a
// single flush listing every topic that changed.
type BroadcastDebouncer struct {
	window   time.Duration
	callback func(topics []string)

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
	stopped bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
func NewBroadcastDebouncer(window time.Duration, callback func(topics []string)) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:   window,
		callback: callback,
		pending:  make(map[string]bool),
	}
}

// Notify records that topic changed. The callback is deferred until the
// window elapses without further notifications.
func (d *BroadcastDebouncer) Notify(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[topic] = true

	// Reset the timer
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	topics := make([]string, 0, len(d.pending))
	for t := range d.pending {
		topics = append(topics, t)
	}
	clear(d.pending)
	d.mu.Unlock()

	sort.Strings(topics)
	if d.callback != nil {
		d.callback(topics)
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	clear(d.pending)
}
