package httpreply

import "time"

// throttle limits progress notifications to one per interval. The first
// report and the final one always go through.
type throttle struct {
	interval time.Duration
	last     time.Time
	started  bool
	// latest values held back by the interval
	dirty    bool
	received int64
	total    int64
}

func (t *throttle) report(now time.Time, received, total int64, final bool, emit func(int64, int64)) {
	if final && t.started && !t.dirty && t.received == received && t.total == total {
		// already reported
		return
	}
	t.received, t.total = received, total
	if !t.started || final || now.Sub(t.last) >= t.interval {
		t.started = true
		t.last = now
		t.dirty = false
		emit(received, total)
		return
	}
	t.dirty = true
}

// flush emits held back values, if any.
func (t *throttle) flush(emit func(int64, int64)) {
	if t.dirty {
		t.dirty = false
		emit(t.received, t.total)
	}
}
