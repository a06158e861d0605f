package intake

import (
	"github.com/hearthd/hearth/internal/store"
)

// eventRing is a bounded ring buffer of accepted events. The oldest event is
// overwritten once capacity is reached. Not safe for concurrent use — the
// intake lock covers it.
type eventRing struct {
	buf  []store.Event
	head int // next write position
	size int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]store.Event, capacity)}
}

func (r *eventRing) Append(ev store.Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Snapshot returns the buffered events in arrival order.
func (r *eventRing) Snapshot() []store.Event {
	out := make([]store.Event, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *eventRing) Len() int {
	return r.size
}
