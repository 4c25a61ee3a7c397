package trace

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// RingTracer keeps the most recent events and every span that has begun
// but not ended. After a panic or a stalled build the open spans name the
// units and instantiations that were in flight.
type RingTracer struct {
	mu      sync.Mutex
	buf     []Event
	written uint64
	open    map[uint64]Event
	level   Level
}

func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{
		buf:   make([]Event, capacity),
		open:  make(map[uint64]Event),
		level: level,
	}
}

func (t *RingTracer) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !t.level.ShouldEmit(ev.Scope) {
		return
	}
	stored := *ev

	t.mu.Lock()
	defer t.mu.Unlock()
	stored.Seq = nextSeq()
	t.buf[t.written%uint64(len(t.buf))] = stored
	t.written++
	switch stored.Kind {
	case KindSpanBegin:
		t.open[stored.SpanID] = stored
	case KindSpanEnd:
		delete(t.open, stored.SpanID)
	}
}

// Snapshot returns the retained events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := uint64(len(t.buf))
	if t.written <= n {
		return append([]Event(nil), t.buf[:t.written]...)
	}
	start := t.written % n
	out := make([]Event, 0, n)
	out = append(out, t.buf[start:]...)
	return append(out, t.buf[:start]...)
}

// Dropped counts events overwritten since the tracer was created.
func (t *RingTracer) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := uint64(len(t.buf)); t.written > n {
		return t.written - n
	}
	return 0
}

// Open returns the begin events of spans still in flight, oldest first.
func (t *RingTracer) Open() []Event {
	t.mu.Lock()
	out := make([]Event, 0, len(t.open))
	for _, ev := range t.open {
		out = append(out, ev)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Dump writes the retained events followed by the spans still open.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	for _, ev := range t.Snapshot() {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	open := t.Open()
	if len(open) == 0 || format == FormatNDJSON {
		return nil
	}
	if _, err := fmt.Fprintf(w, "in flight (%d):\n", len(open)); err != nil {
		return err
	}
	for _, ev := range open {
		if _, err := fmt.Fprintf(w, "  span %d [%s] %s (goroutine %d)\n", ev.SpanID, ev.Scope, strings.TrimSpace(ev.Name+" "+ev.Subject), ev.GID); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
