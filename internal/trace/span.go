package trace

import (
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var (
	seq    atomic.Uint64
	spanID atomic.Uint64
	now    = time.Now
)

func nextSeq() uint64 { return seq.Add(1) }

// goid reads the goroutine number from the stack header
// ("goroutine 17 [running]:").
func goid() uint64 {
	var buf [64]byte
	fields := strings.Fields(string(buf[:runtime.Stack(buf[:], false)]))
	if len(fields) < 2 || fields[0] != "goroutine" {
		return 0
	}
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}

// Span is one operation on one subject. A span opened while tracing is
// off has no tracer and every method is a no-op.
type Span struct {
	tracer Tracer
	begin  Event
	extra  map[string]string
}

func open(t Tracer, scope Scope, op, subject string, parent uint64) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{}
	}
	sp := &Span{tracer: t, begin: Event{
		Time:     now(),
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   spanID.Add(1),
		ParentID: parent,
		GID:      goid(),
		Name:     op,
		Subject:  subject,
	}}
	ev := sp.begin
	t.Emit(&ev)
	return sp
}

// End emits the end event with outcome as its detail and returns how long
// the span was open.
func (s *Span) End(outcome string) time.Duration {
	if s == nil || s.tracer == nil {
		return 0
	}
	ev := s.begin
	ev.Time = now()
	ev.Kind = KindSpanEnd
	ev.Dur = ev.Time.Sub(s.begin.Time)
	ev.Detail = outcome
	ev.Extra = s.extra
	s.tracer.Emit(&ev)
	return ev.Dur
}

// WithExtra attaches a key-value pair to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string, 2)
	}
	s.extra[key] = value
	return s
}

// ID is zero for a disabled span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.begin.SpanID
}
