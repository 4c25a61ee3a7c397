package trace

import "io"

// Tracer receives events. Emit must be safe for concurrent use.
type Tracer interface {
	Emit(ev *Event)
	Flush() error
	Close() error
	Level() Level
	Enabled() bool
}

// Options describes the tracer Open builds.
type Options struct {
	Level Level
	// Stream receives every event as it happens; nil disables streaming.
	Stream io.Writer
	Format Format
	// Ring is the number of recent events kept in memory for dumps; zero
	// disables the ring.
	Ring int
}

// Open builds the tracer opts describes. It is Nop when the level is off
// or neither a stream nor a ring is requested.
func Open(opts Options) Tracer {
	if opts.Level == LevelOff {
		return Nop
	}
	var ts []Tracer
	if opts.Stream != nil {
		ts = append(ts, NewStreamTracer(opts.Stream, opts.Level, opts.Format))
	}
	if opts.Ring > 0 {
		ts = append(ts, NewRingTracer(opts.Ring, opts.Level))
	}
	switch len(ts) {
	case 0:
		return Nop
	case 1:
		return ts[0]
	}
	return NewMultiTracer(opts.Level, ts...)
}
