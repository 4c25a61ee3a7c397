package trace

import (
	"bufio"
	"io"
	"os"
	"sync"
)

// StreamTracer writes events as they arrive. Output is buffered and
// flushed at heartbeats, at driver span boundaries and by Flush.
type StreamTracer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	dst    io.Writer
	level  Level
	format Format
}

func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	return &StreamTracer{out: bufio.NewWriter(w), dst: w, level: level, format: format}
}

func (t *StreamTracer) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !t.level.ShouldEmit(ev.Scope) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ev.Seq = nextSeq()
	// write errors surface from Flush
	_, _ = t.out.Write(FormatEvent(ev, t.format))
	if ev.Kind == KindHeartbeat || ev.Scope == ScopeDriver {
		_ = t.out.Flush()
	}
}

func (t *StreamTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.Flush()
}

// Close flushes and closes the destination unless it is stdout or stderr.
func (t *StreamTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	if c, ok := t.dst.(io.Closer); ok && t.dst != os.Stderr && t.dst != os.Stdout {
		return c.Close()
	}
	return nil
}

func (t *StreamTracer) Level() Level  { return t.level }
func (t *StreamTracer) Enabled() bool { return t.level > LevelOff }
