package trace

import (
	"fmt"
	"sync"
	"time"
)

// Heartbeat emits a driver-scope event at a fixed interval. Heartbeats
// with no span ends in between point at a stuck instantiation or a
// stalled waiter; when the tracer keeps a ring, each beat also carries the
// number of spans in flight.
type Heartbeat struct {
	stop chan struct{}
	once sync.Once
	done sync.WaitGroup
}

// StartHeartbeat returns nil when tracing is off or interval is not
// positive. A nil Heartbeat is safe to stop.
func StartHeartbeat(tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{stop: make(chan struct{})}
	ring, _ := RingOf(tracer)
	h.done.Add(1)
	go func() {
		defer h.done.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for beat := 1; ; beat++ {
			select {
			case <-h.stop:
				return
			case at := <-ticker.C:
				ev := &Event{
					Time:   at,
					Kind:   KindHeartbeat,
					Scope:  ScopeDriver,
					Name:   "heartbeat",
					Detail: fmt.Sprintf("#%d", beat),
				}
				if ring != nil {
					ev.Extra = map[string]string{"in_flight": fmt.Sprint(len(ring.Open()))}
				}
				tracer.Emit(ev)
			}
		}
	}()
	return h
}

// Stop ends the heartbeat goroutine and waits for it.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	h.done.Wait()
}
