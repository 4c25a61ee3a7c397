// Package observ measures where a build spends its time.
package observ

import (
	"sort"
	"sync"
	"time"
)

// Phase is one sequential step of a build.
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
	Note  string
}

type stage struct {
	count int
	total time.Duration
	max   time.Duration
}

// Timer records sequential phases and per-unit stage durations. Phases are
// begun and ended by the driver goroutine; Add may be called from unit
// workers concurrently.
type Timer struct {
	mu     sync.Mutex
	phases []Phase
	stages map[string]*stage
}

func NewTimer() *Timer {
	return &Timer{phases: make([]Phase, 0, 4), stages: make(map[string]*stage)}
}

// Begin starts a phase and returns its index.
func (t *Timer) Begin(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End finishes the phase at idx. Unknown indexes are ignored.
func (t *Timer) End(idx int, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.Dur = time.Since(p.Start)
	p.Note = note
}

// Add accounts d to the named unit stage.
func (t *Timer) Add(name string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stages[name]
	if s == nil {
		s = &stage{}
		t.stages[name] = s
	}
	s.count++
	s.total += d
	s.max = max(s.max, d)
}

type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// StageReport sums one stage over all units. Units run in parallel, so the
// total may exceed the wall time of the phase that contains them.
type StageReport struct {
	Name    string  `json:"name"`
	Units   int     `json:"units"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
	Stages  []StageReport `json:"stages,omitempty"`
}

// Report lists phases in order and stages by name. TotalMS is the sum of
// the phases.
func (t *Timer) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	var r Report
	var total time.Duration
	for _, p := range t.phases {
		total += p.Dur
		r.Phases = append(r.Phases, PhaseReport{Name: p.Name, DurationMS: millis(p.Dur), Note: p.Note})
	}
	r.TotalMS = millis(total)
	for name, s := range t.stages {
		r.Stages = append(r.Stages, StageReport{Name: name, Units: s.count, TotalMS: millis(s.total), MaxMS: millis(s.max)})
	}
	sort.Slice(r.Stages, func(i, j int) bool { return r.Stages[i].Name < r.Stages[j].Name })
	return r
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
