package trace

import "time"

// Kind is what an event marks.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{
	KindSpanBegin: "begin",
	KindSpanEnd:   "end",
	KindPoint:     "point",
	KindHeartbeat: "heartbeat",
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Scope is the granularity of an event. Lower is coarser.
type Scope uint8

const (
	ScopeDriver  Scope = iota + 1 // one build
	ScopePass                     // eligibility, resolve, poly, mono, dual
	ScopePackage                  // one package, unit or instantiation
	ScopeDetail                   // cache hits, single candidates
)

var scopeNames = [...]string{
	ScopeDriver:  "driver",
	ScopePass:    "pass",
	ScopePackage: "package",
	ScopeDetail:  "detail",
}

func (s Scope) String() string {
	if s > 0 && int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return "unknown"
}

// Event is one trace record. Name is the operation ("ntec:check",
// "mono:build") and Subject what it operates on: a package path, a unit
// or an instantiation key.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64
	GID      uint64
	Name     string
	Subject  string
	Detail   string
	// Dur is set on span ends.
	Dur   time.Duration
	Extra map[string]string
}
