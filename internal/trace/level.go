package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff    Level = iota
	LevelError        // kept in the ring, dumped on failure
	LevelPhase        // driver and pass boundaries
	LevelDetail       // per package and per instantiation
	LevelDebug        // cache hits and single candidates
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

// finest scope each level lets through
var levelScope = [...]Scope{0, ScopePass, ScopePass, ScopePackage, ScopeDetail}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(s)
	if s == "" {
		return LevelOff, nil
	}
	for l, name := range levelNames {
		if name == s {
			return Level(l), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level %q (want %s)", s, strings.Join(levelNames[:], "|"))
}

// ShouldEmit reports whether events of scope pass this level.
func (l Level) ShouldEmit(scope Scope) bool {
	return int(l) < len(levelScope) && scope <= levelScope[l]
}
