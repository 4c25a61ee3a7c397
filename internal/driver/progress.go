package driver

import "time"

// Stage is a phase of a build as shown to the user.
type Stage string

const (
	StageLoad     Stage = "load"
	StageEligible Stage = "eligible"
	StageBind     Stage = "bind"
	StagePoly     Stage = "poly"
	StageMono     Stage = "mono"
	StageDual     Stage = "dual"
	// StageFinish closes a unit.
	StageFinish Stage = "finish"
)

// Status captures progress within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for one unit, or for the whole build when Unit is
// empty.
type Event struct {
	Unit    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. OnEvent is called from the build's
// worker goroutines.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events to a channel.
type ChannelSink chan<- Event

func (s ChannelSink) OnEvent(ev Event) { s <- ev }

func emit(sink ProgressSink, ev Event) {
	if sink != nil {
		sink.OnEvent(ev)
	}
}
