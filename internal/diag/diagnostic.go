package diag

import "polybind/internal/source"

type Note struct {
	Span source.Span
	Msg  string
}

type FixEdit struct {
	Span    source.Span
	NewText string
}

type Fix struct {
	Title string
	Edits []FixEdit
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  source.Span
	Notes    []Note
	Fixes    []Fix
}

// Kind returns the stable taxonomy name of the diagnostic (e.g. "CyclicBinding").
func (d Diagnostic) Kind() string {
	return d.Code.Name()
}

func (d Diagnostic) String() string {
	return d.Primary.String() + ": " + d.Severity.Label() + " " + d.Code.Name() + ": " + d.Message
}
