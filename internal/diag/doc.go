// Package diag defines the diagnostic model shared by every polybind phase.
//
// A Diagnostic carries a Severity, a Code from the binding taxonomy
// (ParamNotEligible, BindingUnsatisfied, CyclicBinding, ...), a short message,
// the primary source.Span and optional notes and fixes. Producers never format
// or print; rendering lives in internal/diagfmt.
//
// Phases report through the Reporter interface. BagReporter stores into a Bag
// with a hard limit, SyncReporter serializes parallel producers and
// DedupReporter collapses replayed failures. Bag.Sort gives the
// deterministic order used by all output formats.
package diag
