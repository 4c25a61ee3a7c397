package mono

import (
	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
)

// Promotion is an exported alias added to a package so an instantiation can
// name one of its unexported types.
type Promotion struct {
	Package string
	Alias   string
	Target  string
	// File and Source back the alias on disk.
	File   string
	Source string
}

// Instantiation is a specialized copy of a base package. It is immutable
// once published.
type Instantiation struct {
	Key  Key
	Path string
	Base *host.Package
	// Package is nil when the build failed.
	Package  *host.Package
	Sources  map[string][]byte
	Bindings []binding.KeyPair
	Deps     []Key

	Promotions []Promotion
	// State names the package-level variables this instantiation owns its
	// own copy of.
	State []string

	Failed      bool
	Diagnostics []diag.Diagnostic
}

func (i *Instantiation) fail(ds ...diag.Diagnostic) *Instantiation {
	i.Failed = true
	i.Package = nil
	i.Sources = nil
	i.Diagnostics = append(i.Diagnostics, ds...)
	diag.Sort(i.Diagnostics)
	return i
}

// Replay returns the failure diagnostics re-anchored at site, for a
// requester that did not run the build.
func (i *Instantiation) Replay(site source.Span) []diag.Diagnostic {
	out := make([]diag.Diagnostic, 0, len(i.Diagnostics))
	for _, d := range i.Diagnostics {
		out = append(out, d.At(site))
	}
	return out
}
