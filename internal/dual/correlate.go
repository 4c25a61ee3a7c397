package dual

import (
	"polybind/internal/diag"
	"polybind/internal/mono"
	"polybind/internal/poly"
)

const (
	polyAccepts = "accepted by the polymorphic lowering; the inserted conversion fails at run time"
	monoAccepts = "accepted by the monomorphic lowering"
)

// Outcome is one unit lowered both ways.
type Outcome struct {
	Poly      *poly.Rewritten
	PolyDiags []diag.Diagnostic
	Mono      *mono.Lowered
	MonoDiags []diag.Diagnostic
}

func (o Outcome) polyClean() bool {
	return o.Poly != nil && !o.Poly.Failed && !diag.HasErrors(o.PolyDiags)
}

func (o Outcome) monoClean() bool {
	return o.Mono != nil && !o.Mono.Failed && !diag.HasErrors(o.MonoDiags)
}

// Correlate merges the diagnostics of both lowerings. A misuse only one
// lowering rejects gets a note saying the other accepted it.
func Correlate(o Outcome) []diag.Diagnostic {
	polyOK, monoOK := o.polyClean(), o.monoClean()
	out := make([]diag.Diagnostic, 0, len(o.PolyDiags)+len(o.MonoDiags))
	for _, d := range o.MonoDiags {
		if d.Code == diag.TypeMismatchAtUse && polyOK {
			d = d.WithNote(d.Primary, polyAccepts)
		}
		out = append(out, d)
	}
	for _, d := range o.PolyDiags {
		if d.Code == diag.PolyRewriteInvalid && monoOK {
			d = d.WithNote(d.Primary, monoAccepts)
		}
		out = append(out, d)
	}
	diag.Sort(out)
	return out
}
