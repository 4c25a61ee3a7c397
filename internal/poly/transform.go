package poly

import (
	"context"
	"fmt"
	"strconv"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
	"polybind/internal/trace"
)

// Rewritten is a unit lowered against the unmodified base packages.
type Rewritten struct {
	Unit    *host.Package
	Package *host.Package
	// Sources are the rewritten files, gofmt'ed, keyed by file name.
	Sources     map[string][]byte
	Conversions int
	Failed      bool
}

// Transform rewrites unit for the resolved clauses. The shared packages
// are left untouched; the result is a fresh, unregistered package that
// has been type-checked against the program.
func Transform(ctx context.Context, prog *host.Program, unit *host.Package, clauses []*binding.Resolved, opts Options) (*Rewritten, []diag.Diagnostic, error) {
	ctx, span := trace.Start(ctx, trace.ScopePackage, "poly", unit.Path)
	out := &Rewritten{Unit: unit}
	defer func() {
		if out.Failed {
			span.End("failed")
			return
		}
		span.WithExtra("conversions", strconv.Itoa(out.Conversions)).End("")
	}()

	if unit.Broken() || unit.Info == nil {
		out.Failed = true
		return out, nil, nil
	}
	for _, r := range clauses {
		if r.Failed {
			out.Failed = true
		}
	}
	if out.Failed {
		return out, nil, nil
	}

	w := newRewriter(unit, clauses, opts)
	w.collectOrigins()
	rw := host.NewRewrite(unit)
	for _, f := range unit.Files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ed, err := rw.File(f)
		if err != nil {
			return nil, nil, fmt.Errorf("poly %s: %w", unit.Path, err)
		}
		w.rewriteFile(f, ed)
		binding.StripDirectives(ed, f)
	}
	diags := w.diags
	out.Conversions = w.conversions
	if diag.HasErrors(diags) {
		out.Failed = true
		return out, diags, nil
	}

	cp, raw, err := rw.Apply(unit.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("poly %s: %w", unit.Path, err)
	}
	tpkg, info, errs := prog.Check(unit.Path, cp.Fset, cp.Files)
	if hard := host.HardErrors(errs); len(hard) > 0 {
		out.Failed = true
		for _, e := range hard {
			var sp source.Span
			if e.Pos.IsValid() {
				sp = source.At(cp.Fset.Position(e.Pos))
			}
			d := diag.NewError(diag.PolyRewriteInvalid, sp, "polymorphic lowering does not type-check: "+e.Msg)
			for _, r := range clauses {
				if r.Clause.Span.File() == sp.File() && len(r.Bindings) > 0 {
					d = d.WithNote(r.Clause.Span, fmt.Sprintf("conversions inserted for %s", r.Key))
				}
			}
			diags = append(diags, d)
		}
		return out, diags, nil
	}

	sources, err := cp.Render()
	if err != nil {
		return nil, nil, fmt.Errorf("poly %s: %w", unit.Path, err)
	}
	out.Sources = sources
	out.Package = &host.Package{
		Path:      unit.Path,
		Name:      unit.Name,
		Dir:       unit.Dir,
		Fset:      cp.Fset,
		Files:     cp.Files,
		FileNames: cp.Names,
		TestFiles: unit.TestFiles,
		Sources:   raw,
		Types:     tpkg,
		Info:      info,
		Generated: true,
		Digest:    host.ComputeDigest(cp.Names, raw),
	}
	return out, diags, nil
}
