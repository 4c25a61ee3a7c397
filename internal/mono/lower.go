package mono

import (
	"context"
	"fmt"
	"go/ast"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
	"polybind/internal/trace"
)

// Lowered is a unit rewritten to import instantiations.
type Lowered struct {
	Unit *host.Package
	// Package is the rewritten unit, type-checked against the
	// instantiations. Nil when lowering failed.
	Package   *host.Package
	Sources   map[string][]byte
	Instances []*Instantiation
	Failed    bool
}

// Lower instantiates every clause of unit and rewrites its imports to the
// instance paths. The rewritten unit is type-checked; errors are misuses of
// a bound type at a use site. A clause that failed to resolve fails the
// unit without further diagnostics.
func (c *Cache) Lower(ctx context.Context, unit *host.Package, clauses []*binding.Resolved) (*Lowered, []diag.Diagnostic, error) {
	ctx, span := trace.Start(ctx, trace.ScopePackage, "mono:lower", unit.Path)
	defer span.End("")

	out := &Lowered{Unit: unit}
	var diags []diag.Diagnostic
	retarget := make(map[*ast.ImportSpec]string, len(clauses))
	for _, r := range clauses {
		if r.Failed {
			out.Failed = true
			continue
		}
		inst, built, err := c.Instantiate(ctx, r)
		if err != nil {
			return nil, nil, err
		}
		if inst.Failed {
			out.Failed = true
			if built {
				diags = append(diags, inst.Diagnostics...)
			} else {
				diags = append(diags, inst.Replay(r.Clause.Span)...)
			}
			continue
		}
		out.Instances = append(out.Instances, inst)
		retarget[r.Clause.Spec] = inst.Path
	}
	if out.Failed {
		return out, diags, nil
	}

	rw := host.NewRewrite(unit)
	for _, f := range unit.Files {
		ed, err := rw.File(f)
		if err != nil {
			return nil, nil, fmt.Errorf("lower %s: %w", unit.Path, err)
		}
		for _, spec := range f.Imports {
			if path, ok := retarget[spec]; ok {
				binding.Retarget(ed, spec, path)
			}
		}
		binding.StripDirectives(ed, f)
	}
	cp, raw, err := rw.Apply(unit.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("lower %s: %w", unit.Path, err)
	}

	tpkg, info, errs := c.prog.Check(unit.Path, cp.Fset, cp.Files)
	if hard := host.HardErrors(errs); len(hard) > 0 {
		out.Failed = true
		for _, e := range hard {
			var sp source.Span
			if e.Pos.IsValid() {
				sp = source.At(cp.Fset.Position(e.Pos))
			}
			d := diag.NewError(diag.TypeMismatchAtUse, sp, e.Msg)
			for _, r := range clauses {
				if r.Clause.Span.File() == sp.File() {
					d = d.WithNote(r.Clause.Span, fmt.Sprintf("%s instantiated with %s", r.Clause.Path, describe(Key{Canonical: r.Key})))
				}
			}
			diags = append(diags, d)
		}
		return out, diags, nil
	}

	sources, err := cp.Render()
	if err != nil {
		return nil, nil, fmt.Errorf("lower %s: %w", unit.Path, err)
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
