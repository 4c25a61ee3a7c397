package mono

import (
	"context"
	"fmt"
	"go/ast"
	"maps"
	"strings"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
	"polybind/internal/trace"
)

// build runs the instantiation protocol for key. Dependencies are
// instantiated first through the same request, so cycles and budgets are
// seen by the chain.
func (c *Cache) build(ctx context.Context, req *request, r *binding.Resolved, key Key) *Instantiation {
	ctx, span := trace.Start(ctx, trace.ScopePackage, "mono:build", key.String())
	inst := &Instantiation{
		Key:      key,
		Path:     InstancePath(key),
		Base:     r.Target,
		Bindings: binding.ParseKey(key.Canonical),
	}
	defer func() {
		if inst.Failed {
			span.End("failed")
			return
		}
		span.End(inst.Path)
	}()
	site := r.Clause.Span

	if binding.IsCycleKey(r.Key) {
		return inst.fail(diag.NewError(diag.CyclicBinding, site,
			fmt.Sprintf("cyclic binding: %s refers back to a binding that is still being resolved", key)))
	}

	deps := make(map[string]string)
	for _, dep := range r.Deps() {
		di, ok := c.dependency(ctx, req, inst, dep)
		if !ok {
			return inst
		}
		deps[dep.Clause.Path] = di.Path
	}

	// clauses inside the base package are instantiated too
	nested, nd := c.baseClauses(ctx, r.Target)
	if diag.HasErrors(nd) {
		return inst.fail(nd...)
	}
	retarget := make(map[*ast.ImportSpec]string, len(nested))
	for _, nr := range nested {
		di, ok := c.dependency(ctx, req, inst, nr)
		if !ok {
			return inst
		}
		retarget[nr.Clause.Spec] = di.Path
	}

	p := newPrinter(c.prog, r.Unit, r.Target, deps)
	rw := host.NewRewrite(r.Target)
	imports := make(map[*ast.File]map[string]string)
	for _, b := range r.Bindings {
		text, uses, ds := p.render(b, site)
		if len(ds) > 0 {
			return inst.fail(ds...)
		}
		spec, file := host.FindTypeSpec(r.Target.Files, b.Param.Name())
		if spec == nil {
			return inst.fail(diag.NewError(diag.LoadFailed, site,
				fmt.Sprintf("%s: declaration of %s not found", r.Target.Path, b.Param.Name())))
		}
		ed, err := rw.File(file)
		if err != nil {
			return inst.fail(diag.NewError(diag.LoadFailed, site, err.Error()))
		}
		pad := strings.Repeat("\n", host.LineCount(r.Target.Fset, spec.Type.Pos(), spec.Type.End()))
		ed.Replace(spec.Type.Pos(), spec.Type.End(), "= "+text+pad)
		if imports[file] == nil {
			imports[file] = make(map[string]string)
		}
		maps.Copy(imports[file], uses)
	}
	inst.Promotions = p.promotions

	for _, f := range r.Target.Files {
		ed, err := rw.File(f)
		if err != nil {
			return inst.fail(diag.NewError(diag.LoadFailed, site, err.Error()))
		}
		if decl := host.ImportLine(imports[f]); decl != "" {
			ed.Insert(f.Name.End(), decl)
		}
		for _, spec := range f.Imports {
			if path, ok := retarget[spec]; ok {
				binding.Retarget(ed, spec, path)
			}
		}
		binding.StripDirectives(ed, f)
	}
	cp, raw, err := rw.Apply(inst.Path)
	if err != nil {
		return inst.fail(diag.NewError(diag.LoadFailed, site, err.Error()))
	}

	tpkg, info, errs := c.prog.Check(inst.Path, cp.Fset, cp.Files)
	if hard := host.HardErrors(errs); len(hard) > 0 {
		ds := make([]diag.Diagnostic, 0, len(hard))
		for _, e := range hard {
			var sp source.Span
			if e.Pos.IsValid() {
				sp = source.At(cp.Fset.Position(e.Pos))
			}
			ds = append(ds, diag.NewError(diag.TypeMismatchAtUse, sp,
				fmt.Sprintf("%s with %s: %s", r.Target.Name, describe(key), e.Msg)).
				WithNote(site, "instantiated here"))
		}
		return inst.fail(ds...)
	}

	sources, err := cp.Render()
	if err != nil {
		return inst.fail(diag.NewError(diag.LoadFailed, site, err.Error()))
	}
	pkg := &host.Package{
		Path:      inst.Path,
		Name:      r.Target.Name,
		Dir:       r.Target.Dir,
		Fset:      cp.Fset,
		Files:     cp.Files,
		FileNames: cp.Names,
		Sources:   raw,
		Types:     tpkg,
		Info:      info,
		Generated: true,
		Digest:    host.ComputeDigest(cp.Names, raw),
	}
	pkg.SetEligible(unbound(r.Target.EligibleNames(), r.Bindings))
	if err := c.prog.Register(pkg); err != nil {
		return inst.fail(diag.NewError(diag.LoadFailed, site, err.Error()))
	}
	for _, v := range host.PackageVars(pkg) {
		inst.State = append(inst.State, v.Name)
	}
	inst.Package, inst.Sources = pkg, sources
	return inst
}

// dependency instantiates dep on behalf of inst. A failed dependency fails
// inst with the dependency's diagnostics.
func (c *Cache) dependency(ctx context.Context, req *request, inst *Instantiation, dep *binding.Resolved) (*Instantiation, bool) {
	if dep.Failed {
		inst.fail(diag.NewError(diag.LoadFailed, dep.Clause.Span,
			fmt.Sprintf("binding of %q failed", dep.Clause.Path)))
		return nil, false
	}
	di, _, err := c.instantiate(ctx, req, dep)
	if err != nil {
		inst.fail(diag.NewError(diag.LoadFailed, dep.Clause.Span, err.Error()))
		return nil, false
	}
	if di.Failed {
		inst.fail(di.Diagnostics...)
		return nil, false
	}
	inst.Deps = append(inst.Deps, di.Key)
	return di, true
}

func unbound(eligible []string, bindings []binding.Binding) []string {
	bound := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		bound[b.Param.Name()] = true
	}
	var out []string
	for _, n := range eligible {
		if !bound[n] {
			out = append(out, n)
		}
	}
	return out
}

func describe(k Key) string {
	if k.Canonical == "" {
		return "no bindings"
	}
	return k.Canonical
}
