package binding

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/types"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
)

// Concrete is a resolved binding type.
type Concrete struct {
	Type types.Type
	Expr string
	// Descriptor is the type printed with full import paths; references to
	// bound imports carry that import's key in braces.
	Descriptor string
}

type Binding struct {
	Param    host.NamedInterface
	Concrete Concrete
	Pair     Pair
	// Deps maps package paths named by the concrete type to the bound import
	// of the same unit they are reached through.
	Deps map[string]*Resolved
}

// Resolved is a validated clause of one unit.
type Resolved struct {
	Clause   *Clause
	Unit     *host.Package
	Target   *host.Package
	Bindings []Binding
	Key      string
	Failed   bool
}

func (r *Resolved) Pairs() []KeyPair {
	out := make([]KeyPair, 0, len(r.Bindings))
	for _, b := range r.Bindings {
		out = append(out, KeyPair{Param: b.Param.Name(), Descriptor: b.Concrete.Descriptor})
	}
	return out
}

// Bound returns the binding of the named parameter type, if any.
func (r *Resolved) Bound(name string) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.Param.Name() == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Deps lists every bound import the concrete types refer to, ordered by
// import path and key.
func (r *Resolved) Deps() []*Resolved {
	seen := make(map[*Resolved]bool)
	var out []*Resolved
	for _, b := range r.Bindings {
		for _, d := range b.Deps {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clause.Path != out[j].Clause.Path {
			return out[i].Clause.Path < out[j].Clause.Path
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// LocalName is the name the bound import goes by in its file.
func (r *Resolved) LocalName() string {
	name := path.Base(r.Clause.Path)
	if r.Target != nil && r.Target.Name != "" {
		name = r.Target.Name
	}
	return r.Clause.LocalName(name)
}

// Resolve validates the pairs of one clause against target. Every pair is
// checked for duplicates, eligibility of the parameter, resolution of the
// type in the unit's file scope and capability satisfaction. Bindings come
// back in clause order with plain descriptors.
func Resolve(ctx context.Context, prog *host.Program, unit *host.Package, c *Clause, target *host.Package) ([]Binding, []diag.Diagnostic) {
	var (
		out   []Binding
		diags []diag.Diagnostic
		first = make(map[string]Pair)
	)
	localName := c.LocalName(target.Name)
	for _, pair := range c.Pairs {
		if ctx.Err() != nil {
			return nil, diags
		}
		if pair.Qualifier != "" && pair.Qualifier != localName && pair.Qualifier != target.Name {
			diags = append(diags, diag.NewError(diag.BindingSyntax, pair.Span,
				fmt.Sprintf("qualifier %q does not name import %q", pair.Qualifier, c.Path)))
			continue
		}
		if prev, dup := first[pair.Param]; dup {
			diags = append(diags, diag.NewError(diag.DuplicateBinding, pair.Span,
				fmt.Sprintf("%s.%s is bound more than once", target.Name, pair.Param)).
				WithNote(prev.Span, "first bound here"))
			continue
		}
		first[pair.Param] = pair

		param, d := eligibleParam(prog, target, pair)
		if d != nil {
			diags = append(diags, *d)
			continue
		}
		typ, err := prog.ResolveType(unit, c.Spec.Pos(), pair.TypeExpr)
		if err != nil {
			diags = append(diags, diag.NewError(diag.BindingSyntax, pair.Span,
				fmt.Sprintf("cannot resolve binding type: %v", err)))
			continue
		}
		if missing := Satisfies(typ, param); len(missing) > 0 {
			diags = append(diags, unsatisfied(pair, param, typ, missing))
			continue
		}
		out = append(out, Binding{
			Param: param,
			Pair:  pair,
			Concrete: Concrete{
				Type:       typ,
				Expr:       pair.TypeExpr,
				Descriptor: types.TypeString(types.Unalias(typ), nil),
			},
		})
	}
	return out, diags
}

func eligibleParam(prog *host.Program, target *host.Package, pair Pair) (host.NamedInterface, *diag.Diagnostic) {
	param, isIface := prog.LookupInterface(target.Types, pair.Param)
	eligible, known := target.IsEligible(pair.Param)
	if isIface && eligible {
		return param, nil
	}
	var d diag.Diagnostic
	switch {
	case isIface && !known:
		d = diag.NewError(diag.ParamNotEligible, pair.Span,
			fmt.Sprintf("%s.%s has not been checked for eligibility", target.Name, pair.Param))
	case isIface:
		d = diag.NewError(diag.ParamNotEligible, pair.Span,
			fmt.Sprintf("%s.%s is not eligible: the package uses it structurally", target.Name, pair.Param))
	case prog.Lookup(target.Types, pair.Param) != nil:
		d = diag.NewError(diag.ParamNotEligible, pair.Span,
			fmt.Sprintf("%s.%s is not an exported interface-shaped named type", target.Name, pair.Param))
	default:
		d = diag.NewError(diag.ParamNotEligible, pair.Span,
			fmt.Sprintf("%s has no parameter type %s", target.Path, pair.Param))
		if near, ok := closest(pair.Param, target.EligibleNames()); ok {
			fixed := pair
			fixed.Param = near
			d = d.WithFix("did you mean "+near+"?", diag.FixEdit{Span: pair.Span, NewText: fixed.String()})
		}
	}
	if isIface && target.Fset != nil {
		d = d.WithNote(source.At(target.Fset.Position(param.Obj.Pos())), "declared here")
	}
	return host.NamedInterface{}, &d
}

func unsatisfied(pair Pair, param host.NamedInterface, typ types.Type, missing []Mismatch) diag.Diagnostic {
	names := make([]string, 0, len(missing))
	for _, m := range missing {
		names = append(names, m.Method)
	}
	d := diag.NewError(diag.BindingUnsatisfied, pair.Span,
		fmt.Sprintf("%s does not satisfy %s: missing %s", types.TypeString(typ, nil), param.Name(), strings.Join(names, ", ")))
	for _, m := range missing {
		d = d.WithNote(pair.Span, m.String())
	}
	return d
}

// ResolveUnit resolves every binding clause of unit and computes the
// canonical key of each clause that resolved cleanly.
func ResolveUnit(ctx context.Context, prog *host.Program, unit *host.Package) ([]*Resolved, []diag.Diagnostic) {
	var (
		all   []*Resolved
		diags []diag.Diagnostic
	)
	byFile := make(map[*ast.File][]*Resolved)
	for _, f := range unit.Files {
		clauses, cd := ParseClauses(unit.Fset, f)
		diags = append(diags, cd...)
		for _, c := range clauses {
			r := &Resolved{Clause: c, Unit: unit}
			all = append(all, r)
			byFile[f] = append(byFile[f], r)

			target, ok := prog.Package(c.Path)
			switch {
			case !ok:
				diags = append(diags, diag.NewError(diag.LoadFailed, c.Span,
					fmt.Sprintf("cannot bind %q: package is not loaded", c.Path)))
				r.Failed = true
				continue
			case target.Broken():
				d := diag.NewError(diag.LoadFailed, c.Span, fmt.Sprintf("cannot bind %q: package has errors", c.Path))
				if first := target.FirstProblem(); first != nil {
					d = d.WithNote(first.Primary, first.Message)
				}
				diags = append(diags, d)
				r.Failed = true
				continue
			}
			r.Target = target
			bindings, bd := Resolve(ctx, prog, unit, c, target)
			r.Bindings = bindings
			diags = append(diags, bd...)
			if diag.HasErrors(bd) {
				r.Failed = true
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return all, diags
	}

	for _, rs := range byFile {
		for _, r := range rs {
			if r.Failed {
				continue
			}
			for i := range r.Bindings {
				deps, d := bindingDeps(r.Bindings[i].Pair, rs)
				if d != nil {
					diags = append(diags, *d)
					r.Failed = true
					continue
				}
				r.Bindings[i].Deps = deps
			}
		}
	}
	// a clause whose concrete types go through a failed clause fails too
	for changed := true; changed; {
		changed = false
		for _, r := range all {
			if r.Failed {
				continue
			}
			for _, dep := range r.Deps() {
				if dep.Failed {
					r.Failed = true
					changed = true
					break
				}
			}
		}
	}
	for _, r := range all {
		if !r.Failed {
			r.Key = keyOf(r, map[*Resolved]bool{})
		}
	}
	return all, diags
}

// bindingDeps finds the bound imports of the same file a type expression
// refers to through qualified identifiers.
func bindingDeps(pair Pair, sameFile []*Resolved) (map[string]*Resolved, *diag.Diagnostic) {
	expr, err := parser.ParseExpr(pair.TypeExpr)
	if err != nil {
		return nil, nil
	}
	byName := make(map[string]*Resolved, len(sameFile))
	for _, r := range sameFile {
		byName[r.LocalName()] = r
	}
	var (
		deps map[string]*Resolved
		bad  *diag.Diagnostic
	)
	ast.Inspect(expr, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok || bad != nil {
			return bad == nil
		}
		x, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		r, ok := byName[x.Name]
		if !ok {
			return true
		}
		if deps == nil {
			deps = make(map[string]*Resolved)
		}
		if prev, ok := deps[r.Clause.Path]; ok && prev != r {
			d := diag.NewError(diag.BindingSyntax, pair.Span,
				fmt.Sprintf("type %q refers to two bindings of %q", pair.TypeExpr, r.Clause.Path))
			bad = &d
			return false
		}
		deps[r.Clause.Path] = r
		return true
	})
	return deps, bad
}

// cycleMark stands in for the key of a clause that is already being keyed.
const cycleMark = "…"

func keyOf(r *Resolved, stack map[*Resolved]bool) string {
	if stack[r] {
		return cycleMark
	}
	stack[r] = true
	defer delete(stack, r)

	pairs := make([]KeyPair, 0, len(r.Bindings))
	for _, b := range r.Bindings {
		desc := b.Concrete.Descriptor
		if len(b.Deps) > 0 {
			desc = types.TypeString(types.Unalias(b.Concrete.Type), func(p *types.Package) string {
				if dep, ok := b.Deps[p.Path()]; ok {
					return p.Path() + "{" + keyOf(dep, stack) + "}"
				}
				return p.Path()
			})
		}
		pairs = append(pairs, KeyPair{Param: b.Param.Name(), Descriptor: desc})
	}
	return CanonicalKey(pairs)
}

// IsCycleKey reports whether key was cut short by a reference cycle.
func IsCycleKey(key string) bool {
	return strings.Contains(key, "{"+cycleMark+"}")
}

// closest returns the candidate within two edits of name, if any. Names
// are compared case-folded.
func closest(name string, candidates []string) (string, bool) {
	fold := cases.Fold()
	name = fold.String(name)
	best, bestDist := "", 3
	for _, c := range candidates {
		if d := editDistance([]rune(name), []rune(fold.String(c))); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, best != ""
}

func editDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
