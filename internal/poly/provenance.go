package poly

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/source"
)

// collectOrigins maps every object declared in the unit to the syntax its
// type comes from: the declared type when written, the initializer
// otherwise.
func (w *rewriter) collectOrigins() {
	for _, f := range w.unit.Files {
		ast.Inspect(f, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.ValueSpec:
				for i, name := range n.Names {
					w.origin(name, declOrigin(n.Type, n.Values, i))
				}
			case *ast.AssignStmt:
				if n.Tok != token.DEFINE {
					break
				}
				for i, lhs := range n.Lhs {
					if id, ok := lhs.(*ast.Ident); ok {
						w.origin(id, declOrigin(nil, n.Rhs, i))
					}
				}
			case *ast.RangeStmt:
				if n.Tok != token.DEFINE {
					break
				}
				for _, e := range []ast.Expr{n.Key, n.Value} {
					if id, ok := e.(*ast.Ident); ok {
						w.origin(id, n.X)
					}
				}
			case *ast.Field:
				for _, name := range n.Names {
					w.origin(name, n.Type)
				}
			case *ast.FuncDecl:
				if n.Type.Results != nil {
					w.origin(n.Name, n.Type.Results)
				}
			}
			return true
		})
	}
}

func declOrigin(typ ast.Expr, values []ast.Expr, i int) ast.Node {
	switch {
	case typ != nil:
		return typ
	case len(values) == 1:
		return values[0]
	case i < len(values):
		return values[i]
	}
	return nil
}

func (w *rewriter) origin(id *ast.Ident, n ast.Node) {
	if n == nil || id.Name == "_" {
		return
	}
	if obj := w.info.Defs[id]; obj != nil {
		w.origins[obj] = n
	}
}

// provenance collects the bound imports n is derived from: imports named in
// n, and transitively the imports named where its variables, fields and
// functions are declared.
func (w *rewriter) provenance(n ast.Node) map[*binding.Resolved]bool {
	out := make(map[*binding.Resolved]bool)
	seen := make(map[types.Object]bool)
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		ast.Inspect(n, func(n ast.Node) bool {
			id, ok := n.(*ast.Ident)
			if !ok {
				return true
			}
			obj := w.info.Uses[id]
			if obj == nil || seen[obj] {
				return true
			}
			seen[obj] = true
			if pn, ok := obj.(*types.PkgName); ok {
				if r, ok := w.imports[pn]; ok {
					out[r] = true
				}
				return true
			}
			if o, ok := w.origins[obj]; ok {
				walk(o)
			}
			return true
		})
	}
	walk(n)
	return out
}

// attribute picks the binding of tn that governs the expression at. With
// one binding in the unit (or several agreeing ones) there is nothing to
// decide; otherwise exactly one of them must show up in the provenance of
// from.
func (w *rewriter) attribute(tn *types.TypeName, from ast.Node, at ast.Expr) (target, bool) {
	cands := w.params[tn]
	if agree(cands) {
		return w.preferLocal(cands), true
	}
	prov := w.provenance(from)
	var hits []target
	for _, c := range cands {
		if prov[c.r] {
			hits = append(hits, c)
		}
	}
	if len(hits) > 0 && agree(hits) {
		return w.preferLocal(hits), true
	}
	d := diag.NewError(diag.AmbiguousPolyBinding, source.SpanOf(w.unit.Fset, at),
		fmt.Sprintf("%s has type %s.%s, which is bound by %d imports; cannot tell which binding applies",
			types.ExprString(at), tn.Pkg().Name(), tn.Name(), len(cands)))
	for _, c := range cands {
		d = d.WithNote(c.r.Clause.Span, fmt.Sprintf("%s bound to %s here", tn.Name(), c.b.Concrete.Expr))
	}
	w.diags = append(w.diags, d)
	return target{}, false
}

func agree(ts []target) bool {
	if len(ts) == 0 {
		return false
	}
	for _, t := range ts[1:] {
		if t.b.Concrete.Descriptor != ts[0].b.Concrete.Descriptor {
			return false
		}
	}
	return true
}

func (w *rewriter) preferLocal(ts []target) target {
	for _, t := range ts {
		if t.r.Clause.File == w.file {
			return t
		}
	}
	return ts[0]
}
