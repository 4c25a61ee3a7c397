package poly

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"sort"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
)

// target is one binding of a parameter type made by one clause of the unit.
type target struct {
	r *binding.Resolved
	b binding.Binding
}

// slot is an expression whose expected type is a bound parameter type.
// from is the syntax the expectation comes from, used for attribution.
type slot struct {
	param *types.TypeName
	from  ast.Node
}

type insertion struct {
	pos   token.Pos
	text  string
	depth int
	close bool
}

type rewriter struct {
	unit    *host.Package
	info    *types.Info
	opts    Options
	params  map[*types.TypeName][]target
	imports map[*types.PkgName]*binding.Resolved
	origins map[types.Object]ast.Node

	file  *ast.File
	names *fileNames
	slots map[ast.Expr]slot
	skip  map[ast.Expr]bool
	ins   []insertion

	diags       []diag.Diagnostic
	conversions int
}

func newRewriter(unit *host.Package, clauses []*binding.Resolved, opts Options) *rewriter {
	w := &rewriter{
		unit:    unit,
		info:    unit.Info,
		opts:    opts,
		params:  make(map[*types.TypeName][]target),
		imports: make(map[*types.PkgName]*binding.Resolved),
		origins: make(map[types.Object]ast.Node),
	}
	for _, r := range clauses {
		for _, b := range r.Bindings {
			w.params[b.Param.Obj] = append(w.params[b.Param.Obj], target{r: r, b: b})
		}
		if pn, ok := importObject(w.info, r.Clause.Spec).(*types.PkgName); ok {
			w.imports[pn] = r
		}
	}
	return w
}

func importObject(info *types.Info, spec *ast.ImportSpec) types.Object {
	if spec.Name != nil {
		return info.Defs[spec.Name]
	}
	return info.Implicits[spec]
}

func (w *rewriter) bound(t types.Type) *types.TypeName {
	if t == nil {
		return nil
	}
	n, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return nil
	}
	if _, ok := w.params[n.Obj()]; !ok {
		return nil
	}
	return n.Obj()
}

// rewriteFile records the conversions of f into ed.
func (w *rewriter) rewriteFile(f *ast.File, ed *host.Edit) {
	w.file = f
	w.names = newFileNames(w.unit.Types, w.info, f)
	w.slots = make(map[ast.Expr]slot)
	w.skip = make(map[ast.Expr]bool)
	w.ins = w.ins[:0]

	w.classify(f)
	w.emit(f)

	sort.SliceStable(w.ins, func(i, j int) bool {
		a, b := w.ins[i], w.ins[j]
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		if a.close != b.close {
			return a.close
		}
		if a.close {
			return a.depth > b.depth
		}
		return a.depth < b.depth
	})
	for _, in := range w.ins {
		ed.Insert(in.pos, in.text)
	}
	if decl := host.ImportLine(w.names.added); decl != "" {
		ed.Insert(f.Name.End(), decl)
	}
}

// classify marks the slots of f and the expressions that must keep their
// static type (assignment targets, address operands, asserted operands).
func (w *rewriter) classify(f *ast.File) {
	var results []*ast.FieldList
	astutil.Apply(f, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.FuncDecl:
			results = append(results, n.Type.Results)
		case *ast.FuncLit:
			results = append(results, n.Type.Results)
		case *ast.CallExpr:
			w.call(n)
		case *ast.AssignStmt:
			w.assign(n)
		case *ast.IncDecStmt:
			w.skip[n.X] = true
		case *ast.RangeStmt:
			w.skipAll(n.Key, n.Value)
		case *ast.ExprStmt:
			w.skip[n.X] = true
		case *ast.GoStmt:
			w.skip[n.Call] = true
		case *ast.DeferStmt:
			w.skip[n.Call] = true
		case *ast.ReturnStmt:
			if len(results) > 0 {
				w.ret(n, results[len(results)-1])
			}
		case *ast.CompositeLit:
			w.composite(n)
		case *ast.SendStmt:
			if t := w.info.TypeOf(n.Chan); t != nil {
				if ch, ok := t.Underlying().(*types.Chan); ok {
					w.expect(n.Value, ch.Elem(), n.Chan)
				}
			}
		case *ast.ValueSpec:
			if n.Type == nil {
				// inferred variables keep the parameter type
				w.skipAll(n.Values...)
				break
			}
			t := w.info.TypeOf(n.Type)
			for _, v := range n.Values {
				w.expect(v, t, n.Type)
			}
		case *ast.IndexExpr:
			if t := w.info.TypeOf(n.X); t != nil {
				if m, ok := t.Underlying().(*types.Map); ok {
					w.expect(n.Index, m.Key(), n.X)
				}
			}
		case *ast.UnaryExpr:
			if n.Op == token.AND {
				w.addressOf(n)
			}
		case *ast.TypeAssertExpr:
			w.skip[n.X] = true
		case *ast.BinaryExpr:
			if n.Op == token.EQL || n.Op == token.NEQ {
				if w.isNil(n.Y) {
					w.skip[n.X] = true
				}
				if w.isNil(n.X) {
					w.skip[n.Y] = true
				}
			}
		case *ast.SelectorExpr:
			w.skip[n.Sel] = true
		case *ast.ParenExpr:
			w.skip[n] = true
		}
		return true
	}, func(c *astutil.Cursor) bool {
		switch c.Node().(type) {
		case *ast.FuncDecl, *ast.FuncLit:
			results = results[:len(results)-1]
		}
		return true
	})
}

func (w *rewriter) skipAll(es ...ast.Expr) {
	for _, e := range es {
		if e != nil {
			w.skip[e] = true
		}
	}
}

func (w *rewriter) isNil(e ast.Expr) bool {
	tv, ok := w.info.Types[e]
	return ok && tv.IsNil()
}

func (w *rewriter) expect(e ast.Expr, t types.Type, from ast.Node) {
	if tn := w.bound(t); tn != nil {
		w.slots[e] = slot{param: tn, from: from}
	}
}

func (w *rewriter) call(n *ast.CallExpr) {
	tv := w.info.Types[n.Fun]
	switch {
	case tv.IsType():
		if w.bound(tv.Type) != nil {
			w.skipAll(n.Args...)
		}
		return
	case tv.IsBuiltin():
		w.builtin(n)
		return
	}
	if tv.Type == nil {
		return
	}
	sig, ok := tv.Type.Underlying().(*types.Signature)
	if !ok {
		return
	}
	if len(n.Args) == 1 {
		if _, tuple := w.info.TypeOf(n.Args[0]).(*types.Tuple); tuple {
			return
		}
	}
	params := sig.Params()
	for i, a := range n.Args {
		var pt types.Type
		switch {
		case sig.Variadic() && i >= params.Len()-1:
			last := params.At(params.Len() - 1).Type()
			if n.Ellipsis.IsValid() {
				pt = last
			} else if s, ok := last.Underlying().(*types.Slice); ok {
				pt = s.Elem()
			}
		case i < params.Len():
			pt = params.At(i).Type()
		}
		w.expect(a, pt, n.Fun)
	}
}

func (w *rewriter) builtin(n *ast.CallExpr) {
	id, ok := ast.Unparen(n.Fun).(*ast.Ident)
	if !ok || len(n.Args) < 2 {
		return
	}
	first := w.info.TypeOf(n.Args[0])
	if first == nil {
		return
	}
	switch id.Name {
	case "append":
		if s, ok := first.Underlying().(*types.Slice); ok && !n.Ellipsis.IsValid() {
			for _, a := range n.Args[1:] {
				w.expect(a, s.Elem(), n.Args[0])
			}
		}
	case "delete":
		if m, ok := first.Underlying().(*types.Map); ok {
			w.expect(n.Args[1], m.Key(), n.Args[0])
		}
	}
}

func (w *rewriter) assign(n *ast.AssignStmt) {
	w.skipAll(n.Lhs...)
	if n.Tok == token.DEFINE {
		w.skipAll(n.Rhs...)
		return
	}
	if n.Tok != token.ASSIGN || len(n.Lhs) != len(n.Rhs) {
		return
	}
	for i, lhs := range n.Lhs {
		w.expect(n.Rhs[i], w.info.TypeOf(lhs), lhs)
	}
}

func (w *rewriter) ret(n *ast.ReturnStmt, results *ast.FieldList) {
	if results == nil || len(n.Results) == 0 {
		return
	}
	var want []ast.Expr
	for _, f := range results.List {
		for range max(1, len(f.Names)) {
			want = append(want, f.Type)
		}
	}
	if len(want) != len(n.Results) {
		return
	}
	for i, e := range n.Results {
		w.expect(e, w.info.TypeOf(want[i]), want[i])
	}
}

func (w *rewriter) composite(n *ast.CompositeLit) {
	t := w.info.TypeOf(n)
	if t == nil {
		return
	}
	var from ast.Node = n
	if n.Type != nil {
		from = n.Type
	}
	switch u := t.Underlying().(type) {
	case *types.Slice:
		w.elements(n.Elts, u.Elem(), from)
	case *types.Array:
		w.elements(n.Elts, u.Elem(), from)
	case *types.Map:
		for _, el := range n.Elts {
			if kv, ok := el.(*ast.KeyValueExpr); ok {
				w.expect(kv.Key, u.Key(), from)
				w.expect(kv.Value, u.Elem(), from)
			}
		}
	case *types.Struct:
		for i, el := range n.Elts {
			if kv, ok := el.(*ast.KeyValueExpr); ok {
				id, ok := kv.Key.(*ast.Ident)
				if !ok {
					continue
				}
				w.skip[id] = true
				if fv, ok := w.info.Uses[id].(*types.Var); ok {
					w.expect(kv.Value, fv.Type(), from)
				}
				continue
			}
			if i < u.NumFields() {
				w.expect(el, u.Field(i).Type(), from)
			}
		}
	}
}

func (w *rewriter) elements(elts []ast.Expr, elem types.Type, from ast.Node) {
	for _, el := range elts {
		if kv, ok := el.(*ast.KeyValueExpr); ok {
			el = kv.Value
		}
		w.expect(el, elem, from)
	}
}

func (w *rewriter) addressOf(n *ast.UnaryExpr) {
	x := ast.Unparen(n.X)
	tn := w.bound(w.info.TypeOf(x))
	if tn == nil {
		return
	}
	w.skipAll(n.X, x)
	sp := source.SpanOf(w.unit.Fset, n)
	msg := fmt.Sprintf("address of %s: its type %s.%s is bound", types.ExprString(x), tn.Pkg().Name(), tn.Name())
	if w.opts.Address == AddressBoxed {
		w.diags = append(w.diags, diag.NewWarning(diag.AddressOfBoundField, sp,
			msg+"; the pointer refers to the boxed interface value"))
		return
	}
	d := diag.NewError(diag.AddressOfBoundField, sp, msg+"; no conversion of the pointer exists")
	for _, t := range w.params[tn] {
		d = d.WithNote(t.r.Clause.Span, fmt.Sprintf("%s bound to %s here", tn.Name(), t.b.Concrete.Expr))
	}
	w.diags = append(w.diags, d)
}

// emit walks f and records the insertions for every slot and every value
// of a bound type that reaches a context expecting something else.
func (w *rewriter) emit(f *ast.File) {
	var stack []ast.Node
	ast.Inspect(f, func(n ast.Node) bool {
		if n == nil {
			stack = stack[:len(stack)-1]
			return false
		}
		stack = append(stack, n)
		e, ok := n.(ast.Expr)
		if !ok {
			return true
		}
		depth := len(stack)
		if s, ok := w.slots[e]; ok {
			if t, ok := w.attribute(s.param, s.from, e); ok {
				w.wrap(e, depth, w.paramName(t, s.param))
			}
			return true
		}
		if w.skip[e] {
			return true
		}
		tv, ok := w.info.Types[e]
		if !ok || !tv.IsValue() || tv.IsNil() {
			return true
		}
		tn := w.bound(tv.Type)
		if tn == nil {
			return true
		}
		if t, ok := w.attribute(tn, e, e); ok {
			w.assert(e, depth, t)
		}
		return true
	})
}

func (w *rewriter) wrap(e ast.Expr, depth int, param string) {
	w.ins = append(w.ins,
		insertion{pos: e.Pos(), text: param + "(", depth: depth},
		insertion{pos: e.End(), text: ")", depth: depth, close: true})
	w.conversions++
}

func (w *rewriter) assert(e ast.Expr, depth int, t target) {
	conc := ".(" + w.names.typeString(t.b.Concrete.Type) + ")"
	if primary(e) {
		w.ins = append(w.ins, insertion{pos: e.End(), text: conc, depth: depth, close: true})
	} else {
		w.ins = append(w.ins,
			insertion{pos: e.Pos(), text: "(", depth: depth},
			insertion{pos: e.End(), text: ")" + conc, depth: depth, close: true})
	}
	w.conversions++
}

// paramName spells the parameter type in the current file, through the
// attributed import when it is declared there.
func (w *rewriter) paramName(t target, tn *types.TypeName) string {
	if t.r.Clause.File == w.file {
		switch local := t.r.LocalName(); local {
		case ".":
			return tn.Name()
		case "_":
		default:
			return local + "." + tn.Name()
		}
	}
	return w.names.typeString(tn.Type())
}

func primary(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Ident, *ast.SelectorExpr, *ast.CallExpr, *ast.IndexExpr, *ast.IndexListExpr,
		*ast.ParenExpr, *ast.TypeAssertExpr, *ast.SliceExpr, *ast.CompositeLit, *ast.BasicLit:
		return true
	}
	return false
}

// fileNames spells types from inside one file of the unit, adding imports
// for packages the file does not import yet.
type fileNames struct {
	self   *types.Package
	byPath map[string]string
	added  map[string]string
}

func newFileNames(self *types.Package, info *types.Info, f *ast.File) *fileNames {
	n := &fileNames{self: self, byPath: make(map[string]string), added: make(map[string]string)}
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		if _, seen := n.byPath[path]; seen {
			continue
		}
		if spec.Name != nil && spec.Name.Name == "." {
			n.byPath[path] = ""
			continue
		}
		if pn, ok := importObject(info, spec).(*types.PkgName); ok {
			n.byPath[path] = pn.Name()
		}
	}
	return n
}

func (n *fileNames) qualifier(pkg *types.Package) string {
	if pkg == n.self {
		return ""
	}
	if name, ok := n.byPath[pkg.Path()]; ok {
		return name
	}
	name := "polybind" + strconv.Itoa(len(n.added))
	n.added[name] = pkg.Path()
	n.byPath[pkg.Path()] = name
	return name
}

func (n *fileNames) typeString(t types.Type) string {
	return types.TypeString(t, n.qualifier)
}
