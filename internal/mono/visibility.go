package mono

import (
	"fmt"
	"go/types"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
)

// promotionFile holds the aliases added to a package by export promotion.
const promotionFile = "zz_polybind_export.go"

// printer spells concrete types from inside an instantiation of base.
// References to bound imports go to their instantiations; unexported types
// of other program packages are export-promoted first.
type printer struct {
	prog *host.Program
	unit *host.Package
	base *host.Package
	// deps maps a base import path to the instance path that replaces it.
	deps map[string]string

	aliases    map[string]string // import path -> local name
	uses       map[string]string // local name -> import path, per render
	promotions []Promotion
}

func newPrinter(prog *host.Program, unit, base *host.Package, deps map[string]string) *printer {
	return &printer{
		prog:    prog,
		unit:    unit,
		base:    base,
		deps:    deps,
		aliases: make(map[string]string),
	}
}

func (p *printer) qualifier(pkg *types.Package) string {
	if pkg.Path() == p.base.Path {
		return ""
	}
	path := pkg.Path()
	if inst, ok := p.deps[path]; ok {
		path = inst
	}
	name, ok := p.aliases[path]
	if !ok {
		name = "polybind" + strconv.Itoa(len(p.aliases))
		p.aliases[path] = name
	}
	p.uses[name] = path
	return name
}

// render returns the type expression for b and the imports it needs.
func (p *printer) render(b binding.Binding, site source.Span) (string, map[string]string, []diag.Diagnostic) {
	p.uses = make(map[string]string)
	v := &visibility{p: p, site: site, binding: b}
	t := v.visit(types.Unalias(b.Concrete.Type))
	if len(v.diags) > 0 {
		return "", nil, v.diags
	}
	if hasUnsafe(t) {
		p.uses["unsafe"] = "unsafe"
	}
	return types.TypeString(t, p.qualifier), p.uses, nil
}

type visibility struct {
	p       *printer
	site    source.Span
	binding binding.Binding
	diags   []diag.Diagnostic
}

func (v *visibility) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	v.diags = append(v.diags, diag.NewError(diag.BindingVisibility, v.binding.Pair.Span,
		fmt.Sprintf("%s => %s: %s", v.binding.Param.Name(), v.binding.Concrete.Expr, msg)))
}

// visit checks that every named type reachable from t can be named by the
// instantiation, and returns t with promoted types replaced by their aliases.
func (v *visibility) visit(t types.Type) types.Type {
	switch t := t.(type) {
	case *types.Basic:
		return t
	case *types.Alias:
		return v.visit(types.Unalias(t))
	case *types.Pointer:
		if e := v.visit(t.Elem()); e != t.Elem() {
			return types.NewPointer(e)
		}
	case *types.Slice:
		if e := v.visit(t.Elem()); e != t.Elem() {
			return types.NewSlice(e)
		}
	case *types.Array:
		if e := v.visit(t.Elem()); e != t.Elem() {
			return types.NewArray(e, t.Len())
		}
	case *types.Chan:
		if e := v.visit(t.Elem()); e != t.Elem() {
			return types.NewChan(t.Dir(), e)
		}
	case *types.Map:
		k, e := v.visit(t.Key()), v.visit(t.Elem())
		if k != t.Key() || e != t.Elem() {
			return types.NewMap(k, e)
		}
	case *types.Signature:
		params, pc := v.tuple(t.Params())
		results, rc := v.tuple(t.Results())
		if pc || rc {
			return types.NewSignatureType(nil, nil, nil, params, results, t.Variadic())
		}
	case *types.Struct:
		return v.structType(t)
	case *types.Interface:
		for i := 0; i < t.NumMethods(); i++ {
			m := t.Method(i)
			if !m.Exported() && m.Pkg() != nil && m.Pkg().Path() != v.p.base.Path {
				v.fail("method %s of an interface literal is not exported", m.Name())
			}
			before := len(v.p.promotions)
			if v.visit(m.Type()) != m.Type() || len(v.p.promotions) != before {
				v.fail("interface literal refers to unexported types")
			}
		}
	case *types.Named:
		return v.named(t)
	default:
		v.fail("type %s cannot be named outside its scope", t)
	}
	return t
}

func (v *visibility) tuple(t *types.Tuple) (*types.Tuple, bool) {
	if t == nil {
		return nil, false
	}
	vars := make([]*types.Var, t.Len())
	changed := false
	for i := range vars {
		orig := t.At(i)
		nt := v.visit(orig.Type())
		if nt != orig.Type() {
			changed = true
		}
		vars[i] = types.NewParam(orig.Pos(), orig.Pkg(), orig.Name(), nt)
	}
	return types.NewTuple(vars...), changed
}

func (v *visibility) structType(t *types.Struct) types.Type {
	fields := make([]*types.Var, t.NumFields())
	tags := make([]string, t.NumFields())
	changed := false
	for i := range fields {
		f := t.Field(i)
		if !f.Exported() && f.Pkg() != nil && f.Pkg().Path() != v.p.base.Path {
			v.fail("struct field %s is not exported", f.Name())
		}
		nt := v.visit(f.Type())
		if nt != f.Type() {
			changed = true
		}
		fields[i] = types.NewField(f.Pos(), f.Pkg(), f.Name(), nt, f.Embedded())
		tags[i] = t.Tag(i)
	}
	if !changed {
		return t
	}
	return types.NewStruct(fields, tags)
}

func (v *visibility) named(t *types.Named) types.Type {
	obj := t.Obj()
	pkg := obj.Pkg()
	if pkg == nil {
		return t
	}
	for i := 0; i < t.TypeArgs().Len(); i++ {
		arg := t.TypeArgs().At(i)
		if v.visit(arg) != arg {
			v.fail("type argument %s of %s is not exported", arg, obj.Name())
		}
	}
	switch {
	case pkg.Path() == v.p.base.Path:
		return t
	case v.p.unit != nil && pkg.Path() == v.p.unit.Path:
		v.fail("%s is declared in the importing package %s, which the instantiation cannot import", obj.Name(), pkg.Path())
		return t
	case pkg.Name() == "main":
		v.fail("%s is declared in a main package, which cannot be imported", obj.Name())
		return t
	case obj.Exported():
		return t
	}
	return v.promote(obj)
}

// promote adds an exported alias for the unexported obj to its package.
func (v *visibility) promote(obj *types.TypeName) types.Type {
	owner, ok := v.p.prog.Package(obj.Pkg().Path())
	if !ok || owner.Generated || owner.Types != obj.Pkg() {
		v.fail("%s.%s is not exported and its package cannot be changed", obj.Pkg().Name(), obj.Name())
		return obj.Type()
	}
	alias := promotedName(obj.Name())
	typ, src, err := v.p.prog.Promote(owner, alias, obj)
	if err != nil {
		v.fail("%s.%s is not exported: %v", obj.Pkg().Name(), obj.Name(), err)
		return obj.Type()
	}
	for _, pr := range v.p.promotions {
		if pr.Package == owner.Path && pr.Alias == alias {
			return typ
		}
	}
	dir := "."
	if len(owner.FileNames) > 0 {
		dir = filepath.Dir(owner.FileNames[0])
	}
	v.p.promotions = append(v.p.promotions, Promotion{
		Package: owner.Path,
		Alias:   alias,
		Target:  obj.Name(),
		File:    filepath.Join(dir, promotionFile),
		Source:  src,
	})
	return typ
}

// promotedName turns "point" into "PolybindPoint".
func promotedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return "Polybind" + string(unicode.ToUpper(r)) + name[size:]
}

func hasUnsafe(t types.Type) bool {
	return strings.Contains(types.TypeString(t, nil), "unsafe.Pointer")
}
