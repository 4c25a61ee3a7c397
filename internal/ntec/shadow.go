package ntec

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"polybind/internal/host"
)

// shadowFile is the name of the generated file holding the stub methods.
const shadowFile = "zz_polybind_shadow.go"

// embedPrefix names the forwarding records of embedded interfaces.
const embedPrefix = "polybindEmbed"

// buildShadow returns a private copy of pkg where the declaration of param
// is a zero-field struct with stub methods.
func buildShadow(pkg *host.Package, param host.NamedInterface) (*host.Copy, error) {
	cp, err := host.Clone(pkg)
	if err != nil {
		return nil, err
	}
	spec, _ := host.FindTypeSpec(cp.Files, param.Name())
	if spec == nil {
		return nil, fmt.Errorf("shadow %s.%s: declaration not found", pkg.Path, param.Name())
	}
	spec.Assign = token.NoPos
	spec.Type = &ast.StructType{
		Struct: spec.Type.Pos(),
		Fields: &ast.FieldList{Opening: spec.Type.Pos(), Closing: spec.Type.Pos()},
	}

	dir := "."
	if len(pkg.FileNames) > 0 {
		dir = filepath.Dir(pkg.FileNames[0])
	}
	src := stubSource(pkg.Types, pkg.Name, param)
	if err := cp.AddFile(filepath.Join(dir, shadowFile), []byte(src)); err != nil {
		return nil, fmt.Errorf("shadow %s.%s: %w", pkg.Path, param.Name(), err)
	}
	return cp, nil
}

// printer renders types relative to the shadowed package and collects the
// imports the rendered text needs.
type printer struct {
	self    *types.Package
	aliases map[string]string // import path -> alias
}

func (p *printer) qualifier(other *types.Package) string {
	if other == p.self {
		return ""
	}
	alias, ok := p.aliases[other.Path()]
	if !ok {
		alias = "polybind" + strconv.Itoa(len(p.aliases))
		p.aliases[other.Path()] = alias
	}
	return alias
}

func (p *printer) typ(t types.Type) string {
	return types.TypeString(t, p.qualifier)
}

// params renders a parameter list as "a0 int, a1 ...string", or with blank
// names unless named is set. args are the forwarding arguments.
func (p *printer) params(sig *types.Signature, named bool) (decl string, args []string) {
	var parts []string
	for i := 0; i < sig.Params().Len(); i++ {
		t := sig.Params().At(i).Type()
		ts := p.typ(t)
		if sig.Variadic() && i == sig.Params().Len()-1 {
			ts = "..." + p.typ(t.(*types.Slice).Elem())
		}
		name := "_"
		if named {
			name = "a" + strconv.Itoa(i)
			arg := name
			if sig.Variadic() && i == sig.Params().Len()-1 {
				arg += "..."
			}
			args = append(args, arg)
		}
		parts = append(parts, name+" "+ts)
	}
	return strings.Join(parts, ", "), args
}

// results renders named blank results so a bare return yields zero values.
func (p *printer) results(sig *types.Signature, blank bool) string {
	n := sig.Results().Len()
	if n == 0 {
		return ""
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ts := p.typ(sig.Results().At(i).Type())
		if blank {
			ts = "_ " + ts
		}
		parts = append(parts, ts)
	}
	if !blank && n == 1 {
		return " " + parts[0]
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

type embedded struct {
	record  string
	methods []*types.Func
}

// stubSource generates the shadow file: direct stubs for explicit methods,
// and for each embedded interface a forwarding record that T delegates to.
func stubSource(self *types.Package, pkgName string, param host.NamedInterface) string {
	p := &printer{self: self, aliases: make(map[string]string)}
	name := param.Name()

	var body strings.Builder
	owned := make(map[string]bool)
	for i := 0; i < param.Iface.NumExplicitMethods(); i++ {
		m := param.Iface.ExplicitMethod(i)
		owned[m.Name()] = true
		sig := m.Type().(*types.Signature)
		decl, _ := p.params(sig, false)
		fmt.Fprintf(&body, "func (%s) %s(%s)%s { return }\n\n", name, m.Name(), decl, p.results(sig, true))
	}

	var embeds []embedded
	records := make(map[string]int)
	for i := 0; i < param.Iface.NumEmbeddeds(); i++ {
		et := param.Iface.EmbeddedType(i)
		iface, ok := et.Underlying().(*types.Interface)
		if !ok {
			continue
		}
		base := "Iface"
		if n, ok := types.Unalias(et).(*types.Named); ok {
			base = n.Obj().Name()
		}
		record := embedPrefix + base
		if n := records[base]; n > 0 {
			record += strconv.Itoa(n)
		}
		records[base]++
		e := embedded{record: record}
		for j := 0; j < iface.NumMethods(); j++ {
			m := iface.Method(j)
			if owned[m.Name()] {
				continue
			}
			owned[m.Name()] = true
			e.methods = append(e.methods, m)
		}
		embeds = append(embeds, e)
	}

	for _, e := range embeds {
		fmt.Fprintf(&body, "type %s struct{}\n\n", e.record)
		for _, m := range e.methods {
			sig := m.Type().(*types.Signature)
			decl, _ := p.params(sig, false)
			fmt.Fprintf(&body, "func (%s) %s(%s)%s { return }\n\n", e.record, m.Name(), decl, p.results(sig, true))

			fdecl, args := p.params(sig, true)
			call := fmt.Sprintf("%s{}.%s(%s)", e.record, m.Name(), strings.Join(args, ", "))
			if sig.Results().Len() > 0 {
				call = "return " + call
			}
			fmt.Fprintf(&body, "func (%s) %s(%s)%s { %s }\n\n", name, m.Name(), fdecl, p.results(sig, false), call)
		}
	}

	var out strings.Builder
	out.WriteString("// Code generated by polybind. DO NOT EDIT.\n\n")
	out.WriteString("package " + pkgName + "\n\n")
	if len(p.aliases) > 0 {
		paths := make([]string, 0, len(p.aliases))
		for path := range p.aliases {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		out.WriteString("import (\n")
		for _, path := range paths {
			fmt.Fprintf(&out, "\t%s %s\n", p.aliases[path], strconv.Quote(path))
		}
		out.WriteString(")\n\n")
	}
	out.WriteString(body.String())
	return out.String()
}
