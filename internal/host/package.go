package host

import (
	"go/ast"
	"go/token"
	"go/types"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"polybind/internal/diag"
	"polybind/internal/project"
	"polybind/internal/source"
)

type Package struct {
	Path string
	Name string
	Dir  string

	Fset *token.FileSet
	// Files holds the non-test syntax, FileNames the matching file names.
	Files     []*ast.File
	FileNames []string
	// TestFiles lists _test.go files of the package. They never take part
	// in eligibility checks or transformations.
	TestFiles []string
	// Sources maps file name to the bytes Files were parsed from.
	Sources map[string][]byte

	Types *types.Package
	Info  *types.Info

	// Problems are load or type-check failures of the package itself.
	Problems []diag.Diagnostic
	// Provisional holds the type errors of a package whose imports carry
	// binding clauses. It was checked against the unbound base packages;
	// the lowerings decide whether these errors stand.
	Provisional []diag.Diagnostic
	// Generated marks packages produced by an instantiation.
	Generated bool
	Digest    project.Digest

	mu       sync.RWMutex
	eligible map[string]bool
}

// Broken reports whether the package failed to load or type-check.
func (p *Package) Broken() bool {
	return diag.HasErrors(p.Problems) || p.Types == nil
}

// BindDirective is the comment prefix that marks a binding clause.
const BindDirective = "bind:"

// DirectiveBody returns the text after "//bind:" (or "// bind:").
func DirectiveBody(text string) (string, bool) {
	rest, ok := strings.CutPrefix(text, "//")
	if !ok {
		return "", false
	}
	rest = strings.TrimLeft(rest, " \t")
	return strings.CutPrefix(rest, BindDirective)
}

// HasBindings reports whether any import of the package carries a binding
// clause.
func (p *Package) HasBindings() bool {
	for _, f := range p.Files {
		for _, spec := range f.Imports {
			for _, g := range []*ast.CommentGroup{spec.Doc, spec.Comment} {
				if g == nil {
					continue
				}
				for _, c := range g.List {
					if _, ok := DirectiveBody(c.Text); ok {
						return true
					}
				}
			}
		}
	}
	return false
}

// settle files type errors. Errors of a package with binding clauses are
// provisional unless they sit on an import line or have no position.
func (p *Package) settle(errs []diag.Diagnostic) {
	if len(errs) == 0 {
		return
	}
	if !p.HasBindings() {
		p.Problems = append(p.Problems, errs...)
		return
	}
	imports := make(map[string]bool)
	for _, f := range p.Files {
		for _, spec := range f.Imports {
			imports[lineKey(p.Fset.Position(spec.Pos()))] = true
		}
	}
	for _, d := range errs {
		if d.Severity != diag.SevError || !d.Primary.IsValid() || imports[lineKey(d.Primary.Start)] {
			p.Problems = append(p.Problems, d)
			continue
		}
		p.Provisional = append(p.Provisional, d)
	}
}

func lineKey(pos token.Position) string {
	return pos.Filename + ":" + strconv.Itoa(pos.Line)
}

func (p *Package) FirstProblem() *diag.Diagnostic {
	for i := range p.Problems {
		if p.Problems[i].Severity == diag.SevError {
			return &p.Problems[i]
		}
	}
	return nil
}

// SetEligible records the eligible parameter types. Only the first call
// takes effect.
func (p *Package) SetEligible(names []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eligible != nil {
		return false
	}
	p.eligible = make(map[string]bool, len(names))
	for _, n := range names {
		p.eligible[n] = true
	}
	return true
}

// IsEligible reports whether name is an eligible parameter type and whether
// eligibility has been computed at all.
func (p *Package) IsEligible(name string) (eligible, known bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.eligible == nil {
		return false, false
	}
	return p.eligible[name], true
}

func (p *Package) EligibleNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.eligible))
	for n := range p.eligible {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ComputeDigest hashes file names and sources in name order.
func ComputeDigest(names []string, sources map[string][]byte) project.Digest {
	sorted := slices.Clone(names)
	sort.Strings(sorted)
	parts := make([]project.Digest, 0, len(sorted)*2)
	for _, n := range sorted {
		parts = append(parts, project.DigestOf([]byte(n)), project.DigestOf(sources[n]))
	}
	return project.Combine(project.Digest{}, parts...)
}

// Meta returns the import skeleton of the package.
func (p *Package) Meta() project.PackageMeta {
	meta := project.PackageMeta{Path: p.Path, Hash: p.Digest}
	for _, f := range p.Files {
		if !meta.Span.IsValid() {
			meta.Span = source.SpanOf(p.Fset, f.Name)
		}
		for _, spec := range f.Imports {
			path, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			meta.Imports = append(meta.Imports, project.ImportMeta{
				Path: path,
				Span: source.SpanOf(p.Fset, spec),
			})
		}
	}
	return meta
}

// FileOf returns the syntax file containing pos.
func (p *Package) FileOf(pos token.Pos) *ast.File {
	for _, f := range p.Files {
		if f.FileStart <= pos && pos <= f.FileEnd {
			return f
		}
	}
	return nil
}

// NamedInterface is an exported, non-generic named type whose underlying
// type is an interface with a plain method set.
type NamedInterface struct {
	Obj   *types.TypeName
	Named *types.Named
	Iface *types.Interface
}

func (n NamedInterface) Name() string { return n.Obj.Name() }

// Methods returns the full method set, embedded interfaces included,
// ordered by name.
func (n NamedInterface) Methods() []*types.Func {
	out := make([]*types.Func, 0, n.Iface.NumMethods())
	for i := 0; i < n.Iface.NumMethods(); i++ {
		out = append(out, n.Iface.Method(i))
	}
	return out
}

// LookupInterface finds name in pkg and reports whether it is
// interface-shaped.
func LookupInterface(pkg *types.Package, name string) (NamedInterface, bool) {
	if pkg == nil {
		return NamedInterface{}, false
	}
	tn, ok := pkg.Scope().Lookup(name).(*types.TypeName)
	if !ok || tn.IsAlias() || !tn.Exported() {
		return NamedInterface{}, false
	}
	named, ok := tn.Type().(*types.Named)
	if !ok || named.TypeParams().Len() > 0 {
		return NamedInterface{}, false
	}
	iface, ok := named.Underlying().(*types.Interface)
	if !ok || !iface.IsMethodSet() {
		return NamedInterface{}, false
	}
	return NamedInterface{Obj: tn, Named: named, Iface: iface}, true
}

// Interfaces lists every interface-shaped named type of pkg, sorted by name.
func Interfaces(pkg *types.Package) []NamedInterface {
	if pkg == nil {
		return nil
	}
	var out []NamedInterface
	for _, name := range pkg.Scope().Names() {
		if ni, ok := LookupInterface(pkg, name); ok {
			out = append(out, ni)
		}
	}
	return out
}

// VarDecl is one package-level variable.
type VarDecl struct {
	Name string
	Span source.Span
}

// PackageVars lists the package-level mutable state declared in the
// non-test files, in source order. Blank identifiers are skipped.
func PackageVars(p *Package) []VarDecl {
	var out []VarDecl
	for _, f := range p.Files {
		for _, decl := range f.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.VAR {
				continue
			}
			for _, spec := range gd.Specs {
				vs := spec.(*ast.ValueSpec)
				for _, n := range vs.Names {
					if n.Name == "_" {
						continue
					}
					out = append(out, VarDecl{Name: n.Name, Span: source.SpanOf(p.Fset, n)})
				}
			}
		}
	}
	return out
}
