package host

import (
	"errors"
	"fmt"
	"go/ast"
	"go/importer"
	"go/token"
	"go/types"
	"sort"
	"strings"
	"sync"
)

var (
	ErrDuplicatePackage = errors.New("package already registered")
	ErrNotAType         = errors.New("expression does not denote a type")
)

// Program is the registry of loaded packages and published instantiations.
// It implements types.ImporterFrom: registered packages win, everything else
// goes to the source importer of the standard toolchain.
type Program struct {
	mu   sync.RWMutex
	pkgs map[string]*Package

	// scopeMu orders type-checking (readers) against export promotion
	// (writer), which inserts objects into an already checked package scope.
	scopeMu sync.RWMutex
	evalMu  sync.Mutex

	stdMu   sync.Mutex
	stdFset *token.FileSet
	std     types.ImporterFrom
}

func NewProgram() *Program {
	return &Program{
		pkgs:    make(map[string]*Package),
		stdFset: token.NewFileSet(),
	}
}

// Register publishes pkg under its import path.
func (p *Program) Register(pkg *Package) error {
	if pkg == nil || pkg.Path == "" {
		return fmt.Errorf("register: %w", errors.New("package without import path"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.pkgs[pkg.Path]; ok && old != pkg {
		return fmt.Errorf("register %s: %w", pkg.Path, ErrDuplicatePackage)
	}
	p.pkgs[pkg.Path] = pkg
	return nil
}

func (p *Program) Package(path string) (*Package, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pkg, ok := p.pkgs[path]
	return pkg, ok
}

// Packages returns all registered packages sorted by path.
func (p *Program) Packages() []*Package {
	p.mu.RLock()
	out := make([]*Package, 0, len(p.pkgs))
	for _, pkg := range p.pkgs {
		out = append(out, pkg)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (p *Program) Import(path string) (*types.Package, error) {
	return p.ImportFrom(path, "", 0)
}

func (p *Program) ImportFrom(path, dir string, mode types.ImportMode) (*types.Package, error) {
	if path == "unsafe" {
		return types.Unsafe, nil
	}
	if pkg, ok := p.Package(path); ok {
		if pkg.Types == nil {
			return nil, fmt.Errorf("import %q: package failed to load", path)
		}
		return pkg.Types, nil
	}
	p.stdMu.Lock()
	defer p.stdMu.Unlock()
	if p.std == nil {
		std, ok := importer.ForCompiler(p.stdFset, "source", nil).(types.ImporterFrom)
		if !ok {
			return nil, fmt.Errorf("import %q: source importer unavailable", path)
		}
		p.std = std
	}
	return p.std.ImportFrom(path, dir, mode)
}

// NewInfo allocates the maps every check in the engine needs.
func NewInfo() *types.Info {
	return &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Implicits:  make(map[ast.Node]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
		Scopes:     make(map[ast.Node]*types.Scope),
	}
}

// Check type-checks files as package path against the program. It never
// stops at the first error; all errors are returned in report order.
func (p *Program) Check(path string, fset *token.FileSet, files []*ast.File) (*types.Package, *types.Info, []types.Error) {
	p.scopeMu.RLock()
	defer p.scopeMu.RUnlock()

	info := NewInfo()
	var errs []types.Error
	conf := types.Config{
		Importer:    p,
		FakeImportC: true,
		Error: func(err error) {
			var te types.Error
			if errors.As(err, &te) {
				errs = append(errs, te)
				return
			}
			errs = append(errs, types.Error{Fset: fset, Msg: err.Error()})
		},
	}
	pkg, _ := conf.Check(path, fset, files, info)
	return pkg, info, errs
}

// ResolveType evaluates a type expression in the scope of pkg at pos. A
// valid pos selects the file scope, so imported package names are visible.
func (p *Program) ResolveType(pkg *Package, pos token.Pos, expr string) (types.Type, error) {
	if pkg == nil || pkg.Types == nil {
		return nil, fmt.Errorf("resolve %q: package not type-checked", expr)
	}
	p.scopeMu.RLock()
	defer p.scopeMu.RUnlock()
	p.evalMu.Lock()
	defer p.evalMu.Unlock()

	tv, err := types.Eval(pkg.Fset, pkg.Types, pos, expr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", expr, err)
	}
	if !tv.IsType() {
		return nil, fmt.Errorf("resolve %q: %w", expr, ErrNotAType)
	}
	return tv.Type, nil
}

// Promote makes the unexported type obj of pkg reachable as the exported
// alias name. The alias is inserted into the already checked scope so every
// later importer sees it; src is the declaration that backs it on disk.
func (p *Program) Promote(pkg *Package, name string, obj *types.TypeName) (alias types.Type, src string, err error) {
	if pkg == nil || pkg.Types == nil || obj == nil {
		return nil, "", errors.New("promote: package not type-checked")
	}
	if !token.IsExported(name) {
		return nil, "", fmt.Errorf("promote %s.%s: alias name is not exported", pkg.Path, name)
	}
	p.scopeMu.Lock()
	defer p.scopeMu.Unlock()

	scope := pkg.Types.Scope()
	src = promotionSource(pkg.Name, name, obj.Name())
	if existing := scope.Lookup(name); existing != nil {
		if tn, ok := existing.(*types.TypeName); ok && tn.IsAlias() && types.Identical(tn.Type(), obj.Type()) {
			return tn.Type(), src, nil
		}
		return nil, "", fmt.Errorf("promote %s.%s: name already declared", pkg.Path, name)
	}
	tn := types.NewTypeName(token.NoPos, pkg.Types, name, nil)
	types.NewAlias(tn, obj.Type())
	scope.Insert(tn)
	return tn.Type(), src, nil
}

// Lookup reads name from the scope of pkg, ordered against promotions.
func (p *Program) Lookup(pkg *types.Package, name string) types.Object {
	if pkg == nil {
		return nil
	}
	p.scopeMu.RLock()
	defer p.scopeMu.RUnlock()
	return pkg.Scope().Lookup(name)
}

// LookupInterface is LookupInterface ordered against promotions.
func (p *Program) LookupInterface(pkg *types.Package, name string) (NamedInterface, bool) {
	p.scopeMu.RLock()
	defer p.scopeMu.RUnlock()
	return LookupInterface(pkg, name)
}

// Interfaces is Interfaces ordered against promotions.
func (p *Program) Interfaces(pkg *types.Package) []NamedInterface {
	p.scopeMu.RLock()
	defer p.scopeMu.RUnlock()
	return Interfaces(pkg)
}

func promotionSource(pkgName, alias, target string) string {
	var b strings.Builder
	b.WriteString("// Code generated by polybind. DO NOT EDIT.\n\n")
	b.WriteString("package " + pkgName + "\n\n")
	b.WriteString("type " + alias + " = " + target + "\n")
	return b.String()
}

// HardErrors drops soft errors (unused imports and variables).
func HardErrors(errs []types.Error) []types.Error {
	var out []types.Error
	for _, e := range errs {
		if !e.Soft {
			out = append(out, e)
		}
	}
	return out
}
