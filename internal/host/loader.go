package host

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/tools/go/packages"

	"polybind/internal/diag"
	"polybind/internal/project/dag"
	"polybind/internal/source"
)

// Loader produces type-checked packages and registers them in its Program.
type Loader interface {
	Load(ctx context.Context, patterns ...string) ([]*Package, error)
}

// Match reports whether an import path matches a go-style pattern
// ("./...", "all", "a/b/...", "a/b").
func Match(pattern, importPath string) bool {
	switch pattern {
	case "", "all", "./...", "...":
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/..."); ok {
		prefix = strings.TrimPrefix(prefix, "./")
		return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
	}
	return strings.TrimPrefix(pattern, "./") == importPath
}

func matchAny(patterns []string, importPath string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if Match(p, importPath) {
			return true
		}
	}
	return false
}

// SourceLoader type-checks in-memory packages: import path to file name to
// source. File names are joined with the import path so positions are unique.
type SourceLoader struct {
	prog    *Program
	sources map[string]map[string]string
}

func NewSourceLoader(prog *Program, sources map[string]map[string]string) *SourceLoader {
	return &SourceLoader{prog: prog, sources: sources}
}

func (l *SourceLoader) Load(ctx context.Context, patterns ...string) ([]*Package, error) {
	fset := token.NewFileSet()
	paths := make([]string, 0, len(l.sources))
	for p := range l.sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	parsed := make(map[string]*Package, len(paths))
	for _, ip := range paths {
		parsed[ip] = parseSources(fset, ip, l.sources[ip])
	}

	nodes := make([]dag.Node, 0, len(paths))
	collectors := make(map[string]*diag.Collector, len(paths))
	for _, ip := range paths {
		meta := parsed[ip].Meta()
		local := meta.Imports[:0:0]
		for _, imp := range meta.Imports {
			if _, ok := parsed[imp.Path]; ok {
				local = append(local, imp)
			}
		}
		meta.Imports = local
		c := &diag.Collector{}
		collectors[ip] = c
		nodes = append(nodes, dag.Node{Meta: meta, Reporter: c})
	}
	graph := dag.New(nodes)
	topo := graph.Sort()
	graph.ReportCycles(topo, diag.LoadFailed)

	for _, id := range topo.Order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkg := parsed[graph.Name(id)]
		if err := l.prog.Register(pkg); err != nil {
			return nil, err
		}
		if len(pkg.Files) == 0 {
			if !diag.HasErrors(pkg.Problems) {
				pkg.Problems = append(pkg.Problems, diag.NewError(diag.LoadFailed, source.Span{}, fmt.Sprintf("package %s: no Go files", pkg.Path)))
			}
			continue
		}
		tpkg, info, errs := l.prog.Check(pkg.Path, fset, pkg.Files)
		pkg.Types, pkg.Info = tpkg, info
		pkg.settle(typeErrors(errs))
	}

	// second pass: broken dependencies are reported at the import sites
	for _, ip := range paths {
		pkg := parsed[ip]
		pkg.Problems = append(pkg.Problems, collectors[ip].Items...)
		collectors[ip].Items = nil
		if pkg.Broken() {
			graph.MarkBroken(ip, pkg.FirstProblem())
		}
	}
	graph.ReportBrokenDeps()

	var out []*Package
	for _, ip := range paths {
		pkg := parsed[ip]
		pkg.Problems = append(pkg.Problems, collectors[ip].Items...)
		// members of an import cycle are not in the order
		if err := l.prog.Register(pkg); err != nil {
			return nil, err
		}
		if matchAny(patterns, ip) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func parseSources(fset *token.FileSet, importPath string, files map[string]string) *Package {
	pkg := &Package{Path: importPath, Fset: fset, Sources: make(map[string][]byte, len(files))}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		full := path.Join(importPath, n)
		src := []byte(files[n])
		pkg.Sources[full] = src
		if strings.HasSuffix(n, "_test.go") {
			pkg.TestFiles = append(pkg.TestFiles, full)
			continue
		}
		f, err := parser.ParseFile(fset, full, src, parseMode|parser.AllErrors)
		if err != nil {
			pkg.Problems = append(pkg.Problems, syntaxErrors(full, err)...)
			continue
		}
		if pkg.Name == "" {
			pkg.Name = f.Name.Name
		}
		pkg.Files = append(pkg.Files, f)
		pkg.FileNames = append(pkg.FileNames, full)
	}
	pkg.Digest = ComputeDigest(pkg.FileNames, pkg.Sources)
	return pkg
}

func syntaxErrors(file string, err error) []diag.Diagnostic {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		out := make([]diag.Diagnostic, 0, len(list))
		for _, e := range list {
			out = append(out, diag.NewError(diag.LoadFailed, source.At(e.Pos), e.Msg))
		}
		return out
	}
	return []diag.Diagnostic{diag.NewError(diag.LoadFailed, source.At(token.Position{Filename: file}), err.Error())}
}

func typeErrors(errs []types.Error) []diag.Diagnostic {
	out := make([]diag.Diagnostic, 0, len(errs))
	for _, e := range errs {
		sev := diag.SevError
		if e.Soft {
			sev = diag.SevWarning
		}
		var sp source.Span
		if e.Fset != nil && e.Pos.IsValid() {
			sp = source.At(e.Fset.Position(e.Pos))
		}
		out = append(out, diag.New(sev, diag.LoadFailed, sp, e.Msg))
	}
	return out
}

// PackagesLoader loads packages from disk through golang.org/x/tools/go/packages.
// Every package of the import graph is registered, so later checks share
// type identity with the loaded code.
type PackagesLoader struct {
	prog       *Program
	Dir        string
	Env        []string
	BuildFlags []string
}

func NewPackagesLoader(prog *Program, dir string) *PackagesLoader {
	return &PackagesLoader{prog: prog, Dir: dir}
}

func (l *PackagesLoader) Load(ctx context.Context, patterns ...string) ([]*Package, error) {
	fset := token.NewFileSet()
	var srcMu sync.Mutex
	sources := make(map[string][]byte)

	cfg := &packages.Config{
		Context: ctx,
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedSyntax |
			packages.NeedTypes |
			packages.NeedTypesInfo |
			packages.NeedImports |
			packages.NeedDeps,
		Dir:        l.Dir,
		Env:        l.Env,
		BuildFlags: l.BuildFlags,
		Fset:       fset,
		Tests:      true,
		ParseFile: func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
			srcMu.Lock()
			sources[filename] = src
			srcMu.Unlock()
			return parser.ParseFile(fset, filename, src, parseMode|parser.AllErrors)
		},
	}
	roots, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}

	testFiles := make(map[string][]string)
	plain := make(map[string]*packages.Package)
	packages.Visit(roots, nil, func(p *packages.Package) {
		if base, ok := testVariantOf(p); ok {
			for _, f := range p.GoFiles {
				if strings.HasSuffix(f, "_test.go") {
					testFiles[base] = append(testFiles[base], f)
				}
			}
			return
		}
		if p.ID == p.PkgPath && !strings.HasSuffix(p.PkgPath, ".test") {
			plain[p.PkgPath] = p
		}
	})

	rootSet := make(map[string]bool, len(roots))
	for _, r := range roots {
		if _, ok := testVariantOf(r); !ok {
			rootSet[r.PkgPath] = true
		}
	}

	paths := make([]string, 0, len(plain))
	for p := range plain {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []*Package
	for _, ip := range paths {
		p := plain[ip]
		pkg := &Package{
			Path:      p.PkgPath,
			Name:      p.Name,
			Fset:      fset,
			Files:     p.Syntax,
			Types:     p.Types,
			Info:      p.TypesInfo,
			TestFiles: dedupStrings(testFiles[ip]),
			Sources:   make(map[string][]byte, len(p.Syntax)),
		}
		if len(p.GoFiles) > 0 {
			pkg.Dir = path.Dir(p.GoFiles[0])
		}
		srcMu.Lock()
		for _, f := range p.Syntax {
			name := fset.File(f.Pos()).Name()
			pkg.FileNames = append(pkg.FileNames, name)
			if src, ok := sources[name]; ok {
				pkg.Sources[name] = src
			}
		}
		srcMu.Unlock()
		pkg.Digest = ComputeDigest(pkg.FileNames, pkg.Sources)
		var typeErrs []diag.Diagnostic
		for _, e := range p.Errors {
			d := diag.NewError(diag.LoadFailed, parsePos(e.Pos), e.Msg)
			if e.Kind == packages.TypeError {
				typeErrs = append(typeErrs, d)
				continue
			}
			pkg.Problems = append(pkg.Problems, d)
		}
		pkg.settle(typeErrs)
		if err := l.prog.Register(pkg); err != nil {
			return nil, err
		}
		if rootSet[ip] {
			out = append(out, pkg)
		}
	}
	return out, nil
}

// testVariantOf recognises "p [p.test]" and "p_test [p.test]" packages.
func testVariantOf(p *packages.Package) (string, bool) {
	i := strings.Index(p.ID, " [")
	if i < 0 {
		return "", false
	}
	return strings.TrimSuffix(p.ID[:i], "_test"), true
}

// parsePos turns "file:line:col" into a span; anything else yields no position.
func parsePos(pos string) source.Span {
	if pos == "" || pos == "-" {
		return source.Span{}
	}
	parts := strings.Split(pos, ":")
	p := token.Position{Filename: parts[0]}
	if len(parts) > 1 {
		_, _ = fmt.Sscanf(parts[1], "%d", &p.Line)
	}
	if len(parts) > 2 {
		_, _ = fmt.Sscanf(parts[2], "%d", &p.Column)
	}
	return source.At(p)
}

func dedupStrings(in []string) []string {
	sorted := append([]string(nil), in...)
	sort.Strings(sorted)
	var out []string
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
