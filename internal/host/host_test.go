package host

import (
	"context"
	"go/types"
	"strconv"
	"strings"
	"sync"
	"testing"

	"polybind/internal/diag"
)

func load(t *testing.T, sources map[string]map[string]string) (*Program, map[string]*Package) {
	t.Helper()
	prog := NewProgram()
	pkgs, err := NewSourceLoader(prog, sources).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	byPath := make(map[string]*Package, len(pkgs))
	for _, p := range pkgs {
		byPath[p.Path] = p
	}
	return prog, byPath
}

var listSources = map[string]map[string]string{
	"example.com/list": {
		"list.go": `package list

type ValueType interface{}

type Stringer interface{ String() string }

var count int

type List struct{ items []ValueType }

func (l *List) Push(v ValueType) { count++; l.items = append(l.items, v) }
`,
		"list_test.go": `package list

import "testing"

func TestPush(t *testing.T) {}
`,
	},
	"example.com/app": {
		"main.go": `package app

import (
	list "example.com/list" //bind: ValueType => int
)

type Local struct{}

func Use() { var l list.List; l.Push(1) }
`,
	},
}

func TestSourceLoader_LoadsInDependencyOrder(t *testing.T) {
	prog, pkgs := load(t, listSources)
	app, lst := pkgs["example.com/app"], pkgs["example.com/list"]
	if app == nil || lst == nil {
		t.Fatalf("missing packages: %v", pkgs)
	}
	for _, p := range []*Package{app, lst} {
		if p.Broken() {
			t.Fatalf("%s broken: %v", p.Path, p.Problems)
		}
	}
	if got, ok := prog.Package("example.com/list"); !ok || got != lst {
		t.Fatalf("list not registered")
	}
	if len(lst.TestFiles) != 1 || len(lst.Files) != 1 {
		t.Fatalf("test files not separated: files=%d tests=%v", len(lst.Files), lst.TestFiles)
	}
	if lst.Digest.IsZero() {
		t.Fatalf("expected digest")
	}
}

func TestSourceLoader_ImportsRegisteredDependency(t *testing.T) {
	prog, pkgs := load(t, map[string]map[string]string{
		"example.com/lib": {"lib.go": "package lib\n\nfunc N() int { return 1 }\n"},
		"example.com/use": {"use.go": "package use\n\nimport \"example.com/lib\"\n\nvar X = lib.N()\n"},
	})
	use, lib := pkgs["example.com/use"], pkgs["example.com/lib"]
	if use.Broken() {
		t.Fatalf("use broken: %s", diag.FormatShort(use.Problems))
	}
	imps := use.Types.Imports()
	if len(imps) != 1 || imps[0] != lib.Types {
		t.Fatalf("use imports %v, want the registered lib", imps)
	}
	if got, ok := prog.Package("example.com/use"); !ok || got != use {
		t.Fatalf("use not registered")
	}
}

const boundListSource = `package list

type ValueType interface{}

type List struct{ items []ValueType }

func (l *List) At(i int) ValueType { return l.items[i] }
`

func TestSourceLoader_BoundUseIsProvisional(t *testing.T) {
	_, pkgs := load(t, map[string]map[string]string{
		"example.com/list": {"list.go": boundListSource},
		"example.com/app": {"app.go": `package app

import list "example.com/list" //bind: ValueType => int

func Next(l *list.List) int { return l.At(0) + 1 }
`},
		"example.com/plain": {"plain.go": `package plain

import "example.com/list"

func Next(l *list.List) int { return l.At(0) + 1 }
`},
	})
	app := pkgs["example.com/app"]
	if app.Broken() {
		t.Fatalf("app broken: %s", diag.FormatShort(app.Problems))
	}
	if len(app.Provisional) != 1 || app.Provisional[0].Primary.Start.Line != 5 {
		t.Fatalf("provisional = %s", diag.FormatShort(app.Provisional))
	}
	if !app.HasBindings() || pkgs["example.com/plain"].HasBindings() {
		t.Errorf("HasBindings mismatch")
	}
	if plain := pkgs["example.com/plain"]; !plain.Broken() || len(plain.Provisional) != 0 {
		t.Errorf("unbound misuse must stay fatal: problems=%d provisional=%d", len(plain.Problems), len(plain.Provisional))
	}
}

func TestSourceLoader_BoundSyntaxErrorIsFatal(t *testing.T) {
	_, pkgs := load(t, map[string]map[string]string{
		"example.com/list": {"list.go": boundListSource},
		"example.com/app": {"app.go": `package app

import list "example.com/list" //bind: ValueType => int

func Next(l *list.List) int { return l.At(0) + }
`},
	})
	if app := pkgs["example.com/app"]; !app.Broken() {
		t.Fatalf("syntax error accepted")
	}
}

func TestInterfaces_SortedAndExported(t *testing.T) {
	_, pkgs := load(t, listSources)
	var names []string
	for _, ni := range Interfaces(pkgs["example.com/list"].Types) {
		names = append(names, ni.Name())
	}
	if strings.Join(names, ",") != "Stringer,ValueType" {
		t.Fatalf("Interfaces = %v", names)
	}
	ni, ok := LookupInterface(pkgs["example.com/list"].Types, "Stringer")
	if !ok || len(ni.Methods()) != 1 || ni.Methods()[0].Name() != "String" {
		t.Fatalf("LookupInterface(Stringer) = %+v, %v", ni, ok)
	}
	if _, ok := LookupInterface(pkgs["example.com/list"].Types, "List"); ok {
		t.Fatalf("List is not interface-shaped")
	}
}

func TestPackageVars(t *testing.T) {
	_, pkgs := load(t, listSources)
	vars := PackageVars(pkgs["example.com/list"])
	if len(vars) != 1 || vars[0].Name != "count" {
		t.Fatalf("PackageVars = %+v", vars)
	}
	if vars[0].Span.Start.Line != 7 {
		t.Fatalf("count declared at line %d, want 7", vars[0].Span.Start.Line)
	}
}

func TestProgram_ResolveTypeInFileScope(t *testing.T) {
	prog, pkgs := load(t, listSources)
	app := pkgs["example.com/app"]
	at := app.Files[0].Imports[0].Pos()
	typ, err := prog.ResolveType(app, at, "*list.List")
	if err != nil {
		t.Fatalf("ResolveType: %v", err)
	}
	if typ.String() != "*example.com/list.List" {
		t.Fatalf("ResolveType = %s", typ)
	}
	if _, err := prog.ResolveType(app, at, "Local"); err != nil {
		t.Fatalf("ResolveType(Local): %v", err)
	}
	if _, err := prog.ResolveType(app, at, "Use"); err == nil {
		t.Fatalf("expected error for a non-type")
	}
}

func TestSourceLoader_ReportsCycles(t *testing.T) {
	_, pkgs := load(t, map[string]map[string]string{
		"a": {"a.go": "package a\n\nimport _ \"b\"\n"},
		"b": {"b.go": "package b\n\nimport _ \"a\"\n"},
	})
	for _, p := range pkgs {
		if !p.Broken() {
			t.Fatalf("%s should be broken", p.Path)
		}
		if p.Problems[0].Code != diag.LoadFailed || p.Problems[0].Message != "import cycle: a -> b -> a" {
			t.Fatalf("unexpected problem %s %q", p.Problems[0].Code, p.Problems[0].Message)
		}
	}
}

func TestSourceLoader_BrokenDependency(t *testing.T) {
	_, pkgs := load(t, map[string]map[string]string{
		"lib": {"lib.go": "package lib\n\nvar X int = \"s\"\n"},
		"app": {"app.go": "package app\n\nimport _ \"lib\"\n"},
	})
	app := pkgs["app"]
	found := false
	for _, d := range app.Problems {
		if strings.Contains(d.Message, `dependency "lib" has errors`) && len(d.Notes) == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected broken dependency report, got %v", app.Problems)
	}
}

func TestClone_KeepsFileNames(t *testing.T) {
	_, pkgs := load(t, listSources)
	lst := pkgs["example.com/list"]
	c, err := Clone(lst)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if len(c.Files) != 1 || c.Names[0] != "example.com/list/list.go" {
		t.Fatalf("clone names = %v", c.Names)
	}
	if c.Files[0] == lst.Files[0] {
		t.Fatalf("clone shares syntax with the original")
	}
	if pos := c.Fset.Position(c.Files[0].Name.Pos()); pos.Filename != "example.com/list/list.go" || pos.Line != 1 {
		t.Fatalf("clone position = %v", pos)
	}
	out, err := c.Render()
	if err != nil || !strings.Contains(string(out[c.Names[0]]), "type ValueType interface{}") {
		t.Fatalf("Render = %q, %v", out[c.Names[0]], err)
	}
}

func TestPackage_SetEligibleOnce(t *testing.T) {
	p := &Package{Path: "x"}
	if _, known := p.IsEligible("T"); known {
		t.Fatalf("eligibility must start unknown")
	}
	if !p.SetEligible([]string{"T"}) {
		t.Fatalf("first SetEligible must win")
	}
	if p.SetEligible(nil) {
		t.Fatalf("second SetEligible must be ignored")
	}
	if ok, known := p.IsEligible("T"); !ok || !known {
		t.Fatalf("IsEligible(T) = %v, %v", ok, known)
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"./...", "a/b", true},
		{"a/...", "a", true},
		{"a/...", "a/b", true},
		{"a/...", "ab", false},
		{"a/b", "a/b", true},
		{"./a/b", "a/b", true},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.path); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestProgram_PromoteWhileReading(t *testing.T) {
	prog, pkgs := load(t, map[string]map[string]string{
		"example.com/geo": {"geo.go": `package geo

type Shape interface{ Area() int }

type point struct{ x, y int }
`},
	})
	geo := pkgs["example.com/geo"]
	pt, ok := geo.Types.Scope().Lookup("point").(*types.TypeName)
	if !ok {
		t.Fatalf("point not found")
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			alias, _, err := prog.Promote(geo, "PolybindPoint"+strconv.Itoa(i), pt)
			if err != nil || !types.Identical(alias, pt.Type()) {
				t.Errorf("Promote: %v, %v", alias, err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, ok := prog.LookupInterface(geo.Types, "Shape"); !ok {
				t.Errorf("Shape lost during promotion")
			}
			if len(prog.Interfaces(geo.Types)) != 1 {
				t.Errorf("Interfaces changed during promotion")
			}
		}()
	}
	wg.Wait()

	if prog.Lookup(geo.Types, "PolybindPoint3") == nil {
		t.Fatalf("alias not inserted")
	}
	if _, src, err := prog.Promote(geo, "PolybindPoint3", pt); err != nil || !strings.Contains(src, "type PolybindPoint3 = point") {
		t.Fatalf("repeat Promote = %q, %v", src, err)
	}
}
