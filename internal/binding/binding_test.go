package binding

import (
	"context"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"polybind/internal/diag"
	"polybind/internal/host"
)

func parseFile(t *testing.T, src string) (*token.FileSet, []*Clause, []diag.Diagnostic) {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "unit.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cs, ds := ParseClauses(fset, f)
	return fset, cs, ds
}

func TestParseClauses_Forms(t *testing.T) {
	_, cs, ds := parseFile(t, `package app

import (
	ilist "example.com/list" //bind: list.ValueType => int
	slist "example.com/list" // bind: ValueType => string
	// bind: F => func(int, string) (bool, error), G => map[string]int
	"example.com/fn"
	"example.com/empty" //bind:
	"example.com/plain" // just a comment
)
`)
	if len(ds) != 0 {
		t.Fatalf("unexpected diagnostics: %v", ds)
	}
	if len(cs) != 4 {
		t.Fatalf("got %d clauses, want 4", len(cs))
	}
	if cs[0].Alias != "ilist" || cs[0].Pairs[0].Qualifier != "list" || cs[0].Pairs[0].TypeExpr != "int" {
		t.Fatalf("clause 0 = %+v", cs[0])
	}
	if cs[1].Pairs[0].Param != "ValueType" || cs[1].Pairs[0].TypeExpr != "string" {
		t.Fatalf("clause 1 = %+v", cs[1].Pairs)
	}
	if len(cs[2].Pairs) != 2 || cs[2].Pairs[0].TypeExpr != "func(int, string) (bool, error)" {
		t.Fatalf("clause 2 = %+v", cs[2].Pairs)
	}
	if cs[3].Path != "example.com/empty" || len(cs[3].Pairs) != 0 {
		t.Fatalf("empty clause = %+v", cs[3])
	}
	if sp := cs[1].Pairs[0].Span; sp.Start.Line != 5 || sp.Start.Column < 30 {
		t.Fatalf("pair span = %v", sp)
	}
}

func TestParseClauses_Malformed(t *testing.T) {
	cases := []string{
		`import l "example.com/list" //bind: ValueType int`,
		`import l "example.com/list" //bind: Value Type => int`,
		`import l "example.com/list" //bind: ValueType => `,
		`import l "example.com/list" //bind: ValueType => int,`,
		`import l "example.com/list" //bind: ValueType => map[int`,
		`import _ "example.com/list" //bind: ValueType => int`,
	}
	for _, c := range cases {
		_, cs, ds := parseFile(t, "package app\n\n"+c+"\n")
		if len(cs) != 0 || len(ds) == 0 || ds[0].Code != diag.BindingSyntax {
			t.Errorf("%s: clauses=%d diags=%v", c, len(cs), ds)
		}
	}
}

func TestCanonicalKey_PermutationInvariant(t *testing.T) {
	a := []KeyPair{{"Locker", "*example.com/lockpkg.Spin"}, {"MapKey", "string"}, {"MapValue", "int"}}
	b := []KeyPair{{"MapValue", "int"}, {"Locker", "*example.com/lockpkg.Spin"}, {"MapKey", "string"}}
	if CanonicalKey(a) != CanonicalKey(b) {
		t.Fatalf("keys differ: %q vs %q", CanonicalKey(a), CanonicalKey(b))
	}
	want := "Locker=*example.com/lockpkg.Spin;MapKey=string;MapValue=int"
	if got := CanonicalKey(b); got != want {
		t.Fatalf("CanonicalKey = %q, want %q", got, want)
	}
	if CanonicalKey(nil) != "" {
		t.Fatalf("empty key must be empty")
	}
	back := ParseKey("E=example.com/y{F=int;G=string}.F;H=struct{a int; b int}")
	if len(back) != 2 || back[0].Descriptor != "example.com/y{F=int;G=string}.F" || back[1].Param != "H" {
		t.Fatalf("ParseKey = %+v", back)
	}
}

var syncSources = map[string]map[string]string{
	"example.com/sync": {"sync.go": `package sync

type Locker interface {
	Lock()
	Unlock()
}

type MapKey interface{}

type MapValue interface{}

type Ordered interface{ Less(other Ordered) bool }
`},
	"example.com/lockpkg": {"lock.go": `package lockpkg

type Spin struct{ n int }

func (s *Spin) Lock()   {}
func (s *Spin) Unlock() {}

type Half struct{}

func (Half) Lock() {}

type Num int

func (n Num) Less(other Num) bool { return n < other }
`},
}

func loadUnit(t *testing.T, unitSrc string, eligible map[string][]string) (*host.Program, *host.Package) {
	t.Helper()
	sources := map[string]map[string]string{"example.com/app": {"app.go": unitSrc}}
	for k, v := range syncSources {
		sources[k] = v
	}
	prog := host.NewProgram()
	if _, err := host.NewSourceLoader(prog, sources).Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for path, names := range eligible {
		pkg, _ := prog.Package(path)
		pkg.SetEligible(names)
	}
	unit, _ := prog.Package("example.com/app")
	if unit.Broken() {
		t.Fatalf("unit broken: %v", unit.Problems)
	}
	return prog, unit
}

var allSync = map[string][]string{"example.com/sync": {"Locker", "MapKey", "MapValue", "Ordered"}}

func TestResolveUnit_MultipleParams(t *testing.T) {
	prog, unit := loadUnit(t, `package app

import (
	"example.com/lockpkg"
	locks "example.com/sync" //bind: sync.Locker => *lockpkg.Spin, MapKey => string, MapValue => int
	other "example.com/sync" //bind: MapValue => int, Locker => *lockpkg.Spin, MapKey => string
)

var _ lockpkg.Spin
var _ locks.Locker
var _ other.Locker
`, allSync)
	rs, ds := ResolveUnit(context.Background(), prog, unit)
	if len(ds) != 0 {
		t.Fatalf("unexpected diagnostics: %v", ds)
	}
	if len(rs) != 2 || rs[0].Failed || rs[1].Failed {
		t.Fatalf("resolved = %+v", rs)
	}
	if rs[0].Key != rs[1].Key {
		t.Fatalf("permuted clauses yield different keys: %q vs %q", rs[0].Key, rs[1].Key)
	}
	if b, ok := rs[0].Bound("Locker"); !ok || b.Concrete.Descriptor != "*example.com/lockpkg.Spin" {
		t.Fatalf("Locker binding = %+v", b)
	}
}

func TestResolveUnit_PartialBinding(t *testing.T) {
	prog, unit := loadUnit(t, `package app

import m "example.com/sync" //bind: MapKey => string

var _ m.MapKey
`, allSync)
	rs, ds := ResolveUnit(context.Background(), prog, unit)
	if len(ds) != 0 || len(rs) != 1 || rs[0].Failed {
		t.Fatalf("partial binding failed: %v", ds)
	}
	if rs[0].Key != "MapKey=string" {
		t.Fatalf("key = %q", rs[0].Key)
	}
	if _, ok := rs[0].Bound("MapValue"); ok {
		t.Fatalf("MapValue must stay unbound")
	}
}

func TestResolveUnit_UnsatisfiedListsMissingMethod(t *testing.T) {
	prog, unit := loadUnit(t, `package app

import (
	"example.com/lockpkg"
	s "example.com/sync" //bind: Locker => lockpkg.Half
)

var _ lockpkg.Half
var _ s.Locker
`, allSync)
	rs, ds := ResolveUnit(context.Background(), prog, unit)
	if len(ds) != 1 || ds[0].Code != diag.BindingUnsatisfied {
		t.Fatalf("diagnostics = %v", ds)
	}
	if !strings.Contains(ds[0].Message, "missing Unlock") {
		t.Fatalf("message does not list the missing method: %q", ds[0].Message)
	}
	if !rs[0].Failed {
		t.Fatalf("clause must fail")
	}
}

func TestResolveUnit_SubstitutedSignature(t *testing.T) {
	prog, unit := loadUnit(t, `package app

import (
	"example.com/lockpkg"
	s "example.com/sync" //bind: Ordered => lockpkg.Num
)

var _ lockpkg.Num
var _ s.Ordered
`, allSync)
	if _, ds := ResolveUnit(context.Background(), prog, unit); len(ds) != 0 {
		t.Fatalf("Less(Num) must satisfy Less(Ordered) after substitution: %v", ds)
	}
}

func TestResolveUnit_DuplicateAndNotEligible(t *testing.T) {
	prog, unit := loadUnit(t, `package app

import s "example.com/sync" //bind: MapKey => string, MapKey => int, MapValue => int, Nope => int

var _ s.MapKey
`, map[string][]string{"example.com/sync": {"MapKey"}})
	_, ds := ResolveUnit(context.Background(), prog, unit)
	codes := map[diag.Code]int{}
	for _, d := range ds {
		codes[d.Code]++
	}
	if codes[diag.DuplicateBinding] != 1 || codes[diag.ParamNotEligible] != 2 {
		t.Fatalf("diagnostics = %v", ds)
	}
	for _, d := range ds {
		if d.Code == diag.DuplicateBinding && len(d.Notes) != 1 {
			t.Fatalf("duplicate must point at the first binding: %+v", d)
		}
	}
}

func TestResolveUnit_SuggestsNearName(t *testing.T) {
	prog, unit := loadUnit(t, `package app

import s "example.com/sync" //bind: MapKey => string, Lokcer => *int

var _ s.MapKey
`, allSync)
	_, ds := ResolveUnit(context.Background(), prog, unit)
	if len(ds) != 1 || ds[0].Code != diag.ParamNotEligible {
		t.Fatalf("diagnostics = %v", ds)
	}
	if len(ds[0].Fixes) != 1 {
		t.Fatalf("fixes = %+v, want one suggestion", ds[0].Fixes)
	}
	edit := ds[0].Fixes[0].Edits[0]
	if edit.NewText != "Locker => *int" {
		t.Errorf("replacement = %q", edit.NewText)
	}
	if edit.Span.End.Offset-edit.Span.Start.Offset != len("Lokcer => *int") {
		t.Errorf("span covers %d bytes, want the pair without spaces", edit.Span.End.Offset-edit.Span.Start.Offset)
	}
}

func TestResolveUnit_TransitiveAndCyclicKeys(t *testing.T) {
	sources := map[string]map[string]string{
		"example.com/x": {"x.go": "package x\n\ntype E interface{}\n"},
		"example.com/y": {"y.go": "package y\n\ntype F interface{}\n"},
		"example.com/app": {"app.go": `package app

import (
	"example.com/x" //bind: E => y.F
	"example.com/y" //bind: F => int
)

var _ x.E
var _ y.F
`},
		"example.com/cyc": {"cyc.go": `package cyc

import (
	"example.com/x" //bind: E => y.F
	"example.com/y" //bind: F => x.E
)

var _ x.E
var _ y.F
`},
	}
	prog := host.NewProgram()
	if _, err := host.NewSourceLoader(prog, sources).Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	for path, name := range map[string]string{"example.com/x": "E", "example.com/y": "F"} {
		pkg, _ := prog.Package(path)
		pkg.SetEligible([]string{name})
	}

	app, _ := prog.Package("example.com/app")
	rs, ds := ResolveUnit(context.Background(), prog, app)
	if len(ds) != 0 {
		t.Fatalf("diagnostics: %v", ds)
	}
	if rs[0].Key != "E=example.com/y{F=int}.F" {
		t.Fatalf("transitive key = %q", rs[0].Key)
	}
	if deps := rs[0].Deps(); len(deps) != 1 || deps[0] != rs[1] {
		t.Fatalf("deps = %v", deps)
	}

	cyc, _ := prog.Package("example.com/cyc")
	rs, ds = ResolveUnit(context.Background(), prog, cyc)
	if len(ds) != 0 {
		t.Fatalf("diagnostics: %v", ds)
	}
	if !IsCycleKey(rs[0].Key) || !IsCycleKey(rs[1].Key) {
		t.Fatalf("expected cycle marks: %q / %q", rs[0].Key, rs[1].Key)
	}
}
