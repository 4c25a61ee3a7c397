package mono

import (
	"context"
	"go/types"
	"strings"
	"sync"
	"testing"
	"time"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/ntec"
)

func setup(t *testing.T, sources map[string]map[string]string) (*host.Program, map[string]*host.Package) {
	t.Helper()
	prog := host.NewProgram()
	pkgs, err := host.NewSourceLoader(prog, sources).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checker := ntec.NewChecker(prog, nil, 0)
	byPath := make(map[string]*host.Package, len(pkgs))
	for _, p := range pkgs {
		if p.Broken() {
			t.Fatalf("%s broken: %v", p.Path, p.Problems)
		}
		if _, err := checker.Eligible(context.Background(), p); err != nil {
			t.Fatalf("Eligible(%s): %v", p.Path, err)
		}
		byPath[p.Path] = p
	}
	return prog, byPath
}

func resolve(t *testing.T, prog *host.Program, unit *host.Package) []*binding.Resolved {
	t.Helper()
	rs, ds := binding.ResolveUnit(context.Background(), prog, unit)
	if diag.HasErrors(ds) {
		t.Fatalf("ResolveUnit(%s): %s", unit.Path, diag.FormatShort(ds))
	}
	return rs
}

func clauseFor(t *testing.T, rs []*binding.Resolved, path string) *binding.Resolved {
	t.Helper()
	for _, r := range rs {
		if r.Clause.Path == path {
			return r
		}
	}
	t.Fatalf("no clause for %s", path)
	return nil
}

func hasCode(ds []diag.Diagnostic, code diag.Code) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

const listSource = `package list

type ValueType interface{}

type List struct{ items []ValueType }

func (l *List) Push(v ValueType) { l.items = append(l.items, v) }

func (l *List) At(i int) ValueType { return l.items[i] }

func Same(a, b ValueType) bool { return a == b }
`

func withList(units map[string]map[string]string) map[string]map[string]string {
	units["example.com/list"] = map[string]string{"list.go": listSource}
	return units
}

func TestInstancePath(t *testing.T) {
	a := InstancePath(Key{Base: "example.com/list", Canonical: "ValueType=int"})
	b := InstancePath(Key{Base: "example.com/list", Canonical: "ValueType=int"})
	c := InstancePath(Key{Base: "example.com/list", Canonical: "ValueType=string"})
	if a != b {
		t.Fatalf("same key, different paths: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different keys share path %s", a)
	}
	prefix := "example.com/list/__poly/"
	if !strings.HasPrefix(a, prefix) || len(a) != len(prefix)+16 {
		t.Fatalf("path = %s", a)
	}
}

func TestLower_RewritesImportsToInstance(t *testing.T) {
	prog, pkgs := setup(t, withList(map[string]map[string]string{
		"example.com/app": {
			"app.go": `package app

import (
	list "example.com/list" //bind: ValueType => int
)

func Fill() *list.List {
	l := &list.List{}
	l.Push(1)
	return l
}

var First = Fill().At(0)
`,
		},
	}))
	app := pkgs["example.com/app"]
	c := NewCache(prog, Budget{})
	out, ds, err := c.Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if out.Failed || len(ds) > 0 {
		t.Fatalf("Lower failed: %s", diag.FormatShort(ds))
	}
	if len(out.Instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(out.Instances))
	}
	inst := out.Instances[0]
	src := string(out.Sources["example.com/app/app.go"])
	if !strings.Contains(src, `"`+inst.Path+`"`) {
		t.Errorf("unit not retargeted:\n%s", src)
	}
	if strings.Contains(src, "bind:") {
		t.Errorf("binding metadata left in output:\n%s", src)
	}
	vt := inst.Package.Types.Scope().Lookup("ValueType")
	if vt == nil || !types.Identical(types.Unalias(vt.Type()), types.Typ[types.Int]) {
		t.Fatalf("ValueType in instance = %v, want int", vt)
	}
	if got, ok := prog.Package(inst.Path); !ok || got != inst.Package {
		t.Fatalf("instance not published")
	}
	if !strings.Contains(string(inst.Sources["example.com/list/list.go"]), "type ValueType = int") {
		t.Errorf("instance source:\n%s", inst.Sources["example.com/list/list.go"])
	}
}

// A string pushed into a list bound to int is only caught by the
// specialized copy.
func TestLower_MismatchAtUseSite(t *testing.T) {
	prog, pkgs := setup(t, withList(map[string]map[string]string{
		"example.com/app": {
			"app.go": `package app

import (
	list "example.com/list" //bind: ValueType => int
)

func Fill() *list.List {
	l := &list.List{}
	l.Push(1)
	l.Push("two")
	return l
}
`,
		},
	}))
	app := pkgs["example.com/app"]
	out, ds, err := NewCache(prog, Budget{}).Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if !out.Failed || len(ds) != 1 {
		t.Fatalf("want one diagnostic, got %s", diag.FormatShort(ds))
	}
	d := ds[0]
	if d.Code != diag.TypeMismatchAtUse {
		t.Fatalf("code = %s, want TypeMismatchAtUse", d.Code.Name())
	}
	if d.Primary.Start.Line != 10 || !strings.HasSuffix(d.Primary.File(), "app.go") {
		t.Fatalf("primary = %s, want app.go:10", d.Primary)
	}
	if len(d.Notes) != 1 || d.Notes[0].Span.Start.Line != 4 {
		t.Fatalf("notes = %v, want the clause on line 4", d.Notes)
	}
}

func TestInstantiate_AtMostOneBuild(t *testing.T) {
	prog, pkgs := setup(t, withList(map[string]map[string]string{
		"example.com/app": {
			"app.go": `package app

import list "example.com/list" //bind: ValueType => string

var L list.List
`,
		},
	}))
	r := resolve(t, prog, pkgs["example.com/app"])[0]
	c := NewCache(prog, Budget{})

	const n = 16
	got := make([]*Instantiation, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			inst, _, err := c.Instantiate(context.Background(), r)
			if err != nil {
				t.Errorf("Instantiate: %v", err)
				return
			}
			got[i] = inst
		}()
	}
	close(start)
	wg.Wait()

	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("requester %d saw a different instantiation", i)
		}
	}
	if got[0].Failed {
		t.Fatalf("build failed: %s", diag.FormatShort(got[0].Diagnostics))
	}
	st := c.Stats()
	if st.Builds != 1 || st.Hits != n-1 {
		t.Fatalf("stats = %+v, want 1 build and %d hits", st, n-1)
	}
}

func TestLower_PermutedClausesShareInstance(t *testing.T) {
	prog, pkgs := setup(t, map[string]map[string]string{
		"example.com/pair": {
			"pair.go": `package pair

type K interface{}

type V interface{}

type Pair struct {
	Key K
	Val V
}
`,
		},
		"example.com/app": {
			"app.go": `package app

import (
	p1 "example.com/pair" //bind: K => string, V => int
	p2 "example.com/pair" //bind: p2.V => int, p2.K => string
)

func Swap(a p1.Pair) p2.Pair { return p2.Pair{Key: a.Key, Val: a.Val} }
`,
		},
	})
	app := pkgs["example.com/app"]
	rs := resolve(t, prog, app)
	if rs[0].Key != rs[1].Key {
		t.Fatalf("keys differ: %q vs %q", rs[0].Key, rs[1].Key)
	}
	c := NewCache(prog, Budget{})
	out, ds, err := c.Lower(context.Background(), app, rs)
	if err != nil || out.Failed {
		t.Fatalf("Lower: %v %s", err, diag.FormatShort(ds))
	}
	if out.Instances[0] != out.Instances[1] {
		t.Fatalf("permuted clauses got different instantiations")
	}
	if c.Stats().Builds != 1 {
		t.Fatalf("builds = %d, want 1", c.Stats().Builds)
	}
}

func TestLower_PartialBinding(t *testing.T) {
	prog, pkgs := setup(t, map[string]map[string]string{
		"example.com/dict": {
			"dict.go": `package dict

type KeyType interface{}

type ValueType interface{}

type Dict struct{ m map[KeyType]ValueType }

func New() *Dict { return &Dict{m: make(map[KeyType]ValueType)} }

func (d *Dict) Put(k KeyType, v ValueType) { d.m[k] = v }
`,
		},
		"example.com/app": {
			"app.go": `package app

import dict "example.com/dict" //bind: KeyType => string

func Fill() {
	d := dict.New()
	d.Put("a", 1)
	d.Put("b", "anything")
}
`,
		},
	})
	app := pkgs["example.com/app"]
	out, ds, err := NewCache(prog, Budget{}).Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil || out.Failed {
		t.Fatalf("Lower: %v %s", err, diag.FormatShort(ds))
	}
	inst := out.Instances[0]
	if inst.Key.Canonical != "KeyType=string" {
		t.Fatalf("key = %q", inst.Key.Canonical)
	}
	vt := inst.Package.Types.Scope().Lookup("ValueType")
	if _, ok := vt.Type().Underlying().(*types.Interface); !ok {
		t.Fatalf("unbound ValueType changed to %v", vt.Type())
	}
	if ok, _ := inst.Package.IsEligible("ValueType"); !ok {
		t.Errorf("unbound ValueType should stay eligible in the instance")
	}
	if ok, _ := inst.Package.IsEligible("KeyType"); ok {
		t.Errorf("bound KeyType should not be eligible in the instance")
	}
}

var transitiveSources = map[string]map[string]string{
	"example.com/x": {
		"x.go": `package x

type E interface{}

type Box struct{ V E }
`,
	},
	"example.com/y": {
		"y.go": `package y

type F interface{}

type Cell struct{ V F }
`,
	},
}

func withTransitive(unit string) map[string]map[string]string {
	out := map[string]map[string]string{"example.com/app": {"app.go": unit}}
	for k, v := range transitiveSources {
		out[k] = v
	}
	return out
}

func TestLower_TransitiveBindingBuildsDependencyFirst(t *testing.T) {
	prog, pkgs := setup(t, withTransitive(`package app

import (
	x "example.com/x" //bind: E => y.F
	y "example.com/y" //bind: F => int
)

func Use() any {
	b := x.Box{V: 3}
	return y.Cell{V: b.V}
}
`))
	app := pkgs["example.com/app"]
	rs := resolve(t, prog, app)
	c := NewCache(prog, Budget{})
	out, ds, err := c.Lower(context.Background(), app, rs)
	if err != nil || out.Failed {
		t.Fatalf("Lower: %v %s", err, diag.FormatShort(ds))
	}
	xr, yr := clauseFor(t, rs, "example.com/x"), clauseFor(t, rs, "example.com/y")
	xi, _ := c.Lookup(Key{Base: "example.com/x", Canonical: xr.Key})
	yKey := Key{Base: "example.com/y", Canonical: yr.Key}
	if xi == nil || len(xi.Deps) != 1 || xi.Deps[0] != yKey {
		t.Fatalf("x deps = %v, want [%v]", xi.Deps, yKey)
	}
	if c.Stats().Builds != 2 {
		t.Fatalf("builds = %d, want 2", c.Stats().Builds)
	}
	g := c.Graph()
	if g.Cyclic || len(g.Order) != 2 || g.Order[0] != yKey {
		t.Fatalf("graph order = %v, want y first", g.Order)
	}
	e := xi.Package.Types.Scope().Lookup("E")
	if !types.Identical(types.Unalias(e.Type()), types.Typ[types.Int]) {
		t.Fatalf("x.E = %v, want int through y", e.Type())
	}
}

func TestLower_CyclicBinding(t *testing.T) {
	prog, pkgs := setup(t, withTransitive(`package app

import (
	x "example.com/x" //bind: E => y.F
	y "example.com/y" //bind: F => x.E
)

var B = x.Box{}

var C = y.Cell{}
`))
	app := pkgs["example.com/app"]
	out, ds, err := NewCache(prog, Budget{}).Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if !out.Failed || !hasCode(ds, diag.CyclicBinding) {
		t.Fatalf("want CyclicBinding, got %s", diag.FormatShort(ds))
	}
}

// manual builds a clause of base that depends on deps, with a fixed key.
func manual(r *binding.Resolved, key string, deps map[string]*binding.Resolved) *binding.Resolved {
	out := *r
	out.Key = key
	out.Bindings = nil
	for _, b := range r.Bindings {
		b.Deps = deps
		out.Bindings = append(out.Bindings, b)
	}
	return &out
}

func TestInstantiate_ReentryOnChainIsCyclic(t *testing.T) {
	prog, pkgs := setup(t, withTransitive(`package app

import x "example.com/x" //bind: E => int

var B x.Box
`))
	base := resolve(t, prog, pkgs["example.com/app"])[0]
	self := manual(base, "E=self", nil)
	self.Bindings[0].Deps = map[string]*binding.Resolved{"example.com/x": self}

	inst, built, err := NewCache(prog, Budget{}).Instantiate(context.Background(), self)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if !built || !inst.Failed || !hasCode(inst.Diagnostics, diag.CyclicBinding) {
		t.Fatalf("want cached CyclicBinding, got built=%v %s", built, diag.FormatShort(inst.Diagnostics))
	}
}

func TestInstantiate_WaitForCycleDoesNotDeadlock(t *testing.T) {
	prog, pkgs := setup(t, withTransitive(`package app

import (
	x "example.com/x" //bind: E => int
	y "example.com/y" //bind: F => int
)

var B x.Box

var C y.Cell
`))
	rs := resolve(t, prog, pkgs["example.com/app"])
	a := manual(clauseFor(t, rs, "example.com/x"), "E=a", nil)
	b := manual(clauseFor(t, rs, "example.com/y"), "F=b", nil)
	a.Bindings[0].Deps = map[string]*binding.Resolved{"example.com/y": b}
	b.Bindings[0].Deps = map[string]*binding.Resolved{"example.com/x": a}

	c := NewCache(prog, Budget{})
	results := make(chan *Instantiation, 2)
	for _, r := range []*binding.Resolved{a, b} {
		go func() {
			inst, _, err := c.Instantiate(context.Background(), r)
			if err != nil {
				t.Errorf("Instantiate: %v", err)
			}
			results <- inst
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case inst := <-results:
			if inst == nil || !inst.Failed || !hasCode(inst.Diagnostics, diag.CyclicBinding) {
				t.Fatalf("want CyclicBinding, got %+v", inst)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("instantiation deadlocked")
		}
	}
}

const chainUnit = `package app

import (
	a "example.com/a" //bind: T => b.T
	b "example.com/b" //bind: T => c.T
	c "example.com/c" //bind: T => int
)

var A a.Box

var B b.Box

var C c.Box
`

func chainSources() map[string]map[string]string {
	out := map[string]map[string]string{"example.com/app": {"app.go": chainUnit}}
	for _, name := range []string{"a", "b", "c"} {
		out["example.com/"+name] = map[string]string{
			name + ".go": "package " + name + "\n\ntype T interface{}\n\ntype Box struct{ V T }\n",
		}
	}
	return out
}

func TestInstantiate_Budget(t *testing.T) {
	prog, pkgs := setup(t, chainSources())
	rs := resolve(t, prog, pkgs["example.com/app"])
	top := clauseFor(t, rs, "example.com/a")

	for _, budget := range []Budget{{MaxDepth: 2}, {MaxSteps: 2}} {
		inst, _, err := NewCache(prog, budget).Instantiate(context.Background(), top)
		if err != nil {
			t.Fatalf("Instantiate: %v", err)
		}
		if !inst.Failed || !hasCode(inst.Diagnostics, diag.InstantiationBudgetExceeded) {
			t.Fatalf("budget %+v: want InstantiationBudgetExceeded, got %s", budget, diag.FormatShort(inst.Diagnostics))
		}
	}

	inst, _, err := NewCache(prog, Budget{MaxDepth: 3, MaxSteps: 3}).Instantiate(context.Background(), top)
	if err != nil || inst.Failed {
		t.Fatalf("chain of three within budget failed: %v %s", err, diag.FormatShort(inst.Diagnostics))
	}
}

func TestLower_EmptyClauseRoundTrip(t *testing.T) {
	const num = "package num\n\nfunc Double(x int) int { return 2 * x }\n"
	prog, pkgs := setup(t, map[string]map[string]string{
		"example.com/num": {"num.go": num},
		"example.com/app": {
			"app.go": `package app

import num "example.com/num" //bind:

func Four() int { return num.Double(2) }
`,
		},
	})
	app := pkgs["example.com/app"]
	out, ds, err := NewCache(prog, Budget{}).Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil || out.Failed {
		t.Fatalf("Lower: %v %s", err, diag.FormatShort(ds))
	}
	inst := out.Instances[0]
	if inst.Key.Canonical != "" {
		t.Fatalf("key = %q, want empty", inst.Key.Canonical)
	}
	if got := string(inst.Sources["example.com/num/num.go"]); got != num {
		t.Fatalf("instance differs from base:\n%s", got)
	}
	base := pkgs["example.com/num"].Types.Scope().Lookup("Double").Type()
	got := inst.Package.Types.Scope().Lookup("Double").Type()
	if types.TypeString(base, nil) != types.TypeString(got, nil) {
		t.Fatalf("Double = %s, want %s", got, base)
	}
}

func TestLower_LocalTypeIsNotVisible(t *testing.T) {
	prog, pkgs := setup(t, withList(map[string]map[string]string{
		"example.com/app": {
			"app.go": `package app

import list "example.com/list" //bind: ValueType => Local

type Local struct{}

func Fill() { var l list.List; l.Push(Local{}) }
`,
		},
	}))
	app := pkgs["example.com/app"]
	out, ds, err := NewCache(prog, Budget{}).Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if !out.Failed || !hasCode(ds, diag.BindingVisibility) {
		t.Fatalf("want BindingVisibility, got %s", diag.FormatShort(ds))
	}
}

func TestLower_PromotesUnexportedType(t *testing.T) {
	prog, pkgs := setup(t, withList(map[string]map[string]string{
		"example.com/shapes": {
			"shapes.go": `package shapes

type point struct{ X, Y int }

type Point = point

func Origin() Point { return point{} }
`,
		},
		"example.com/app": {
			"app.go": `package app

import (
	list "example.com/list" //bind: ValueType => shapes.Point
	"example.com/shapes"
)

func Fill() { var l list.List; l.Push(shapes.Origin()) }
`,
		},
	}))
	app := pkgs["example.com/app"]
	out, ds, err := NewCache(prog, Budget{}).Lower(context.Background(), app, resolve(t, prog, app))
	if err != nil || out.Failed {
		t.Fatalf("Lower: %v %s", err, diag.FormatShort(ds))
	}
	inst := out.Instances[0]
	if len(inst.Promotions) != 1 {
		t.Fatalf("promotions = %+v", inst.Promotions)
	}
	pr := inst.Promotions[0]
	if pr.Alias != "PolybindPoint" || pr.Package != "example.com/shapes" {
		t.Fatalf("promotion = %+v", pr)
	}
	if !strings.Contains(pr.Source, "type PolybindPoint = point") {
		t.Fatalf("promotion source:\n%s", pr.Source)
	}
	if pkgs["example.com/shapes"].Types.Scope().Lookup("PolybindPoint") == nil {
		t.Fatalf("alias not visible to importers")
	}
}

func TestLower_ReplaysCachedFailure(t *testing.T) {
	unit := func(name string) string {
		return "package " + name + "\n\nimport list \"example.com/list\" //bind: ValueType => []int\n\nvar L list.List\n"
	}
	prog, pkgs := setup(t, withList(map[string]map[string]string{
		"example.com/one": {"one.go": unit("one")},
		"example.com/two": {"two.go": unit("two")},
	}))
	c := NewCache(prog, Budget{})

	one := pkgs["example.com/one"]
	_, first, err := c.Lower(context.Background(), one, resolve(t, prog, one))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(first) != 1 || first[0].Code != diag.TypeMismatchAtUse || !strings.HasSuffix(first[0].Primary.File(), "list.go") {
		t.Fatalf("first = %s", diag.FormatShort(first))
	}

	two := pkgs["example.com/two"]
	_, replay, err := c.Lower(context.Background(), two, resolve(t, prog, two))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(replay) != 1 || !strings.HasSuffix(replay[0].Primary.File(), "two.go") {
		t.Fatalf("replay = %s", diag.FormatShort(replay))
	}
	if replay[0].Message != first[0].Message {
		t.Fatalf("replayed message %q, want %q", replay[0].Message, first[0].Message)
	}
	if c.Stats().Builds != 1 || c.Stats().Failed != 1 {
		t.Fatalf("stats = %+v", c.Stats())
	}
}
