package driver_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"polybind/internal/diag"
	"polybind/internal/driver"
	"polybind/internal/host"
)

const listSource = `package list

type ValueType interface{}

type List struct{ items []ValueType }

func (l *List) Push(v ValueType) { l.items = append(l.items, v) }

func (l *List) At(i int) ValueType { return l.items[i] }
`

const appSource = `package app

import list "example.com/list" //bind: ValueType => int

func Sum(l *list.List) int {
	l.Push(1)
	return l.At(0) + 1
}
`

const misuseSource = `package bad

import list "example.com/list" //bind: ValueType => int

func Fill(l *list.List) {
	l.Push("x")
}
`

func build(t *testing.T, sources map[string]map[string]string, opts driver.Options, patterns ...string) *driver.Result {
	t.Helper()
	prog := host.NewProgram()
	units, err := host.NewSourceLoader(prog, sources).Load(context.Background(), patterns...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := driver.Build(context.Background(), prog, units, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res
}

func unit(res *driver.Result, path string) *driver.UnitResult {
	for _, u := range res.Units {
		if u.Unit.Path == path {
			return u
		}
	}
	return nil
}

func TestBuild_Mono(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}, driver.Options{Mode: driver.ModeMono}, "example.com/app")

	if res.Failed() {
		t.Fatalf("build failed: %s", diag.FormatShort(res.Bag.Items()))
	}
	u := unit(res, "example.com/app")
	if u == nil || u.Mono == nil || u.Poly != nil {
		t.Fatalf("unit result = %+v", u)
	}
	if len(res.Instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(res.Instances))
	}
	if !strings.Contains(string(u.Mono.Sources["example.com/app/app.go"]), res.Instances[0].Path) {
		t.Errorf("unit does not import %s", res.Instances[0].Path)
	}
	if res.Checks == 0 {
		t.Errorf("no eligibility checks ran")
	}
}

func TestBuild_Poly(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}, driver.Options{Mode: driver.ModePoly}, "example.com/app")

	if res.Bag.Count(diag.PolyRewriteInvalid) != 0 {
		t.Fatalf("diagnostics = %s", diag.FormatShort(res.Bag.Items()))
	}
	u := unit(res, "example.com/app")
	if u.Poly == nil || u.Mono != nil || len(res.Instances) != 0 {
		t.Fatalf("poly mode ran the monomorphic lowering")
	}
	if !strings.Contains(string(u.Poly.Sources["example.com/app/app.go"]), "l.At(0).(int) + 1") {
		t.Errorf("output:\n%s", u.Poly.Sources["example.com/app/app.go"])
	}
}

func TestBuild_StrictCorrelates(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/bad":  {"bad.go": misuseSource},
	}, driver.Options{Mode: driver.ModePoly, Strict: true}, "example.com/bad")

	if !res.Failed() {
		t.Fatalf("strict build accepted a misuse")
	}
	items := res.Bag.Items()
	if len(items) != 1 || items[0].Code != diag.TypeMismatchAtUse {
		t.Fatalf("diagnostics = %s", diag.FormatShort(items))
	}
	if len(items[0].Notes) == 0 {
		t.Errorf("mismatch lacks the note about the polymorphic lowering")
	}
	if u := unit(res, "example.com/bad"); u.Mono != nil {
		t.Errorf("strict poly build kept the monomorphic output")
	}
}

func TestBuild_MaxDiagnostics(t *testing.T) {
	sources := map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
	}
	for _, p := range []string{"a", "b", "c"} {
		sources["example.com/"+p] = map[string]string{p + ".go": strings.Replace(misuseSource, "package bad", "package "+p, 1)}
	}
	res := build(t, sources, driver.Options{Mode: driver.ModeMono, MaxDiagnostics: 2},
		"example.com/a", "example.com/b", "example.com/c")

	if res.Bag.Len() != 2 || res.Dropped != 1 {
		t.Fatalf("kept %d, dropped %d; want 2 and 1", res.Bag.Len(), res.Dropped)
	}
}

func TestBuild_PlainUnit(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/plain": {"p.go": "package plain\n\nfunc F() int { return 1 }\n"},
	}, driver.Options{Mode: driver.ModeBoth})

	u := unit(res, "example.com/plain")
	if u == nil || !u.Plain() || u.Failed {
		t.Fatalf("unit result = %+v", u)
	}
	if u.Poly != nil || u.Mono != nil {
		t.Errorf("plain unit was lowered")
	}
}

func TestBuild_ReusesEligibility(t *testing.T) {
	sources := map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}
	disk, err := driver.NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	opts := driver.Options{Mode: driver.ModeMono, DiskCache: disk}
	first := build(t, sources, opts, "example.com/app")
	if first.Checks == 0 {
		t.Fatalf("first build checked nothing")
	}
	second := build(t, sources, opts, "example.com/app")
	if second.Checks != 0 {
		t.Errorf("second build ran %d checks, want all verdicts from the disk cache", second.Checks)
	}
	if second.Failed() {
		t.Fatalf("cached build failed: %s", diag.FormatShort(second.Bag.Items()))
	}
}

func TestBuild_Progress(t *testing.T) {
	events := make(chan driver.Event, 64)
	build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}, driver.Options{Mode: driver.ModeMono, Progress: driver.ChannelSink(events)}, "example.com/app")
	close(events)

	seen := make(map[driver.Stage]bool)
	for ev := range events {
		if ev.Status == driver.StatusDone {
			seen[ev.Stage] = true
		}
	}
	for _, st := range []driver.Stage{driver.StageEligible, driver.StageLoad, driver.StageBind, driver.StageMono} {
		if !seen[st] {
			t.Errorf("no done event for %s", st)
		}
	}
}

func TestBuild_Timings(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
	}, driver.Options{EnableTimings: true, MaxDiagnostics: 1})
	if res.Bag.Count(diag.ObsTimings) != 1 {
		t.Fatalf("diagnostics = %s", diag.FormatShort(res.Bag.Items()))
	}
	if len(res.Timing.Phases) == 0 {
		t.Errorf("no phases recorded")
	}
}

func TestBuild_StageTimings(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}, driver.Options{Mode: driver.ModeBoth}, "example.com/app")
	got := make(map[string]int)
	for _, st := range res.Timing.Stages {
		got[st.Name] = st.Units
	}
	for _, name := range []string{"bind", "poly", "mono"} {
		if got[name] != 1 {
			t.Errorf("stage %s counted %d units, want 1 (stages %+v)", name, got[name], res.Timing.Stages)
		}
	}
}

func TestWrite(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}, driver.Options{Mode: driver.ModeMono}, "example.com/app")
	dir := t.TempDir()
	m, err := driver.Write(dir, res)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(m.Units) != 1 || len(m.Units[0].Mono) != 1 || len(m.Instances) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	if _, err := os.Stat(filepath.Join(dir, "mono", "example.com", "app", "app.go")); err != nil {
		t.Errorf("lowered unit not written: %v", err)
	}
	inst := filepath.Join(dir, filepath.FromSlash(m.Instances[0].Path), "list.go")
	if _, err := os.Stat(inst); err != nil {
		t.Errorf("instance not written: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, driver.ManifestName))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	var back driver.Manifest
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if back.BuildID != res.BuildID.String() {
		t.Errorf("build id = %q, want %q", back.BuildID, res.BuildID)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := driver.OptionsFromConfig(nil)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.Mode != driver.ModeMono {
		t.Errorf("mode = %q, want mono", opts.Mode)
	}
	if _, err := driver.ParseMode("reflect"); err == nil {
		t.Errorf("ParseMode accepted an unknown mode")
	}
}

const counterSource = `package counter

type Item interface{}

var count int

func Add(v Item) int {
	count++
	return count
}
`

func TestBuild_SharedStateOnlyStrict(t *testing.T) {
	sources := map[string]map[string]string{
		"example.com/counter": {"counter.go": counterSource},
		"example.com/a": {"a.go": `package a

import counter "example.com/counter" //bind: Item => int

var _ = counter.Add(1)
`},
		"example.com/b": {"b.go": `package b

import counter "example.com/counter" //bind: Item => string

var _ = counter.Add("x")
`},
	}
	for _, tc := range []struct {
		opts driver.Options
		want int
	}{
		{driver.Options{Mode: driver.ModeBoth}, 0},
		{driver.Options{Mode: driver.ModeMono, Strict: true}, 2},
	} {
		res := build(t, sources, tc.opts, "example.com/a", "example.com/b")
		if got := res.Bag.Count(diag.AmbiguousSharedState); got != tc.want {
			t.Errorf("mode %s strict=%v: %d shared-state warnings, want %d", tc.opts.Mode, tc.opts.Strict, got, tc.want)
		}
	}
}

func TestBuild_BoundUseIsNotALoadFailure(t *testing.T) {
	res := build(t, map[string]map[string]string{
		"example.com/list": {"list.go": listSource},
		"example.com/app":  {"app.go": appSource},
	}, driver.Options{Mode: driver.ModeBoth}, "example.com/app")
	if n := res.Bag.Count(diag.LoadFailed); n != 0 {
		t.Fatalf("got %d LoadFailed: %s", n, diag.FormatShort(res.Bag.Items()))
	}
	u := unit(res, "example.com/app")
	if u.Failed || u.Poly == nil || u.Mono == nil {
		t.Fatalf("unit result = %+v", u)
	}
	if len(u.Unit.Provisional) != 1 {
		t.Errorf("provisional errors = %d, want 1", len(u.Unit.Provisional))
	}
}
