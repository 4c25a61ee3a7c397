package diag

import (
	"go/token"
	"sync"
	"testing"

	"polybind/internal/source"
)

func spanAt(file string, line, off int) source.Span {
	p := token.Position{Filename: file, Line: line, Column: 1, Offset: off}
	return source.Span{Start: p, End: p}
}

func TestFormatShort_SortsByPosition(t *testing.T) {
	ds := []Diagnostic{
		NewWarning(AmbiguousSharedState, spanAt("b.go", 2, 10), "shared counter"),
		NewError(CyclicBinding, spanAt("a.go", 3, 20), "cycle"),
		NewError(ParamNotEligible, spanAt("a.go", 1, 0), "not eligible"),
	}
	want := "a.go:1:1: error ParamNotEligible: not eligible\n" +
		"a.go:3:1: error CyclicBinding: cycle\n" +
		"b.go:2:1: warning AmbiguousSharedState: shared counter"
	if got := FormatShort(ds); got != want {
		t.Fatalf("unexpected short output:\nwant:\n%s\n\ngot:\n%s", want, got)
	}
}

func TestBag_LimitAndDedup(t *testing.T) {
	b := NewBag(2)
	d := NewError(DuplicateBinding, spanAt("a.go", 1, 0), "dup")
	if !b.Add(d) || !b.Add(d) {
		t.Fatalf("expected first two adds to succeed")
	}
	if b.Add(d) {
		t.Fatalf("expected add over the limit to fail")
	}
	b.Dedup()
	if b.Len() != 1 {
		t.Fatalf("Dedup: got %d items, want 1", b.Len())
	}
	if !b.HasErrors() {
		t.Fatalf("expected HasErrors")
	}
}

func TestBag_MergeRaisesLimit(t *testing.T) {
	a := NewBag(1)
	a.Add(NewError(LoadFailed, source.Span{}, "x"))
	b := NewBag(2)
	b.Add(NewError(LoadFailed, source.Span{}, "y"))
	b.Add(NewError(LoadFailed, source.Span{}, "z"))
	a.Merge(b)
	if a.Len() != 3 || a.Cap() != 3 {
		t.Fatalf("Merge: len=%d cap=%d, want 3/3", a.Len(), a.Cap())
	}
}

func TestSyncReporter_Concurrent(t *testing.T) {
	bag := NewBag(0)
	r := NewSyncReporter(BagReporter{Bag: bag})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ReportError(r, TypeMismatchAtUse, source.Span{}, "mismatch").Emit()
		}()
	}
	wg.Wait()
	if bag.Len() != 32 {
		t.Fatalf("got %d diagnostics, want 32", bag.Len())
	}
}

func TestDedupReporter(t *testing.T) {
	var c Collector
	r := NewDedupReporter(&c)
	sp := spanAt("a.go", 4, 40)
	r.Report(CyclicBinding, SevError, sp, "cycle", nil, nil)
	r.Report(CyclicBinding, SevError, sp, "cycle", nil, nil)
	r.Report(CyclicBinding, SevError, sp, "other", nil, nil)
	if len(c.Items) != 2 {
		t.Fatalf("got %d diagnostics, want 2", len(c.Items))
	}
}

func TestDiagnostic_AtKeepsOrigin(t *testing.T) {
	orig := NewError(TypeMismatchAtUse, spanAt("lib.go", 9, 90), "bad")
	moved := orig.At(spanAt("main.go", 3, 12))
	if moved.Primary.Start.Filename != "main.go" {
		t.Fatalf("primary not moved: %v", moved.Primary)
	}
	if len(moved.Notes) != 1 || moved.Notes[0].Span.Start.Filename != "lib.go" {
		t.Fatalf("expected origin note, got %+v", moved.Notes)
	}
	if len(orig.Notes) != 0 {
		t.Fatalf("At mutated the receiver")
	}
}

func TestCode_NameRoundTrip(t *testing.T) {
	for _, c := range []Code{ParamNotEligible, BindingUnsatisfied, NTECViolation, AmbiguousSharedState} {
		got, ok := ParseCode(c.Name())
		if !ok || got != c {
			t.Fatalf("ParseCode(%q) = %v, %v", c.Name(), got, ok)
		}
	}
	if ID := CyclicBinding.ID(); ID != "MNO4001" {
		t.Fatalf("ID: got %q", ID)
	}
}
