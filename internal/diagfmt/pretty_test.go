package diagfmt

import (
	"bytes"
	"go/token"
	"strings"
	"testing"

	"polybind/internal/diag"
	"polybind/internal/source"
)

const appSrc = "package app\n\nimport list \"example.com/list\" //bind: ValueType => int\n\nfunc IsName(l *list.List) bool {\n\treturn l.At(0) == \"name\"\n}\n"

// spanOf finds the first occurrence of text in src.
func spanOf(t *testing.T, file, src, text string) source.Span {
	t.Helper()
	off := strings.Index(src, text)
	if off < 0 {
		t.Fatalf("%q not in source", text)
	}
	pos := func(o int) token.Position {
		line := strings.Count(src[:o], "\n") + 1
		col := o - strings.LastIndex(src[:o], "\n")
		return token.Position{Filename: file, Offset: o, Line: line, Column: col}
	}
	return source.Span{Start: pos(off), End: pos(off + len(text))}
}

func prettyBag(d diag.Diagnostic) *diag.Bag {
	bag := diag.NewBag(4)
	bag.Add(d)
	return bag
}

func TestPathModes(t *testing.T) {
	const file = "/home/user/project/app/app.go"
	d := diag.NewError(diag.PolyRewriteInvalid, spanOf(t, file, appSrc, `l.At(0) == "name"`), "mismatched types")

	tests := []struct {
		name string
		mode PathMode
		want string
	}{
		{"absolute", PathModeAbsolute, "/home/user/project/app/app.go:6:9"},
		{"relative", PathModeRelative, "app/app.go:6:9"},
		{"basename", PathModeBasename, "app.go:6:9"},
		{"auto", PathModeAuto, "app/app.go:6:9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Pretty(&buf, prettyBag(d), PrettyOpts{
				PathMode: tt.mode,
				BaseDir:  "/home/user/project",
				Sources:  MapSources(map[string][]byte{file: []byte(appSrc)}),
			})
			out := buf.String()
			if !strings.HasPrefix(out, tt.want+": ") {
				t.Errorf("output starts %q, want %q", out, tt.want)
			}
			for _, w := range []string{"ERROR", "PLY3003", "PolyRewriteInvalid", "mismatched types"} {
				if !strings.Contains(out, w) {
					t.Errorf("output lacks %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestPretty_Caret(t *testing.T) {
	const file = "app.go"
	d := diag.NewError(diag.PolyRewriteInvalid, spanOf(t, file, appSrc, `l.At(0)`), "invalid")
	var buf bytes.Buffer
	Pretty(&buf, prettyBag(d), PrettyOpts{Sources: MapSources(map[string][]byte{file: []byte(appSrc)})})

	lines := strings.Split(buf.String(), "\n")
	if len(lines) < 3 {
		t.Fatalf("output:\n%s", buf.String())
	}
	if !strings.HasSuffix(lines[1], "6 | \treturn l.At(0) == \"name\"") {
		t.Errorf("source line = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "| \t       ^~~~~~~") {
		t.Errorf("caret line = %q", lines[2])
	}
}

func TestPretty_Context(t *testing.T) {
	const file = "app.go"
	d := diag.NewError(diag.PolyRewriteInvalid, spanOf(t, file, appSrc, `l.At(0)`), "invalid")
	var buf bytes.Buffer
	Pretty(&buf, prettyBag(d), PrettyOpts{Context: 1, Sources: MapSources(map[string][]byte{file: []byte(appSrc)})})
	out := buf.String()
	for _, w := range []string{"5 | func IsName", "7 | }"} {
		if !strings.Contains(out, w) {
			t.Errorf("output lacks %q:\n%s", w, out)
		}
	}
}

func TestPretty_NotesAndFixes(t *testing.T) {
	const file = "app.go"
	src := map[string][]byte{file: []byte(appSrc)}
	pair := spanOf(t, file, appSrc, "ValueType => int")
	d := diag.NewError(diag.ParamNotEligible, pair, "example.com/list has no parameter type ValueTyp").
		WithNote(pair, "bound here").
		WithFix("did you mean Value?", diag.FixEdit{Span: pair, NewText: "Value => int"})

	var buf bytes.Buffer
	Pretty(&buf, prettyBag(d), PrettyOpts{ShowNotes: true, ShowFixes: true, Sources: MapSources(src)})
	out := buf.String()
	for _, w := range []string{
		"note: app.go:3:40: bound here",
		"fix: did you mean Value?",
		`- import list "example.com/list" //bind: ValueType => int`,
		`+ import list "example.com/list" //bind: Value => int`,
	} {
		if !strings.Contains(out, w) {
			t.Errorf("output lacks %q:\n%s", w, out)
		}
	}

	buf.Reset()
	Pretty(&buf, prettyBag(d), PrettyOpts{Sources: MapSources(src)})
	if strings.Contains(buf.String(), "note:") || strings.Contains(buf.String(), "fix:") {
		t.Errorf("notes or fixes shown while disabled:\n%s", buf.String())
	}
}

func TestPretty_MissingSource(t *testing.T) {
	d := diag.NewError(diag.LoadFailed, spanOf(t, "gone.go", appSrc, "package"), "cannot read")
	var buf bytes.Buffer
	Pretty(&buf, prettyBag(d), PrettyOpts{Sources: MapSources(nil)})
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("got %d lines, want just the header:\n%s", got, buf.String())
	}
}

func TestShort(t *testing.T) {
	bag := diag.NewBag(4)
	bag.Add(diag.NewWarning(diag.AmbiguousSharedState, spanOf(t, "/p/a/app.go", appSrc, "import"), "shared"))
	bag.Add(diag.NewError(diag.LoadFailed, source.Span{}, "no packages"))
	var buf bytes.Buffer
	Short(&buf, bag, PathModeRelative, "/p")
	want := "a/app.go:3:1: warning AmbiguousSharedState: shared\n-: error LoadFailed: no packages\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
