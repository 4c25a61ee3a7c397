package source

import (
	"fmt"
	"go/ast"
	"go/token"
	"path/filepath"
)

// Span is a resolved source range. Positions are kept resolved (not token.Pos)
// because diagnostics outlive the FileSet of the copy that produced them.
type Span struct {
	Start token.Position
	End   token.Position
}

// SpanOf resolves a node's extent in fset.
func SpanOf(fset *token.FileSet, n ast.Node) Span {
	if fset == nil || n == nil {
		return Span{}
	}
	return SpanFor(fset, n.Pos(), n.End())
}

// SpanFor resolves a raw position range in fset.
func SpanFor(fset *token.FileSet, start, end token.Pos) Span {
	if fset == nil {
		return Span{}
	}
	sp := Span{}
	if start.IsValid() {
		sp.Start = fset.Position(start)
	}
	if end.IsValid() {
		sp.End = fset.Position(end)
	} else {
		sp.End = sp.Start
	}
	return sp
}

// At builds a zero-width span at p.
func At(p token.Position) Span {
	return Span{Start: p, End: p}
}

func (s Span) IsValid() bool {
	return s.Start.IsValid()
}

func (s Span) Empty() bool {
	return s.Start.Offset == s.End.Offset
}

func (s Span) File() string {
	return s.Start.Filename
}

// String renders file:line:col, or "-" for spans without a position.
func (s Span) String() string {
	if !s.Start.IsValid() {
		return "-"
	}
	if s.Start.Filename == "" {
		return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column)
	}
	return fmt.Sprintf("%s:%d:%d", s.Start.Filename, s.Start.Line, s.Start.Column)
}

// Relative rewrites the filenames relative to base when possible.
func (s Span) Relative(base string) Span {
	if base == "" || s.Start.Filename == "" {
		return s
	}
	if rel, err := filepath.Rel(base, s.Start.Filename); err == nil {
		s.Start.Filename = filepath.ToSlash(rel)
		s.End.Filename = filepath.ToSlash(rel)
	}
	return s
}

// Cover extends s to include other when both are in the same file.
func (s Span) Cover(other Span) Span {
	if s.Start.Filename != other.Start.Filename {
		return s
	}
	if other.Start.Offset < s.Start.Offset {
		s.Start = other.Start
	}
	if other.End.Offset > s.End.Offset {
		s.End = other.End
	}
	return s
}
