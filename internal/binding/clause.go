package binding

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
)

// Directive is the comment prefix that marks a binding clause.
const Directive = host.BindDirective

// Pair is one "param => type" entry as written.
type Pair struct {
	Qualifier string
	Param     string
	TypeExpr  string
	Span      source.Span
}

func (p Pair) String() string {
	if p.Qualifier != "" {
		return p.Qualifier + "." + p.Param + " => " + p.TypeExpr
	}
	return p.Param + " => " + p.TypeExpr
}

// Clause is a binding directive attached to one import spec.
type Clause struct {
	File    *ast.File
	Spec    *ast.ImportSpec
	Comment *ast.Comment
	Path    string
	// Alias is the explicit local name of the import, if any.
	Alias string
	Pairs []Pair
	Span  source.Span
}

// LocalName is the name the import is referred to by in its file.
func (c *Clause) LocalName(pkgName string) string {
	if c.Alias != "" {
		return c.Alias
	}
	return pkgName
}

// ParseClauses collects the binding clauses of file. A clause is either the
// trailing line comment of an import spec or a line of its doc comment.
func ParseClauses(fset *token.FileSet, file *ast.File) ([]*Clause, []diag.Diagnostic) {
	var (
		out   []*Clause
		diags []diag.Diagnostic
	)
	for _, spec := range file.Imports {
		comments := directiveComments(spec)
		if len(comments) == 0 {
			continue
		}
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		specSpan := source.SpanOf(fset, spec)
		if len(comments) > 1 {
			diags = append(diags, diag.NewError(diag.BindingSyntax, source.SpanOf(fset, comments[1]),
				fmt.Sprintf("import %q carries more than one binding clause", path)).
				WithNote(source.SpanOf(fset, comments[0]), "first clause here"))
			continue
		}
		c := &Clause{File: file, Spec: spec, Comment: comments[0], Path: path, Span: specSpan}
		if spec.Name != nil {
			c.Alias = spec.Name.Name
			if c.Alias == "_" || c.Alias == "." {
				diags = append(diags, diag.NewError(diag.BindingSyntax, specSpan,
					fmt.Sprintf("binding clause on a %q import of %q", c.Alias, path)))
				continue
			}
		}
		pairs, pd := parsePairs(fset, comments[0])
		if len(pd) > 0 {
			diags = append(diags, pd...)
			continue
		}
		c.Pairs = pairs
		out = append(out, c)
	}
	return out, diags
}

func directiveComments(spec *ast.ImportSpec) []*ast.Comment {
	var out []*ast.Comment
	for _, g := range []*ast.CommentGroup{spec.Doc, spec.Comment} {
		if g == nil {
			continue
		}
		for _, c := range g.List {
			if _, ok := directiveBody(c.Text); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func directiveBody(text string) (string, bool) {
	return host.DirectiveBody(text)
}

func parsePairs(fset *token.FileSet, c *ast.Comment) ([]Pair, []diag.Diagnostic) {
	body, _ := directiveBody(c.Text)
	base := len(c.Text) - len(body)
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	var (
		pairs []Pair
		diags []diag.Diagnostic
	)
	for _, seg := range splitTopLevel(body, ',') {
		text := strings.TrimSpace(seg.text)
		lead, width := len(seg.text)-len(strings.TrimLeft(seg.text, " \t")), len(text)
		if text == "" {
			lead, width = 0, len(seg.text)
		}
		start := c.Slash + token.Pos(base+seg.off+lead)
		sp := source.SpanFor(fset, start, start+token.Pos(width))
		if text == "" {
			diags = append(diags, diag.NewError(diag.BindingSyntax, sp, "empty binding pair"))
			continue
		}
		lhs, rhs, ok := strings.Cut(text, "=>")
		if !ok {
			diags = append(diags, diag.NewError(diag.BindingSyntax, sp,
				fmt.Sprintf("expected \"param => type\", got %q", text)))
			continue
		}
		lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)
		qual, param := "", lhs
		if q, p, dotted := strings.Cut(lhs, "."); dotted {
			qual, param = q, p
		}
		if !token.IsIdentifier(param) || (qual != "" && !token.IsIdentifier(qual)) {
			diags = append(diags, diag.NewError(diag.BindingSyntax, sp,
				fmt.Sprintf("invalid parameter name %q", lhs)))
			continue
		}
		if rhs == "" {
			diags = append(diags, diag.NewError(diag.BindingSyntax, sp,
				fmt.Sprintf("missing type for %q", lhs)))
			continue
		}
		if _, err := parser.ParseExpr(rhs); err != nil {
			diags = append(diags, diag.NewError(diag.BindingSyntax, sp,
				fmt.Sprintf("invalid type expression %q: %v", rhs, err)))
			continue
		}
		pairs = append(pairs, Pair{Qualifier: qual, Param: param, TypeExpr: rhs, Span: sp})
	}
	return pairs, diags
}

type segment struct {
	text string
	off  int
}

// splitTopLevel splits s at sep outside of (), [] and {}.
func splitTopLevel(s string, sep byte) []segment {
	var (
		out   []segment
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				out = append(out, segment{text: s[start:i], off: start})
				start = i + 1
			}
		}
	}
	return append(out, segment{text: s[start:], off: start})
}
