package binding

import (
	"go/ast"
	"strconv"

	"polybind/internal/host"
)

// IsDirective reports whether a comment text is a binding clause.
func IsDirective(text string) bool {
	_, ok := directiveBody(text)
	return ok
}

// Directives lists the binding clause comments attached to the imports of
// file, well-formed or not.
func Directives(file *ast.File) []*ast.Comment {
	var out []*ast.Comment
	for _, spec := range file.Imports {
		out = append(out, directiveComments(spec)...)
	}
	return out
}

// StripDirectives deletes every binding clause comment of file through e.
// Line structure is kept.
func StripDirectives(e *host.Edit, file *ast.File) {
	for _, c := range Directives(file) {
		e.Delete(c.Pos(), c.End())
	}
}

// Retarget points an import spec at path, keeping its local name.
func Retarget(e *host.Edit, spec *ast.ImportSpec, path string) {
	e.Replace(spec.Path.Pos(), spec.Path.End(), strconv.Quote(path))
}
