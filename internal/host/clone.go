package host

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
)

// Copy is a private, mutable copy of a package's non-test syntax.
type Copy struct {
	Path  string
	Name  string
	Fset  *token.FileSet
	Files []*ast.File
	Names []string
}

const parseMode = parser.ParseComments | parser.SkipObjectResolution

// Clone re-parses the non-test sources of pkg into a fresh FileSet. File
// names are kept so positions in the copy still point at the original source.
func Clone(pkg *Package) (*Copy, error) {
	c := &Copy{Path: pkg.Path, Name: pkg.Name, Fset: token.NewFileSet()}
	for _, name := range pkg.FileNames {
		src, err := SourceOf(pkg, name)
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", pkg.Path, err)
		}
		if err := c.AddFile(name, src); err != nil {
			return nil, fmt.Errorf("clone %s: %w", pkg.Path, err)
		}
	}
	return c, nil
}

// SourceOf returns the bytes file name of pkg was parsed from.
func SourceOf(pkg *Package, name string) ([]byte, error) {
	if src, ok := pkg.Sources[name]; ok {
		return src, nil
	}
	return os.ReadFile(name)
}

// AddFile parses src and appends it to the copy.
func (c *Copy) AddFile(name string, src []byte) error {
	f, err := parser.ParseFile(c.Fset, name, src, parseMode)
	if err != nil {
		return err
	}
	c.Files = append(c.Files, f)
	c.Names = append(c.Names, name)
	return nil
}

// Render prints every file of the copy with gofmt layout.
func (c *Copy) Render() (map[string][]byte, error) {
	out := make(map[string][]byte, len(c.Files))
	for i, f := range c.Files {
		var buf bytes.Buffer
		if err := format.Node(&buf, c.Fset, f); err != nil {
			return nil, fmt.Errorf("render %s: %w", c.Names[i], err)
		}
		out[c.Names[i]] = buf.Bytes()
	}
	return out, nil
}

// Reparse turns rendered sources back into syntax positioned in a new
// FileSet, so the result has consistent positions after AST surgery.
func Reparse(names []string, sources map[string][]byte) (*token.FileSet, []*ast.File, error) {
	fset := token.NewFileSet()
	files := make([]*ast.File, 0, len(names))
	for _, n := range names {
		f, err := parser.ParseFile(fset, n, sources[n], parseMode)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, f)
	}
	return fset, files, nil
}

// FindTypeSpec finds the declaration of the named type and the file
// holding it.
func FindTypeSpec(files []*ast.File, name string) (*ast.TypeSpec, *ast.File) {
	for _, f := range files {
		for _, decl := range f.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				continue
			}
			for _, s := range gd.Specs {
				if ts := s.(*ast.TypeSpec); ts.Name.Name == name {
					return ts, f
				}
			}
		}
	}
	return nil, nil
}
