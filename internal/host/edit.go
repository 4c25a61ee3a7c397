package host

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/token"
	"sort"
	"strconv"
	"strings"
)

// Edit collects text edits against one file. Edits are addressed by
// positions of the original parse and applied together, so earlier edits
// never shift later ones.
type Edit struct {
	fset  *token.FileSet
	src   []byte
	edits []edit
}

type edit struct {
	start, end int
	text       string
	seq        int
}

func NewEdit(fset *token.FileSet, src []byte) *Edit {
	return &Edit{fset: fset, src: src}
}

func (e *Edit) Insert(pos token.Pos, text string) {
	off := e.offsetOf(pos)
	e.add(off, off, text)
}

func (e *Edit) Delete(start, end token.Pos) {
	e.add(e.offsetOf(start), e.offsetOf(end), "")
}

func (e *Edit) Replace(start, end token.Pos, text string) {
	e.add(e.offsetOf(start), e.offsetOf(end), text)
}

func (e *Edit) Len() int { return len(e.edits) }

func (e *Edit) add(start, end int, text string) {
	e.edits = append(e.edits, edit{start: start, end: end, text: text, seq: len(e.edits)})
}

func (e *Edit) offsetOf(pos token.Pos) int {
	if !pos.IsValid() {
		return -1
	}
	return e.fset.Position(pos).Offset
}

// Bytes applies the edits. Inserts at one offset keep their order; two
// edits that replace overlapping ranges are an error.
func (e *Edit) Bytes() ([]byte, error) {
	sorted := append([]edit(nil), e.edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start < sorted[j].start
		}
		if sorted[i].end != sorted[j].end {
			return sorted[i].end < sorted[j].end
		}
		return sorted[i].seq < sorted[j].seq
	})
	var buf bytes.Buffer
	at := 0
	for _, ed := range sorted {
		if ed.start < 0 || ed.end < ed.start || ed.end > len(e.src) {
			return nil, fmt.Errorf("edit [%d,%d) out of range", ed.start, ed.end)
		}
		if ed.start < at {
			return nil, fmt.Errorf("overlapping edit at offset %d", ed.start)
		}
		buf.Write(e.src[at:ed.start])
		buf.WriteString(ed.text)
		at = ed.end
	}
	buf.Write(e.src[at:])
	return buf.Bytes(), nil
}

// Rewrite edits the non-test files of a package.
type Rewrite struct {
	pkg   *Package
	edits map[string]*Edit
}

func NewRewrite(pkg *Package) *Rewrite {
	return &Rewrite{pkg: pkg, edits: make(map[string]*Edit)}
}

// File returns the editor of the file holding f.
func (r *Rewrite) File(f *ast.File) (*Edit, error) {
	name := r.pkg.Fset.File(f.Pos()).Name()
	if e, ok := r.edits[name]; ok {
		return e, nil
	}
	src, err := SourceOf(r.pkg, name)
	if err != nil {
		return nil, err
	}
	e := NewEdit(r.pkg.Fset, src)
	r.edits[name] = e
	return e, nil
}

// Apply produces a copy of the package, named path, with every edit
// applied. Lines of untouched text keep their numbers as long as edits keep
// their own line counts.
func (r *Rewrite) Apply(path string) (*Copy, map[string][]byte, error) {
	sources := make(map[string][]byte, len(r.pkg.FileNames))
	for _, name := range r.pkg.FileNames {
		if e, ok := r.edits[name]; ok {
			b, err := e.Bytes()
			if err != nil {
				return nil, nil, fmt.Errorf("rewrite %s: %w", name, err)
			}
			sources[name] = b
			continue
		}
		src, err := SourceOf(r.pkg, name)
		if err != nil {
			return nil, nil, fmt.Errorf("rewrite %s: %w", r.pkg.Path, err)
		}
		sources[name] = src
	}
	fset, files, err := Reparse(r.pkg.FileNames, sources)
	if err != nil {
		return nil, nil, fmt.Errorf("rewrite %s: %w", r.pkg.Path, err)
	}
	cp := &Copy{
		Path:  path,
		Name:  r.pkg.Name,
		Fset:  fset,
		Files: files,
		Names: append([]string(nil), r.pkg.FileNames...),
	}
	return cp, sources, nil
}

// LineCount is the number of line breaks between start and end.
func LineCount(fset *token.FileSet, start, end token.Pos) int {
	return fset.Position(end).Line - fset.Position(start).Line
}

// ImportLine renders imports, keyed by local name, as a declaration that
// fits on the line of a package clause, so no line of the file moves.
func ImportLine(imports map[string]string) string {
	if len(imports) == 0 {
		return ""
	}
	names := make([]string, 0, len(imports))
	for n := range imports {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+" "+strconv.Quote(imports[n]))
	}
	return "; import (" + strings.Join(parts, "; ") + ")"
}
