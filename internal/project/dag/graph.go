// Package dag orders packages by their imports and reports the import
// problems that block loading: duplicates, self imports, missing packages,
// cycles and broken dependencies.
package dag

import (
	"fmt"
	"slices"

	"fortio.org/safecast"

	"polybind/internal/diag"
	"polybind/internal/project"
	"polybind/internal/source"
)

type NodeID uint32

// Node is one declared package. Problems in its imports go to Reporter
// when it is set.
type Node struct {
	Meta     project.PackageMeta
	Reporter diag.Reporter
}

type vertex struct {
	meta    project.PackageMeta
	rep     diag.Reporter
	present bool
	deps    []NodeID
	users   []NodeID
	broken  bool
	first   *diag.Diagnostic
}

// Graph holds every declared package and every path they import. IDs
// follow the sorted paths.
type Graph struct {
	ids   map[string]NodeID
	verts []vertex
}

// New indexes nodes and links their imports. The first declaration of a
// path wins; later ones are reported as duplicates.
func New(nodes []Node) *Graph {
	paths := make([]string, 0, len(nodes))
	for _, n := range nodes {
		paths = append(paths, n.Meta.Path)
		for _, imp := range n.Meta.Imports {
			paths = append(paths, imp.Path)
		}
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)
	if len(paths) > 0 && paths[0] == "" {
		paths = paths[1:]
	}

	g := &Graph{ids: make(map[string]NodeID, len(paths)), verts: make([]vertex, len(paths))}
	for i, p := range paths {
		g.ids[p] = mustID(i)
		g.verts[i].meta.Path = p
	}

	for _, n := range nodes {
		id, ok := g.ids[n.Meta.Path]
		if !ok {
			continue
		}
		v := &g.verts[id]
		if v.present {
			var notes []diag.Note
			if v.meta.Span.IsValid() {
				notes = append(notes, diag.Note{Span: v.meta.Span, Msg: fmt.Sprintf("previous declaration of %q", v.meta.Path)})
			}
			report(n.Reporter, n.Meta.Span, notes, "duplicate package %q", n.Meta.Path)
			continue
		}
		*v = vertex{meta: n.Meta, rep: n.Reporter, present: true}
	}

	for i := range g.verts {
		from := &g.verts[i]
		if !from.present {
			continue
		}
		for _, imp := range from.meta.Imports {
			to, ok := g.ids[imp.Path]
			switch {
			case !ok:
				continue
			case int(to) == i:
				report(from.rep, imp.Span, nil, "%q imports itself", from.meta.Path)
				continue
			case slices.Contains(from.deps, to):
				continue
			}
			from.deps = append(from.deps, to)
			if g.verts[to].present {
				g.verts[to].users = append(g.verts[to].users, mustID(i))
			} else {
				report(from.rep, imp.Span, nil, "%q imports missing package %q", from.meta.Path, imp.Path)
			}
		}
		slices.Sort(from.deps)
	}
	return g
}

func report(r diag.Reporter, at source.Span, notes []diag.Note, format string, args ...any) {
	if r != nil {
		r.Report(diag.LoadFailed, diag.SevError, at, fmt.Sprintf(format, args...), notes, nil)
	}
}

func (g *Graph) Len() int { return len(g.verts) }

// ID looks a path up.
func (g *Graph) ID(path string) (NodeID, bool) {
	id, ok := g.ids[path]
	return id, ok
}

func (g *Graph) Name(id NodeID) string { return g.verts[id].meta.Path }

func (g *Graph) Names(ids []NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Name(id)
	}
	return out
}

// Present reports whether id was declared rather than only imported.
func (g *Graph) Present(id NodeID) bool { return g.verts[id].present }

func (g *Graph) Meta(id NodeID) project.PackageMeta { return g.verts[id].meta }

// Deps lists the declared packages id imports, sorted.
func (g *Graph) Deps(id NodeID) []NodeID {
	var out []NodeID
	for _, d := range g.verts[id].deps {
		if g.verts[d].present {
			out = append(out, d)
		}
	}
	return out
}

func mustID(i int) NodeID {
	id, err := safecast.Conv[NodeID](i)
	if err != nil {
		panic(fmt.Errorf("node id overflow: %w", err))
	}
	return id
}
