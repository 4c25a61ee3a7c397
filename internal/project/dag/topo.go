package dag

import (
	"fmt"
	"slices"
	"strings"

	"polybind/internal/diag"
)

// Topo is a dependency-first ordering of the declared packages.
type Topo struct {
	// Order lists every package after the packages it imports. Packages on
	// or behind a cycle are left out.
	Order []NodeID
	// Batches groups Order into waves whose members only import earlier
	// waves.
	Batches [][]NodeID
	// Cycles holds one import path per cycle, first node repeated last.
	Cycles [][]NodeID
}

func (t *Topo) Cyclic() bool { return len(t.Cycles) > 0 }

// Sort orders the graph with Kahn's algorithm, starting from packages
// without declared imports.
func (g *Graph) Sort() *Topo {
	pending := make([]int, len(g.verts))
	var wave []NodeID
	for i := range g.verts {
		if !g.verts[i].present {
			continue
		}
		pending[i] = len(g.Deps(mustID(i)))
		if pending[i] == 0 {
			wave = append(wave, mustID(i))
		}
	}

	t := &Topo{}
	done := make([]bool, len(g.verts))
	for len(wave) > 0 {
		t.Batches = append(t.Batches, wave)
		t.Order = append(t.Order, wave...)
		var next []NodeID
		for _, id := range wave {
			done[id] = true
			for _, u := range g.verts[id].users {
				if pending[u]--; pending[u] == 0 {
					next = append(next, u)
				}
			}
		}
		slices.Sort(next)
		wave = next
	}

	onCycle := make([]bool, len(g.verts))
	for i := range g.verts {
		id := mustID(i)
		if !g.verts[i].present || done[i] || onCycle[i] {
			continue
		}
		if path := g.cycleThrough(id, done); path != nil {
			for _, n := range path {
				onCycle[n] = true
			}
			t.Cycles = append(t.Cycles, path)
		}
	}
	return t
}

// cycleThrough finds the shortest import path from start back to itself
// over packages not yet ordered, or nil when start only sits behind a cycle.
func (g *Graph) cycleThrough(start NodeID, done []bool) []NodeID {
	parent := map[NodeID]NodeID{}
	queue := []NodeID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.Deps(cur) {
			if done[d] {
				continue
			}
			if d == start {
				path := []NodeID{start}
				for n := cur; n != start; n = parent[n] {
					path = append(path, n)
				}
				slices.Reverse(path[1:])
				return append(path, start)
			}
			if _, seen := parent[d]; !seen {
				parent[d] = cur
				queue = append(queue, d)
			}
		}
	}
	return nil
}

// ReportCycles reports code at every package on a cycle, naming the
// cycle's path.
func (g *Graph) ReportCycles(t *Topo, code diag.Code) {
	for _, cycle := range t.Cycles {
		summary := strings.Join(g.Names(cycle), " -> ")
		for _, id := range cycle[:len(cycle)-1] {
			v := g.verts[id]
			if v.rep != nil {
				v.rep.Report(code, diag.SevError, v.meta.Span, "import cycle: "+summary, nil, nil)
			}
		}
	}
}

// MarkBroken records that path failed to load; first is its first error.
func (g *Graph) MarkBroken(path string, first *diag.Diagnostic) {
	if id, ok := g.ids[path]; ok {
		g.verts[id].broken = true
		g.verts[id].first = first
	}
}

// ReportBrokenDeps reports, at each import site, dependencies marked
// broken.
func (g *Graph) ReportBrokenDeps() {
	for _, v := range g.verts {
		if !v.present || v.rep == nil {
			continue
		}
		seen := make(map[string]bool, len(v.meta.Imports))
		for _, imp := range v.meta.Imports {
			id, ok := g.ids[imp.Path]
			key := imp.Path + "@" + imp.Span.String()
			if !ok || !g.verts[id].broken || seen[key] {
				continue
			}
			seen[key] = true
			var notes []diag.Note
			if first := g.verts[id].first; first != nil {
				notes = append(notes, diag.Note{Span: first.Primary, Msg: "first error in dependency: " + first.Message})
			}
			v.rep.Report(diag.LoadFailed, diag.SevError, imp.Span, fmt.Sprintf("dependency %q has errors", imp.Path), notes, nil)
		}
	}
}
