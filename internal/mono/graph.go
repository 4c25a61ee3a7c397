package mono

import (
	"polybind/internal/project"
	"polybind/internal/project/dag"
)

// Graph is the dependency graph of the finished instantiations.
type Graph struct {
	// Order lists keys with dependencies before their dependents.
	Order  []Key
	Edges  map[Key][]Key
	Cyclic bool
}

func (c *Cache) Graph() Graph {
	insts := c.Instances()
	byPath := make(map[string]Key, len(insts))
	nodes := make([]dag.Node, 0, len(insts))
	g := Graph{Edges: make(map[Key][]Key, len(insts))}
	for _, inst := range insts {
		byPath[inst.Path] = inst.Key
		meta := project.PackageMeta{Path: inst.Path}
		for _, d := range inst.Deps {
			meta.Imports = append(meta.Imports, project.ImportMeta{Path: InstancePath(d)})
		}
		g.Edges[inst.Key] = append([]Key(nil), inst.Deps...)
		nodes = append(nodes, dag.Node{Meta: meta})
	}
	dg := dag.New(nodes)
	topo := dg.Sort()
	g.Cyclic = topo.Cyclic()
	for _, name := range dg.Names(topo.Order) {
		if k, ok := byPath[name]; ok {
			g.Order = append(g.Order, k)
		}
	}
	return g
}
