package driver

import (
	"polybind/internal/host"
	"polybind/internal/project"
	"polybind/internal/project/dag"
)

// PackageHashes combines each package's content digest with the hashes of
// the program packages it imports, dependencies first. On an import cycle
// every package keeps its content digest.
func PackageHashes(pkgs []*host.Package) map[string]project.Digest {
	out := make(map[string]project.Digest, len(pkgs))
	nodes := make([]dag.Node, 0, len(pkgs))
	for _, p := range pkgs {
		nodes = append(nodes, dag.Node{Meta: p.Meta()})
		out[p.Path] = p.Digest
	}
	g := dag.New(nodes)
	topo := g.Sort()
	if topo.Cyclic() {
		return out
	}
	for _, id := range topo.Order {
		meta := g.Meta(id)
		deps := g.Deps(id)
		digests := make([]project.Digest, len(deps))
		for i, d := range deps {
			digests[i] = out[g.Name(d)]
		}
		out[meta.Path] = project.Combine(meta.Hash, digests...)
	}
	return out
}
