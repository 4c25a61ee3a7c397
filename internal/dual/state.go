package dual

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/mono"
	"polybind/internal/source"
	"polybind/internal/trace"
)

type site struct {
	span source.Span
	key  string
}

// Validator collects the bound import sites of a whole build. Record is
// safe for concurrent use by parallel units.
type Validator struct {
	mu    sync.Mutex
	sites map[string][]site
}

func NewValidator() *Validator {
	return &Validator{sites: make(map[string][]site)}
}

// Record notes the resolved clauses of one unit.
func (v *Validator) Record(clauses []*binding.Resolved) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range clauses {
		if r.Failed || r.Target == nil {
			continue
		}
		v.sites[r.Target.Path] = append(v.sites[r.Target.Path], site{span: r.Clause.Span, key: r.Key})
	}
}

// SharedState reports AmbiguousSharedState at every import site of a base
// package that declares package-level variables and is requested under
// more than one canonical key. Keys built by cache, including the ones
// reached only through other instantiations, count as requests.
func (v *Validator) SharedState(ctx context.Context, prog *host.Program, cache *mono.Cache) []diag.Diagnostic {
	_, span := trace.Start(ctx, trace.ScopePass, "dual:state", "")
	defer span.End("")

	v.mu.Lock()
	bases := make(map[string][]site, len(v.sites))
	for b, ss := range v.sites {
		bases[b] = slices.Clone(ss)
	}
	v.mu.Unlock()
	if cache != nil {
		for _, inst := range cache.Instances() {
			if _, ok := bases[inst.Key.Base]; !ok {
				bases[inst.Key.Base] = nil
			}
		}
	}

	paths := make([]string, 0, len(bases))
	for b := range bases {
		paths = append(paths, b)
	}
	sort.Strings(paths)

	var col diag.Collector
	for _, path := range paths {
		pkg, ok := prog.Package(path)
		if !ok {
			continue
		}
		vars := host.PackageVars(pkg)
		if len(vars) == 0 {
			continue
		}
		ss := bases[path]
		keys := distinctKeys(ss, cache, path)
		if len(keys) < 2 {
			continue
		}
		names := make([]string, 0, len(vars))
		for _, vd := range vars {
			names = append(names, vd.Name)
		}
		msg := fmt.Sprintf("%s has package-level state (%s) and is bound %d ways; each instantiation owns a copy under the monomorphic lowering while the polymorphic lowering shares one",
			pkg.Name, strings.Join(names, ", "), len(keys))
		at := make([]source.Span, 0, max(1, len(ss)))
		for _, s := range ss {
			at = append(at, s.span)
		}
		if len(at) == 0 {
			// requested only from inside other instantiations
			at = append(at, vars[0].Span)
		}
		for _, sp := range at {
			b := diag.ReportWarning(&col, diag.AmbiguousSharedState, sp, msg)
			for _, vd := range vars {
				b.WithNote(vd.Span, vd.Name+" declared here")
			}
			b.Emit()
		}
	}
	diag.Sort(col.Items)
	return col.Items
}

func distinctKeys(ss []site, cache *mono.Cache, base string) []string {
	seen := make(map[string]bool)
	for _, s := range ss {
		seen[s.key] = true
	}
	if cache != nil {
		for _, k := range cache.KeysOf(base) {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
