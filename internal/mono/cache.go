package mono

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/source"
	"polybind/internal/trace"
)

type entry struct {
	done  chan struct{}
	inst  *Instantiation
	owner uint64 // request running the build
}

// request is one chain of nested instantiations run by a single goroutine.
type request struct {
	id    uint64
	chain []Key
	steps int
}

type nested struct {
	once  sync.Once
	rs    []*binding.Resolved
	diags []diag.Diagnostic
}

// Cache builds every instantiation at most once per Key. Concurrent
// requesters of a key that is being built wait for that build; built and
// failed keys are answered from the cache.
type Cache struct {
	prog   *host.Program
	budget Budget

	mu      sync.Mutex
	entries map[Key]*entry
	// waiting is the wait-for graph: request id -> key it is blocked on.
	waiting map[uint64]Key
	order   []Key
	nextReq uint64

	baseMu sync.Mutex
	bases  map[string]*nested

	builds atomic.Int64
	hits   atomic.Int64
}

func NewCache(prog *host.Program, budget Budget) *Cache {
	def := DefaultBudget()
	if budget.MaxDepth <= 0 {
		budget.MaxDepth = def.MaxDepth
	}
	if budget.MaxSteps <= 0 {
		budget.MaxSteps = def.MaxSteps
	}
	return &Cache{
		prog:    prog,
		budget:  budget,
		entries: make(map[Key]*entry),
		waiting: make(map[uint64]Key),
		bases:   make(map[string]*nested),
	}
}

type Stats struct {
	Builds int64
	Hits   int64
	Failed int
}

func (c *Cache) Stats() Stats {
	s := Stats{Builds: c.builds.Load(), Hits: c.hits.Load()}
	for _, inst := range c.Instances() {
		if inst.Failed {
			s.Failed++
		}
	}
	return s
}

// Instances returns every finished instantiation in publication order.
func (c *Cache) Instances() []*Instantiation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Instantiation, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k].inst)
	}
	return out
}

// Lookup returns the finished instantiation for k.
func (c *Cache) Lookup(k Key) (*Instantiation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || e.inst == nil {
		return nil, false
	}
	return e.inst, true
}

// KeysOf lists the distinct canonical keys requested for base, sorted.
func (c *Cache) KeysOf(base string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.entries {
		if k.Base == base {
			out = append(out, k.Canonical)
		}
	}
	sort.Strings(out)
	return out
}

// Instantiate returns the instantiation for the resolved clause r. built
// reports whether this call ran the build; otherwise the result (possibly a
// failure) came from the cache. The error is non-nil only when ctx ends
// while waiting.
func (c *Cache) Instantiate(ctx context.Context, r *binding.Resolved) (inst *Instantiation, built bool, err error) {
	c.mu.Lock()
	c.nextReq++
	req := &request{id: c.nextReq}
	c.mu.Unlock()
	return c.instantiate(ctx, req, r)
}

func (c *Cache) instantiate(ctx context.Context, req *request, r *binding.Resolved) (*Instantiation, bool, error) {
	key := Key{Base: r.Target.Path, Canonical: r.Key}
	site := r.Clause.Span

	if slices.Contains(req.chain, key) {
		return c.transient(key, diag.NewError(diag.CyclicBinding, site,
			"cyclic binding: "+chainString(append(slices.Clone(req.chain), key)))), false, nil
	}
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		select {
		case <-e.done:
			c.mu.Unlock()
			c.hits.Add(1)
			trace.Point(ctx, trace.ScopeDetail, "mono:hit", key.String())
			return e.inst, false, nil
		default:
		}
		if c.waitsOn(req, e.owner) {
			c.mu.Unlock()
			return c.transient(key, diag.NewError(diag.CyclicBinding, site,
				fmt.Sprintf("cyclic binding: %s is being built by a request that waits on %s", key, chainString(req.chain)))), false, nil
		}
		c.waiting[req.id] = key
		c.mu.Unlock()

		defer func() {
			c.mu.Lock()
			delete(c.waiting, req.id)
			c.mu.Unlock()
		}()
		select {
		case <-e.done:
			c.hits.Add(1)
			return e.inst, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if d, over := c.overBudget(req, key, site); over {
		c.mu.Unlock()
		return c.transient(key, d), false, nil
	}
	e := &entry{done: make(chan struct{}), owner: req.id}
	c.entries[key] = e
	c.mu.Unlock()

	req.chain = append(req.chain, key)
	inst := c.build(ctx, req, r, key)
	req.chain = req.chain[:len(req.chain)-1]

	c.mu.Lock()
	e.inst = inst
	c.order = append(c.order, key)
	close(e.done)
	c.mu.Unlock()
	c.builds.Add(1)
	return inst, true, nil
}

func (c *Cache) overBudget(req *request, key Key, site source.Span) (diag.Diagnostic, bool) {
	if len(req.chain) >= c.budget.MaxDepth {
		return diag.NewError(diag.InstantiationBudgetExceeded, site,
			fmt.Sprintf("instantiation of %s exceeds the depth budget of %d", key, c.budget.MaxDepth)).
			WithNote(site, "chain: "+chainString(req.chain)), true
	}
	req.steps++
	if req.steps > c.budget.MaxSteps {
		return diag.NewError(diag.InstantiationBudgetExceeded, site,
			fmt.Sprintf("instantiation of %s exceeds the step budget of %d", key, c.budget.MaxSteps)), true
	}
	return diag.Diagnostic{}, false
}

// waitsOn follows the wait-for graph from owner and reports whether it
// leads back to req. c.mu must be held.
func (c *Cache) waitsOn(req *request, owner uint64) bool {
	seen := make(map[uint64]bool)
	for owner != req.id {
		if seen[owner] {
			return false
		}
		seen[owner] = true
		k, ok := c.waiting[owner]
		if !ok {
			return false
		}
		e, ok := c.entries[k]
		if !ok {
			return false
		}
		owner = e.owner
	}
	return true
}

// transient is a failure of the current request that is not cached under
// key; the build that asked for key fails with it and is cached instead.
func (c *Cache) transient(key Key, d diag.Diagnostic) *Instantiation {
	inst := &Instantiation{Key: key, Path: InstancePath(key)}
	return inst.fail(d)
}

func (c *Cache) baseClauses(ctx context.Context, base *host.Package) ([]*binding.Resolved, []diag.Diagnostic) {
	c.baseMu.Lock()
	n, ok := c.bases[base.Path]
	if !ok {
		n = &nested{}
		c.bases[base.Path] = n
	}
	c.baseMu.Unlock()
	n.once.Do(func() {
		n.rs, n.diags = binding.ResolveUnit(ctx, c.prog, base)
	})
	return n.rs, n.diags
}

func chainString(keys []Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}
