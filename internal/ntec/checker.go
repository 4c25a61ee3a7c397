package ntec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"polybind/internal/diag"
	"polybind/internal/host"
	"polybind/internal/project"
	"polybind/internal/source"
	"polybind/internal/trace"
)

var ErrNotCandidate = errors.New("not an exported interface-shaped named type")

// Result is the verdict for one candidate type.
type Result struct {
	Name       string
	Eligible   bool
	Violations []diag.Diagnostic
}

// Store persists the verdicts of a whole package across runs.
type Store interface {
	Get(path string, digest project.Digest) ([]Result, bool)
	Put(path string, digest project.Digest, results []Result)
}

type memoKey struct {
	path   string
	digest project.Digest
	name   string
}

func (k memoKey) String() string {
	return k.path + "\x00" + k.digest.Hex() + "\x00" + k.name
}

// Checker memoizes eligibility verdicts. Concurrent first-time checks of the
// same candidate share one computation.
type Checker struct {
	prog  *host.Program
	store Store
	jobs  int

	group  singleflight.Group
	mu     sync.RWMutex
	memo   map[memoKey]Result
	checks atomic.Int64
}

// NewChecker creates a Checker. store may be nil; jobs <= 0 means no limit.
func NewChecker(prog *host.Program, store Store, jobs int) *Checker {
	return &Checker{
		prog:  prog,
		store: store,
		jobs:  jobs,
		memo:  make(map[memoKey]Result),
	}
}

// Checks returns how many shadow copies were actually type-checked.
func (c *Checker) Checks() int64 {
	return c.checks.Load()
}

// Candidates lists the exported interface-shaped named types of pkg. A
// package with provisional type errors offers none: its shadow copies would
// fail for reasons unrelated to the candidate.
func Candidates(prog *host.Program, pkg *host.Package) []host.NamedInterface {
	if pkg == nil || pkg.Broken() || len(pkg.Provisional) > 0 {
		return nil
	}
	return prog.Interfaces(pkg.Types)
}

func (c *Checker) lookup(k memoKey) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.memo[k]
	return r, ok
}

func (c *Checker) remember(k memoKey, r Result) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.memo[k]; ok {
		return prev
	}
	c.memo[k] = r
	return r
}

// Check decides whether name is eligible in pkg.
func (c *Checker) Check(ctx context.Context, pkg *host.Package, name string) (Result, error) {
	k := memoKey{path: pkg.Path, digest: pkg.Digest, name: name}
	if r, ok := c.lookup(k); ok {
		trace.Point(ctx, trace.ScopeDetail, "ntec:hit", pkg.Path+"."+name)
		return r, nil
	}
	v, err, _ := c.group.Do(k.String(), func() (any, error) {
		if r, ok := c.lookup(k); ok {
			return r, nil
		}
		r, err := c.check(ctx, pkg, name)
		if err != nil {
			return Result{}, err
		}
		return c.remember(k, r), nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Checker) check(ctx context.Context, pkg *host.Package, name string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	param, ok := c.prog.LookupInterface(pkg.Types, name)
	if !ok {
		return Result{}, fmt.Errorf("check %s.%s: %w", pkg.Path, name, ErrNotCandidate)
	}
	_, span := trace.Start(ctx, trace.ScopeDetail, "ntec:check", pkg.Path+"."+name)
	c.checks.Add(1)

	cp, err := buildShadow(pkg, param)
	if err != nil {
		span.End("error")
		return Result{}, err
	}
	_, _, errs := c.prog.Check(pkg.Path, cp.Fset, cp.Files)
	hard := host.HardErrors(errs)

	res := Result{Name: name, Eligible: len(hard) == 0}
	decl := source.At(pkg.Fset.Position(param.Obj.Pos()))
	for _, e := range hard {
		var sp source.Span
		if e.Pos.IsValid() {
			sp = source.At(cp.Fset.Position(e.Pos))
		}
		res.Violations = append(res.Violations,
			diag.NewError(diag.NTECViolation, sp,
				fmt.Sprintf("%s.%s is used structurally: %s", pkg.Name, name, e.Msg)).
				WithNote(decl, "parameter type candidate declared here"))
	}
	diag.Sort(res.Violations)
	if res.Eligible {
		span.End("eligible")
	} else {
		span.WithExtra("violations", fmt.Sprint(len(hard))).End("ineligible")
	}
	return res, nil
}

// Eligible checks every candidate of pkg in parallel, fills the package's
// eligible set and returns the verdicts ordered by type name.
func (c *Checker) Eligible(ctx context.Context, pkg *host.Package) ([]Result, error) {
	ctx, span := trace.Start(ctx, trace.ScopePackage, "ntec", pkg.Path)
	defer span.End("")

	if pkg.Broken() {
		pkg.SetEligible(nil)
		return nil, nil
	}
	if c.store != nil {
		if cached, ok := c.store.Get(pkg.Path, pkg.Digest); ok {
			for _, r := range cached {
				c.remember(memoKey{path: pkg.Path, digest: pkg.Digest, name: r.Name}, r)
			}
			pkg.SetEligible(eligibleNames(cached))
			span.WithExtra("store", "hit")
			return cached, nil
		}
	}

	cands := Candidates(c.prog, pkg)
	results := make([]Result, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	if c.jobs > 0 {
		g.SetLimit(c.jobs)
	}
	for i, cand := range cands {
		g.Go(func() error {
			r, err := c.Check(gctx, pkg, cand.Name())
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	pkg.SetEligible(eligibleNames(results))
	if c.store != nil {
		c.store.Put(pkg.Path, pkg.Digest, results)
	}
	return results, nil
}

func eligibleNames(results []Result) []string {
	var out []string
	for _, r := range results {
		if r.Eligible {
			out = append(out, r.Name)
		}
	}
	return out
}
