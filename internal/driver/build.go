package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/dual"
	"polybind/internal/host"
	"polybind/internal/mono"
	"polybind/internal/ntec"
	"polybind/internal/observ"
	"polybind/internal/poly"
	"polybind/internal/trace"
)

// UnitResult is the outcome for one unit.
type UnitResult struct {
	Unit    *host.Package
	Clauses []*binding.Resolved
	// Poly and Mono are nil when the lowering did not run.
	Poly        *poly.Rewritten
	Mono        *mono.Lowered
	Diagnostics []diag.Diagnostic
	Failed      bool
}

// Plain reports whether the unit has no binding clauses.
func (u *UnitResult) Plain() bool { return len(u.Clauses) == 0 }

// Result is the outcome of a build.
type Result struct {
	BuildID   uuid.UUID
	Units     []*UnitResult
	Instances []*mono.Instantiation
	Graph     mono.Graph
	Cache     mono.Stats
	Checks    int64
	Bag       *diag.Bag
	// Dropped counts diagnostics over MaxDiagnostics.
	Dropped int
	Timing  observ.Report
}

// Failed reports whether any unit failed or any error was reported.
func (r *Result) Failed() bool {
	for _, u := range r.Units {
		if u.Failed {
			return true
		}
	}
	return r.Bag.HasErrors()
}

// Build checks eligibility of every package of prog, then resolves and
// lowers each unit. Units are processed in parallel and share one
// instantiation cache. The error is non-nil only when ctx ends.
func Build(ctx context.Context, prog *host.Program, units []*host.Package, opts Options) (*Result, error) {
	res := &Result{BuildID: uuid.New()}
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "build", "")
	span.WithExtra("build_id", res.BuildID.String())
	defer span.End("")

	timer := observ.NewTimer()
	pkgs := prog.Packages()

	idx := timer.Begin("eligible")
	emit(opts.Progress, Event{Stage: StageEligible, Status: StatusWorking})
	_, checks, err := checkEligibility(ctx, prog, pkgs, opts)
	timer.End(idx, fmt.Sprintf("%d packages", len(pkgs)))
	if err != nil {
		return nil, err
	}
	res.Checks = checks
	emit(opts.Progress, Event{Stage: StageEligible, Status: StatusDone})

	cache := mono.NewCache(prog, opts.Budget)
	validator := dual.NewValidator()

	idx = timer.Begin("units")
	res.Units = make([]*UnitResult, len(units))
	all := diag.NewBag(0)
	report := diag.NewSyncReporter(diag.NewDedupReporter(diag.BagReporter{Bag: all}))
	for _, u := range units {
		emit(opts.Progress, Event{Unit: u.Path, Stage: StageLoad, Status: StatusQueued})
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs())
	for i, u := range units {
		g.Go(func() error {
			ur, err := buildUnit(gctx, prog, u, cache, validator, timer, opts)
			if err != nil {
				return err
			}
			res.Units[i] = ur
			diag.EmitAll(report, ur.Diagnostics)
			st := StatusDone
			if ur.Failed {
				st = StatusError
			}
			emit(opts.Progress, Event{Unit: u.Path, Stage: StageFinish, Status: st})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	timer.End(idx, fmt.Sprintf("%d units", len(units)))

	if opts.Strict {
		idx = timer.Begin("dual:state")
		emit(opts.Progress, Event{Stage: StageDual, Status: StatusWorking})
		diag.EmitAll(report, validator.SharedState(ctx, prog, cache))
		emit(opts.Progress, Event{Stage: StageDual, Status: StatusDone})
		timer.End(idx, "")
	}

	res.Instances = cache.Instances()
	res.Graph = cache.Graph()
	res.Cache = cache.Stats()
	res.Bag, res.Dropped = truncate(all, opts.MaxDiagnostics)
	res.Timing = timer.Report()
	if opts.EnableTimings {
		appendTimingDiagnostic(res.Bag, timingPayload{
			BuildID: res.BuildID.String(),
			TotalMS: res.Timing.TotalMS,
			Phases:  res.Timing.Phases,
			Stages:  res.Timing.Stages,
		})
	}
	span.WithExtra("instances", fmt.Sprint(len(res.Instances)))
	return res, nil
}

// Verdicts are the eligibility results of one package.
type Verdicts struct {
	Package *host.Package
	Results []ntec.Result
}

// CheckEligibility runs the eligibility checker over every package of prog,
// consulting the caches of opts. Results are in program order.
func CheckEligibility(ctx context.Context, prog *host.Program, opts Options) ([]Verdicts, int64, error) {
	return checkEligibility(ctx, prog, prog.Packages(), opts)
}

func checkEligibility(ctx context.Context, prog *host.Program, pkgs []*host.Package, opts Options) ([]Verdicts, int64, error) {
	ctx, span := trace.Start(ctx, trace.ScopePass, "eligible", "")
	defer span.End("")

	var store ntec.Store
	if opts.Packages != nil || opts.DiskCache != nil {
		store = newTiered(opts.Packages, opts.DiskCache, PackageHashes(pkgs))
	}
	checker := ntec.NewChecker(prog, store, opts.jobs())
	out := make([]Verdicts, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs())
	for i, p := range pkgs {
		if p.Broken() && opts.Packages != nil {
			opts.Packages.MarkBroken(p.Path, p.Digest, p.FirstProblem())
		}
		g.Go(func() error {
			rs, err := checker.Eligible(gctx, p)
			out[i] = Verdicts{Package: p, Results: rs}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, checker.Checks(), nil
}

func buildUnit(ctx context.Context, prog *host.Program, unit *host.Package, cache *mono.Cache, v *dual.Validator, timer *observ.Timer, opts Options) (*UnitResult, error) {
	ctx, span := trace.Start(ctx, trace.ScopePackage, "unit", unit.Path)
	defer span.End("")

	out := &UnitResult{Unit: unit}
	start := time.Now()
	stageStart := start
	done := func(stage Stage, failed bool) {
		st := StatusDone
		if failed {
			st = StatusError
		}
		now := time.Now()
		if stage != StageLoad {
			timer.Add(string(stage), now.Sub(stageStart))
		}
		stageStart = now
		emit(opts.Progress, Event{Unit: unit.Path, Stage: stage, Status: st, Elapsed: now.Sub(start)})
	}

	if unit.Broken() {
		out.Diagnostics = append(out.Diagnostics, unit.Problems...)
		out.Failed = true
		done(StageLoad, true)
		return out, nil
	}
	done(StageLoad, false)

	emit(opts.Progress, Event{Unit: unit.Path, Stage: StageBind, Status: StatusWorking})
	clauses, ds := binding.ResolveUnit(ctx, prog, unit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.Clauses = clauses
	out.Diagnostics = append(out.Diagnostics, ds...)
	v.Record(clauses)
	done(StageBind, diag.HasErrors(ds))
	if out.Plain() {
		out.Failed = diag.HasErrors(out.Diagnostics)
		return out, nil
	}

	runPoly := opts.Mode.poly() || opts.Strict
	runMono := opts.Mode.mono() || opts.Strict
	var oc dual.Outcome
	if runPoly {
		emit(opts.Progress, Event{Unit: unit.Path, Stage: StagePoly, Status: StatusWorking})
		rw, pds, err := poly.Transform(ctx, prog, unit, clauses, poly.Options{Address: opts.Address})
		if err != nil {
			return nil, err
		}
		oc.Poly, oc.PolyDiags = rw, pds
		done(StagePoly, rw.Failed)
	}
	if runMono {
		emit(opts.Progress, Event{Unit: unit.Path, Stage: StageMono, Status: StatusWorking})
		lw, mds, err := cache.Lower(ctx, unit, clauses)
		if err != nil {
			return nil, err
		}
		oc.Mono, oc.MonoDiags = lw, mds
		done(StageMono, lw.Failed)
	}

	switch {
	case runPoly && runMono:
		out.Diagnostics = append(out.Diagnostics, dual.Correlate(oc)...)
	default:
		out.Diagnostics = append(out.Diagnostics, oc.PolyDiags...)
		out.Diagnostics = append(out.Diagnostics, oc.MonoDiags...)
	}
	if opts.Mode.poly() {
		out.Poly = oc.Poly
	}
	if opts.Mode.mono() {
		out.Mono = oc.Mono
	}
	out.Failed = diag.HasErrors(out.Diagnostics) ||
		(oc.Poly != nil && oc.Poly.Failed) ||
		(oc.Mono != nil && oc.Mono.Failed)
	return out, nil
}

// truncate sorts the deduplicated diagnostics and keeps at most max of
// them.
func truncate(all *diag.Bag, max int) (*diag.Bag, int) {
	all.Sort()
	bag := diag.NewBag(max)
	dropped := 0
	for _, d := range all.Items() {
		if !bag.Add(d) {
			dropped++
		}
	}
	return bag, dropped
}
