// Package trace records what the binding engine is doing while it runs.
//
// Every phase of a build (eligibility checks, clause resolution, the two
// lowerings, instantiation builds and cache hits) opens a span. Spans nest
// through context.Context:
//
//	ctx, span := trace.Start(ctx, trace.ScopePackage, "ntec", "example.com/list")
//	defer span.End("")
//
// Tracers: Nop (default), StreamTracer (text or NDJSON to a writer),
// RingTracer (last N events, dumped when a build fails) and MultiTracer.
// A Heartbeat emits periodic events so a stuck instantiation is visible
// as heartbeats with no span ends.
package trace
