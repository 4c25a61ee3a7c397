package trace

import "context"

type frameKey struct{}

// frame is what a context carries: the tracer and the innermost open span.
type frame struct {
	tracer Tracer
	span   uint64
}

func frameOf(ctx context.Context) frame {
	if ctx != nil {
		if f, ok := ctx.Value(frameKey{}).(frame); ok {
			return f
		}
	}
	return frame{tracer: Nop}
}

// FromContext returns the Tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer { return frameOf(ctx).tracer }

func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, frameKey{}, frame{tracer: t})
}

// Start opens a span for op on subject, nested under the span carried by
// ctx, and returns a context carrying the new span.
func Start(ctx context.Context, scope Scope, op, subject string) (context.Context, *Span) {
	f := frameOf(ctx)
	sp := open(f.tracer, scope, op, subject, f.span)
	if sp.tracer == nil {
		return ctx, sp
	}
	return context.WithValue(ctx, frameKey{}, frame{tracer: f.tracer, span: sp.ID()}), sp
}

// Point emits an instant event under the span carried by ctx.
func Point(ctx context.Context, scope Scope, op, subject string) {
	f := frameOf(ctx)
	if !f.tracer.Enabled() || !f.tracer.Level().ShouldEmit(scope) {
		return
	}
	f.tracer.Emit(&Event{
		Time:     now(),
		Kind:     KindPoint,
		Scope:    scope,
		ParentID: f.span,
		GID:      goid(),
		Name:     op,
		Subject:  subject,
	})
}
