package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goplus/lpm/internal/build"
	"github.com/goplus/lpm/internal/env"
	"github.com/goplus/lpm/internal/graph"
	"github.com/goplus/lpm/internal/scheduler"
)

// Span attribute keys.
const (
	AttrRunID       = "lpm.run.id"
	AttrNodeID      = "lpm.node.id"
	AttrNodeName    = "lpm.node.name"
	AttrNodeVersion = "lpm.node.version"
	AttrVariants    = "lpm.node.variants"
	AttrPhase       = "lpm.phase"
	AttrStatus      = "lpm.status"
	AttrReason      = "lpm.reason"
	AttrRoot        = "lpm.install.root"
)

// Executor wraps a scheduler.Executor with a span per node build.
type Executor struct {
	tracer trace.Tracer
	next   scheduler.Executor
}

// WrapExecutor returns next with tracing.
func WrapExecutor(tracer trace.Tracer, next scheduler.Executor) *Executor {
	return &Executor{tracer: tracer, next: next}
}

func (e *Executor) Execute(ctx context.Context, node *graph.Node, envCtx env.Context, deps []*build.Artifact) (*build.Artifact, error) {
	ctx, span := e.tracer.Start(ctx, "build "+node.ID, trace.WithAttributes(
		attribute.String(AttrNodeID, node.ID),
		attribute.String(AttrNodeName, node.Spec.Name),
		attribute.String(AttrNodeVersion, node.Spec.Version),
		attribute.String(AttrVariants, node.Spec.VariantString()),
	))
	defer span.End()

	a, err := e.next.Execute(ctx, node, envCtx, deps)
	if err != nil {
		var pe *build.PhaseError
		if errors.As(err, &pe) {
			span.SetAttributes(attribute.String(AttrPhase, pe.Phase.String()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return a, err
	}
	if a != nil {
		span.SetAttributes(attribute.String(AttrRoot, a.Root))
	}
	span.SetStatus(codes.Ok, "")
	return a, nil
}

// PhaseHook records the start of each phase as an event on the node span.
// It has the signature of build.Options.OnPhase.
func PhaseHook(ctx context.Context, node string, phase build.Phase) {
	trace.SpanFromContext(ctx).AddEvent(phase.String(), trace.WithAttributes(
		attribute.String(AttrNodeID, node),
	))
}

// Observer records skipped nodes, which never reach the executor, as
// events on the run span carried by the Run context.
type Observer struct{}

func (Observer) NodeReady(context.Context, string, *graph.Node)   {}
func (Observer) NodeStarted(context.Context, string, *graph.Node) {}

func (Observer) NodeFinished(ctx context.Context, runID string, node *graph.Node, o *scheduler.Outcome) {
	if o.Status != scheduler.Skipped {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.AddEvent("skipped "+node.ID, trace.WithAttributes(
		attribute.String(AttrRunID, runID),
		attribute.String(AttrNodeID, node.ID),
		attribute.String(AttrReason, string(o.Reason)),
	))
}

// StartRun starts the span that parents every node span of one run.
func StartRun(ctx context.Context, tracer trace.Tracer, targets []string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lpm install", trace.WithAttributes(
		attribute.StringSlice("lpm.targets", targets),
	))
}

// EndRun closes the run span with the result of the run.
func EndRun(span trace.Span, res *scheduler.Result) {
	defer span.End()
	if res == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrRunID, res.RunID),
		attribute.Int("lpm.installed", res.Count(scheduler.Installed)),
		attribute.Int("lpm.failed", res.Count(scheduler.Failed)),
		attribute.Int("lpm.skipped", res.Count(scheduler.Skipped)),
	)
	if !res.OK() {
		span.SetStatus(codes.Error, "run failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}
