package subagent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"execengine/internal/domain/execution"
)

const (
	traceScopeSubagent = "execengine.subagent"
	traceSpanStageRun  = "execengine.subagent.stage"

	traceAttrStage    = "execengine.stage"
	traceAttrStatus   = "execengine.status"
	traceAttrQuestion = "execengine.blocker.question"
)

// startStageSpan opens a span around one stage dispatch (CodeWriter,
// UnitTester, QATester), mirroring the teacher's startReactSpan helper for
// its own per-iteration tracing.
func startStageSpan(ctx context.Context, stage execution.StageName) (context.Context, trace.Span) {
	return otel.Tracer(traceScopeSubagent).Start(ctx, traceSpanStageRun,
		trace.WithAttributes(attribute.String(traceAttrStage, string(stage))))
}

// markSpanResult records the terminal status of a stage dispatch on span.
func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "failed"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, "succeeded"))
}

// markSpanBlocked records that a stage dispatch stopped to wait on a human
// decision rather than succeeding or failing outright.
func markSpanBlocked(span trace.Span, question string) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.String(traceAttrStatus, "blocked"),
		attribute.String(traceAttrQuestion, question),
	)
}
