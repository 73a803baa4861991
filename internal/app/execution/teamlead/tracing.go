package teamlead

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScopeTeamLead = "execengine.teamlead"

	traceSpanRun  = "execengine.teamlead.run"
	traceSpanTask = "execengine.teamlead.execute_task"

	traceAttrService = "execengine.service_name"
	traceAttrTaskID  = "execengine.task_id"
	traceAttrTaskN   = "execengine.task_count"
	traceAttrStatus  = "execengine.status"
)

// startRunSpan opens a span around one Team Lead's full Run, the analogue
// of the teacher's per-cycle span around its scheduling loop.
func startRunSpan(ctx context.Context, serviceName string, taskCount int) (context.Context, trace.Span) {
	return otel.Tracer(traceScopeTeamLead).Start(ctx, traceSpanRun, trace.WithAttributes(
		attribute.String(traceAttrService, serviceName),
		attribute.Int(traceAttrTaskN, taskCount),
	))
}

// startTaskSpan opens a span around one task's executeTask pipeline.
func startTaskSpan(ctx context.Context, serviceName, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(traceScopeTeamLead).Start(ctx, traceSpanTask, trace.WithAttributes(
		attribute.String(traceAttrService, serviceName),
		attribute.String(traceAttrTaskID, taskID),
	))
}

// markSpanResult records the terminal status of a run or task span.
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
