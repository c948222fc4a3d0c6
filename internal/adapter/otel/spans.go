package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "arbiter"

// StartDecisionSpan starts a span covering one submitted request.
func StartDecisionSpan(ctx context.Context, requestID string, risk float64, roles int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision",
		trace.WithAttributes(
			attribute.String("decision.request_id", requestID),
			attribute.Float64("decision.risk_score", risk),
			attribute.Int("decision.roles", roles),
		),
	)
}

// StartSubTaskSpan starts a span for one role's provider dispatch.
func StartSubTaskSpan(ctx context.Context, subtaskID, role, providerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "subtask",
		trace.WithAttributes(
			attribute.String("subtask.id", subtaskID),
			attribute.String("subtask.role", role),
			attribute.String("subtask.provider", providerID),
		),
	)
}

// StartResolveSpan starts a span for a human resolution.
func StartResolveSpan(ctx context.Context, requestID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "resolve",
		trace.WithAttributes(
			attribute.String("decision.request_id", requestID),
			attribute.String("resolve.action", action),
		),
	)
}
