package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "arbiter"

// Metrics holds all Arbiter metric instruments.
type Metrics struct {
	Decisions        metric.Int64Counter
	ProviderCalls    metric.Int64Counter
	ProviderLatency  metric.Float64Histogram
	Abstentions      metric.Int64Counter
	DecisionDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("arbiter.decisions",
		metric.WithDescription("Decisions evaluated, by outcome"))
	if err != nil {
		return nil, err
	}

	m.ProviderCalls, err = meter.Int64Counter("arbiter.provider.calls",
		metric.WithDescription("Provider invocations, by provider and result"))
	if err != nil {
		return nil, err
	}

	m.ProviderLatency, err = meter.Float64Histogram("arbiter.provider.latency",
		metric.WithDescription("Provider call latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	m.Abstentions, err = meter.Int64Counter("arbiter.subtasks.abstained",
		metric.WithDescription("Subtasks that ended without a usable response, by kind"))
	if err != nil {
		return nil, err
	}

	m.DecisionDuration, err = meter.Float64Histogram("arbiter.decision.duration",
		metric.WithDescription("Submit-to-decision wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision counts one evaluated decision.
func (m *Metrics) RecordDecision(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Decisions.Add(ctx, 1, attrs)
	m.DecisionDuration.Record(ctx, seconds, attrs)
}

// RecordCall counts one provider attempt. result is "ok" or an error kind.
func (m *Metrics) RecordCall(ctx context.Context, providerID, result string, latencyMs float64) {
	if m == nil {
		return
	}
	m.ProviderCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("result", result),
	))
	m.ProviderLatency.Record(ctx, latencyMs, metric.WithAttributes(attribute.String("provider", providerID)))
}

// RecordAbstention counts one abstained subtask.
func (m *Metrics) RecordAbstention(ctx context.Context, role, kind string) {
	if m == nil {
		return
	}
	m.Abstentions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("kind", kind),
	))
}
