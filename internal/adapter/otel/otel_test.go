package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/arbiter/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestMetricsOnGlobalNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordDecision(ctx, "auto_approved", 0.4)
	m.RecordCall(ctx, "gpt", "ok", 120)
	m.RecordAbstention(ctx, "safety", "provider_timeout")

	var nilMetrics *Metrics
	nilMetrics.RecordDecision(ctx, "x", 0)
	nilMetrics.RecordCall(ctx, "x", "x", 0)
	nilMetrics.RecordAbstention(ctx, "x", "x")
}

func TestSpans(t *testing.T) {
	ctx, span := StartDecisionSpan(context.Background(), "r1", 20, 2)
	_, child := StartSubTaskSpan(ctx, "r1/00-strategy", "strategy", "gpt")
	child.End()
	span.End()
	_, rs := StartResolveSpan(context.Background(), "r1", "approve")
	rs.End()
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := HTTPMiddleware("arbiter")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
