package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/arbiter/internal/middleware"
	"github.com/Strob0t/arbiter/internal/port/cache"
)

// apiVersion is reported by GET /api/v1/.
const apiVersion = "1.0.0"

// RouteOptions configures the guards around mutating routes.
type RouteOptions struct {
	// WebhookSecret verifies signed resolve callbacks. Without it the
	// hook answers 503.
	WebhookSecret string
	// Idempotency stores replayable responses for Idempotency-Key
	// retries; nil disables replay.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	idem := middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL)

	// Signed callbacks (HMAC-verified, outside the JSON API group)
	r.With(middleware.WebhookHMAC(opts.WebhookSecret, "X-Arbiter-Signature")).
		Post("/api/v1/hooks/resolve", h.ResolveHook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": apiVersion})
		})

		// Decisions
		r.With(idem).Post("/decisions", h.SubmitDecision)
		r.Get("/decisions/pending", h.PendingDecisions)
		r.Get("/decisions/{id}/history", h.DecisionHistory)
		r.With(idem).Post("/decisions/{id}/resolve", h.ResolveDecision)

		// Provenance
		r.Get("/provenance/analyze", h.AnalyzeProvenance)
		r.Get("/provenance/verify", h.VerifyProvenance)

		// Configuration
		r.Get("/providers", h.ListProviders)
		r.Get("/policy", h.GetPolicy)
	})
}
