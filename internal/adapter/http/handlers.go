package http

import (
	"net/http"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/logger"
	"github.com/Strob0t/arbiter/internal/port/messagequeue"
	"github.com/Strob0t/arbiter/internal/service"
)

// defaultAnalyzeDays is the window used when ?days is omitted.
const defaultAnalyzeDays = 7

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Orchestrator *service.OrchestratorService
}

// ResolveRequest is the body of a resolve call.
type ResolveRequest struct {
	Decision string `json:"decision"` // "approve" | "reject"
	Comment  string `json:"comment,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// SubmitDecision handles POST /api/v1/decisions. The response is only
// written once the decision record is durable.
func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decision.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	out, err := h.Orchestrator.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ResolveDecision handles POST /api/v1/decisions/{id}/resolve.
func (h *Handlers) ResolveDecision(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	body, ok := readJSON[ResolveRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	action, err := escalation.ParseAction(body.Decision)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	actor := body.Actor
	if actor == "" {
		actor = "api"
	}

	settled, err := h.Orchestrator.Resolve(logger.WithDecisionID(r.Context(), id), id, action, body.Comment, actor)
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, settled)
}

// DecisionHistory handles GET /api/v1/decisions/{id}/history.
func (h *Handlers) DecisionHistory(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	records, err := h.Orchestrator.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// PendingDecisions handles GET /api/v1/decisions/pending.
func (h *Handlers) PendingDecisions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Pending())
}

// AnalyzeProvenance handles GET /api/v1/provenance/analyze?days=N.
func (h *Handlers) AnalyzeProvenance(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultAnalyzeDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	stats, err := h.Orchestrator.Analyze(r.Context(), days)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// VerifyProvenance handles GET /api/v1/provenance/verify. A broken chain
// is still a 200; the report says where it broke.
func (h *Handlers) VerifyProvenance(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Orchestrator.Verify(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListProviders handles GET /api/v1/providers.
func (h *Handlers) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Providers())
}

// GetPolicy handles GET /api/v1/policy.
func (h *Handlers) GetPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Policy())
}

// ResolveHook handles POST /api/v1/hooks/resolve, the signed callback used
// by chat integrations. The body has the same shape as a commands.resolve
// bus message.
func (h *Handlers) ResolveHook(w http.ResponseWriter, r *http.Request) {
	cmd, ok := readJSON[messagequeue.ResolveCommandPayload](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	action, err := escalation.ParseAction(cmd.Decision)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	actor := cmd.Actor
	if actor == "" {
		actor = "webhook"
	}
	settled, err := h.Orchestrator.Resolve(r.Context(), cmd.RequestID, action, cmd.Comment, actor)
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, settled)
}
