package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	arbotel "github.com/Strob0t/arbiter/internal/adapter/otel"
	"github.com/Strob0t/arbiter/internal/adapter/ws"
	"github.com/Strob0t/arbiter/internal/domain"
	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/logger"
	"github.com/Strob0t/arbiter/internal/port/broadcast"
	"github.com/Strob0t/arbiter/internal/port/messagequeue"
	"github.com/Strob0t/arbiter/internal/port/notifier"
	"github.com/Strob0t/arbiter/internal/resilience"
)

// Outcome is everything a submit produced, as committed to the log.
type Outcome struct {
	Request    decision.Request    `json:"request"`
	SubTasks   []decision.SubTask  `json:"subtasks"`
	Responses  []decision.Response `json:"responses"`
	Consensus  consensus.Result    `json:"consensus"`
	Escalation escalation.Decision `json:"escalation"`
	Sequence   uint64              `json:"sequence"`
}

func outcomeFrom(rec *provenance.Record) Outcome {
	return Outcome{
		Request:    rec.Request,
		SubTasks:   rec.SubTasks,
		Responses:  rec.Responses,
		Consensus:  rec.Consensus,
		Escalation: rec.Escalation,
		Sequence:   rec.Sequence,
	}
}

// OrchestratorService runs decision requests end to end: decompose,
// dispatch, consensus, escalation and a durable provenance append before
// anything is returned. It also owns the table of decisions awaiting a
// human.
type OrchestratorService struct {
	dispatcher *Dispatcher
	provenance *ProvenanceService
	notify     *NotificationService
	hub        broadcast.Broadcaster
	queue      messagequeue.Queue
	metrics    *arbotel.Metrics
	table      decision.CapabilityTable
	policy     escalation.Policy
	publicURL  string

	flight singleflight.Group

	mu      sync.Mutex
	known   map[string]bool              // every request id with a committed decision record
	pending map[string]provenance.Record // AwaitingHuman decision records by request id

	bg  sync.WaitGroup
	now func() time.Time
}

// NewOrchestratorService creates an OrchestratorService. policy is cloned so
// later changes by the caller cannot leak into evaluations.
func NewOrchestratorService(
	dispatcher *Dispatcher,
	prov *ProvenanceService,
	table decision.CapabilityTable,
	policy escalation.Policy,
) *OrchestratorService {
	return &OrchestratorService{
		dispatcher: dispatcher,
		provenance: prov,
		hub:        broadcast.Nop{},
		table:      table,
		policy:     policy.Clone(),
		known:      make(map[string]bool),
		pending:    make(map[string]provenance.Record),
		now:        time.Now,
	}
}

// SetNotifications sets the escalation notification fan-out.
func (s *OrchestratorService) SetNotifications(n *NotificationService, publicURL string) {
	s.notify = n
	s.publicURL = strings.TrimRight(publicURL, "/")
}

// SetBroadcaster sets where lifecycle events are pushed.
func (s *OrchestratorService) SetBroadcaster(hub broadcast.Broadcaster) {
	if hub != nil {
		s.hub = hub
	}
}

// SetQueue enables publishing lifecycle events to the message bus.
func (s *OrchestratorService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetMetrics enables OTEL decision metrics.
func (s *OrchestratorService) SetMetrics(m *arbotel.Metrics) { s.metrics = m }

// Policy returns a copy of the active policy.
func (s *OrchestratorService) Policy() escalation.Policy { return s.policy.Clone() }

// Providers returns the breaker state of every configured provider.
func (s *OrchestratorService) Providers() []resilience.ProviderState {
	return s.dispatcher.ProviderStates()
}

// Recover replays the provenance log to rebuild the set of known request
// ids and the decisions still awaiting a human.
func (s *OrchestratorService) Recover(ctx context.Context) error {
	records, err := s.provenance.Recover(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.known)
	clear(s.pending)
	for i := range records {
		r := records[i]
		s.known[r.RequestID] = true
		switch {
		case r.Kind == provenance.KindResolution:
			delete(s.pending, r.RequestID)
		case r.Escalation.Outcome == escalation.AwaitingHuman:
			s.pending[r.RequestID] = r
		}
	}
	slog.Info("decision state recovered", "known", len(s.known), "pending", len(s.pending))
	return nil
}

// Submit evaluates req and returns only after the decision record is
// durable. Concurrent submits of the same id share one evaluation; an id
// that already has a committed decision is rejected with domain.ErrConflict.
func (s *OrchestratorService) Submit(ctx context.Context, req decision.Request) (Outcome, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now().UTC()
	}
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	// Detached so one caller hanging up does not fail the others sharing
	// this flight; the request deadline still bounds the work.
	ctx = context.WithoutCancel(ctx)
	v, err, shared := s.flight.Do(req.ID, func() (any, error) {
		return s.submit(ctx, req)
	})
	if shared {
		slog.Debug("submit collapsed into in-flight evaluation", "request_id", req.ID)
	}
	if err != nil {
		return Outcome{}, err
	}
	return v.(Outcome), nil
}

func (s *OrchestratorService) submit(ctx context.Context, req decision.Request) (Outcome, error) {
	s.mu.Lock()
	dup := s.known[req.ID]
	s.mu.Unlock()
	if dup {
		return Outcome{}, fmt.Errorf("%w: request %s already decided", domain.ErrConflict, req.ID)
	}

	start := s.now()
	ctx = logger.WithDecisionID(ctx, req.ID)
	ctx, span := arbotel.StartDecisionSpan(ctx, req.ID, req.RiskScore, len(req.RequiredRoles))
	defer span.End()

	s.hub.BroadcastEvent(ctx, ws.EventDecisionSubmitted, req)

	tasks := decision.Decompose(&req, s.table, s.dispatcher.Has)
	res := s.dispatcher.Dispatch(ctx, &req, tasks)
	c := consensus.Compute(req.ID, len(req.RequiredRoles), res.Responses, s.policy.Weights(), s.policy.DisagreementMetric)
	d := escalation.Evaluate(escalation.Input{
		RequestID: req.ID,
		RiskScore: req.RiskScore,
		Required:  len(req.RequiredRoles),
		Consensus: c,
		Responses: res.Responses,
	}, s.policy, s.now().UTC())

	rec := &provenance.Record{
		Kind:       provenance.KindDecision,
		RequestID:  req.ID,
		Request:    req,
		SubTasks:   res.SubTasks,
		Responses:  res.Responses,
		Consensus:  c,
		Escalation: d,
	}
	if err := s.provenance.Append(ctx, rec); err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("submit %s: %w", req.ID, err)
	}

	s.mu.Lock()
	s.known[req.ID] = true
	if d.Outcome == escalation.AwaitingHuman {
		s.pending[req.ID] = *rec
	}
	s.mu.Unlock()

	s.metrics.RecordDecision(ctx, string(d.Outcome), s.now().Sub(start).Seconds())
	slog.InfoContext(ctx, "decision finalized",
		"request_id", req.ID,
		"outcome", d.Outcome,
		"reasons", d.ReasonCodes,
		"score", c.AggregateScore,
		"confidence", c.AggregateConfidence,
		"disagreement", c.DisagreementScore,
		"contributing", c.ContributingCount,
		"subtasks", decision.CountByStatus(res.SubTasks),
		"sequence", rec.Sequence,
	)

	s.afterCommit(ctx, rec, ws.EventDecisionFinalized, messagequeue.SubjectDecisionFinalized)
	if d.Outcome.NeedsAttention() {
		s.notifyOutcome(ctx, rec)
	}
	return outcomeFrom(rec), nil
}

// Resolve applies a human approve or reject to a decision awaiting one. The
// transition is committed only once its resolution record is durable.
func (s *OrchestratorService) Resolve(ctx context.Context, requestID string, action escalation.Action, comment, actor string) (escalation.Decision, error) {
	ctx, span := arbotel.StartResolveSpan(ctx, requestID, string(action))
	defer span.End()
	ctx = logger.WithDecisionID(ctx, requestID)

	// Claim the pending entry so a concurrent resolve sees it as settled.
	s.mu.Lock()
	prior, ok := s.pending[requestID]
	known := s.known[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()

	if !ok {
		if !known {
			return escalation.Decision{}, fmt.Errorf("resolve %s: %w", requestID, domain.ErrNotFound)
		}
		return escalation.Decision{}, fmt.Errorf("%w: request %s is not awaiting a human",
			domain.ErrInvalidStateTransition, requestID)
	}
	restore := func() {
		s.mu.Lock()
		s.pending[requestID] = prior
		s.mu.Unlock()
	}

	settled, err := escalation.Resolve(prior.Escalation, action, comment, actor, s.now().UTC())
	if err != nil {
		restore()
		return escalation.Decision{}, err
	}

	rec := provenance.Resolution(prior, settled)
	if err := s.provenance.Append(context.WithoutCancel(ctx), &rec); err != nil {
		restore()
		span.RecordError(err)
		return escalation.Decision{}, fmt.Errorf("resolve %s: %w", requestID, err)
	}

	s.metrics.RecordDecision(ctx, string(settled.Outcome), 0)
	slog.InfoContext(ctx, "decision resolved",
		"request_id", requestID,
		"outcome", settled.Outcome,
		"actor", actor,
		"sequence", rec.Sequence,
	)
	s.afterCommit(ctx, &rec, ws.EventDecisionResolved, messagequeue.SubjectDecisionResolved)
	return settled, nil
}

// Pending lists decisions awaiting a human, oldest first.
func (s *OrchestratorService) Pending() []Outcome {
	s.mu.Lock()
	records := make([]provenance.Record, 0, len(s.pending))
	for _, r := range s.pending {
		records = append(records, r)
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	out := make([]Outcome, 0, len(records))
	for i := range records {
		out = append(out, outcomeFrom(&records[i]))
	}
	return out
}

// History returns the provenance records of one request.
func (s *OrchestratorService) History(ctx context.Context, requestID string) ([]provenance.Record, error) {
	return s.provenance.History(ctx, requestID)
}

// Analyze aggregates the log over the last periodDays days.
func (s *OrchestratorService) Analyze(ctx context.Context, periodDays int) (provenance.Stats, error) {
	return s.provenance.Analyze(ctx, periodDays)
}

// Verify walks the provenance hash chain.
func (s *OrchestratorService) Verify(ctx context.Context) (provenance.VerifyReport, error) {
	return s.provenance.Verify(ctx)
}

// Wait blocks until background fan-out work has finished.
func (s *OrchestratorService) Wait() { s.bg.Wait() }

// HandleResolveCommand consumes a resolve command from the message bus.
// Commands that can never succeed are acknowledged and logged; only
// persistence failures are returned so the bus retries them.
func (s *OrchestratorService) HandleResolveCommand(ctx context.Context, _ string, data []byte) error {
	var cmd messagequeue.ResolveCommandPayload
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode resolve command: %w", err)
	}
	action, err := escalation.ParseAction(cmd.Decision)
	if err != nil {
		slog.Warn("resolve command rejected", "request_id", cmd.RequestID, "error", err)
		return nil
	}
	actor := cmd.Actor
	if actor == "" {
		actor = "nats"
	}

	_, err = s.Resolve(ctx, cmd.RequestID, action, cmd.Comment, actor)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrValidation):
		slog.Warn("resolve command rejected", "request_id", cmd.RequestID, "error", err)
		return nil
	default:
		return err
	}
}

func (s *OrchestratorService) afterCommit(ctx context.Context, rec *provenance.Record, event, subject string) {
	payload := messagequeue.DecisionEventPayload{
		RequestID:  rec.RequestID,
		Title:      rec.Request.Title,
		Outcome:    string(rec.Escalation.Outcome),
		Score:      rec.Consensus.AggregateScore,
		Confidence: rec.Consensus.AggregateConfidence,
		Disagree:   rec.Consensus.DisagreementScore,
		Sequence:   rec.Sequence,
		Hash:       rec.Hash,
		DecidedAt:  rec.Escalation.DecidedAt,
	}
	for _, r := range rec.Escalation.ReasonCodes {
		payload.ReasonCodes = append(payload.ReasonCodes, string(r))
	}
	if rec.HumanAction != nil {
		payload.Actor = rec.HumanAction.Actor
	}

	s.hub.BroadcastEvent(ctx, event, payload)

	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal decision event", "request_id", rec.RequestID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish decision event failed", "subject", subject, "request_id", rec.RequestID, "error", err)
	}
}

func (s *OrchestratorService) notifyOutcome(ctx context.Context, rec *provenance.Record) {
	if s.notify == nil || s.notify.NotifierCount() == 0 {
		return
	}
	n := notifier.Notification{
		Title:     notificationTitle(rec),
		Message:   notificationSummary(rec),
		Level:     outcomeLevel(rec.Escalation),
		Source:    "decision." + string(rec.Escalation.Outcome),
		RequestID: rec.RequestID,
		Link:      s.link(rec.RequestID),
		Fields: map[string]string{
			"Outcome":      string(rec.Escalation.Outcome),
			"Risk":         fmt.Sprintf("%.0f", rec.Request.RiskScore),
			"Score":        fmt.Sprintf("%.2f", rec.Consensus.AggregateScore),
			"Confidence":   fmt.Sprintf("%.2f", rec.Consensus.AggregateConfidence),
			"Disagreement": fmt.Sprintf("%.2f", rec.Consensus.DisagreementScore),
		},
	}

	ctx = context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.notify.Notify(ctx, n)
	}()
}

func (s *OrchestratorService) link(requestID string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/api/v1/decisions/" + requestID + "/history"
}

func notificationTitle(rec *provenance.Record) string {
	subject := rec.Request.Title
	if subject == "" {
		subject = rec.RequestID
	}
	switch rec.Escalation.Outcome {
	case escalation.AwaitingHuman:
		return "Review needed: " + subject
	case escalation.AutoBlocked:
		return "Blocked: " + subject
	default:
		return "No quorum: " + subject
	}
}

func notificationSummary(rec *provenance.Record) string {
	reasons := make([]string, 0, len(rec.Escalation.ReasonCodes))
	for _, r := range rec.Escalation.ReasonCodes {
		reasons = append(reasons, string(r))
	}
	c := rec.Consensus
	return fmt.Sprintf("Consensus %s from %d of %d advisors (%s).",
		c.AggregateRecommendation, c.ContributingCount, c.ContributingCount+c.AbstainedCount,
		strings.Join(reasons, ", "))
}

func outcomeLevel(d escalation.Decision) notifier.Level {
	switch d.Outcome {
	case escalation.AutoBlocked:
		return notifier.LevelCritical
	case escalation.AwaitingHuman:
		for _, r := range d.ReasonCodes {
			if r == escalation.ReasonSafetyVeto {
				return notifier.LevelCritical
			}
		}
		return notifier.LevelWarning
	default:
		return notifier.LevelWarning
	}
}
