package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	arbotel "github.com/Strob0t/arbiter/internal/adapter/otel"
	"github.com/Strob0t/arbiter/internal/adapter/ws"
	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/port/broadcast"
	"github.com/Strob0t/arbiter/internal/port/provider"
	"github.com/Strob0t/arbiter/internal/resilience"
)

// DispatchConfig bounds the fan-out of one request.
type DispatchConfig struct {
	PoolSize        int
	MaxRetries      int
	CallTimeout     time.Duration
	RequestDeadline time.Duration
	Backoff         resilience.BackoffPolicy
}

// ProviderBinding attaches an optional client-side rate limit to a provider.
// A zero RateLimit means unlimited.
type ProviderBinding struct {
	Provider  provider.Provider
	RateLimit float64
	Burst     int
}

// DispatchResult is the state of every subtask once the barrier returns.
// Responses are in subtask order and exist only for succeeded subtasks.
type DispatchResult struct {
	SubTasks  []decision.SubTask
	Responses []decision.Response
}

// Dispatcher fans subtasks out to providers under a shared concurrency
// limit, per-provider breakers and rate limits, and a request deadline.
type Dispatcher struct {
	cfg       DispatchConfig
	providers map[string]provider.Provider
	limiters  map[string]*rate.Limiter
	order     []string
	breakers  *resilience.Set
	sem       *semaphore.Weighted
	metrics   *arbotel.Metrics
	hub       broadcast.Broadcaster
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher over the given providers. The breaker
// set is shared with whoever reports provider health.
func NewDispatcher(cfg DispatchConfig, bindings []ProviderBinding, breakers *resilience.Set) *Dispatcher {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	d := &Dispatcher{
		cfg:       cfg,
		providers: make(map[string]provider.Provider, len(bindings)),
		limiters:  make(map[string]*rate.Limiter),
		breakers:  breakers,
		sem:       semaphore.NewWeighted(int64(cfg.PoolSize)),
		hub:       broadcast.Nop{},
		now:       time.Now,
	}
	for _, b := range bindings {
		id := b.Provider.ID()
		d.providers[id] = b.Provider
		d.order = append(d.order, id)
		if b.RateLimit > 0 {
			burst := b.Burst
			if burst < 1 {
				burst = 1
			}
			d.limiters[id] = rate.NewLimiter(rate.Limit(b.RateLimit), burst)
		}
	}
	return d
}

// SetMetrics enables OTEL instruments for provider calls.
func (d *Dispatcher) SetMetrics(m *arbotel.Metrics) { d.metrics = m }

// SetBroadcaster sets where subtask completion events go.
func (d *Dispatcher) SetBroadcaster(hub broadcast.Broadcaster) {
	if hub != nil {
		d.hub = hub
	}
}

// Has reports whether a provider with the given id is registered.
func (d *Dispatcher) Has(providerID string) bool {
	_, ok := d.providers[providerID]
	return ok
}

// ProviderStates returns the breaker state of every registered provider.
func (d *Dispatcher) ProviderStates() []resilience.ProviderState {
	out := make([]resilience.ProviderState, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, resilience.ProviderState{Provider: id, Snapshot: d.breakers.For(id).Snapshot()})
	}
	return out
}

// progress is what the dispatch barrier can learn about a subtask whose
// worker has not reported back yet.
type progress struct {
	attempts atomic.Int64
	mu       sync.Mutex
	last     *decision.Failure
}

func (p *progress) failed(f *decision.Failure) {
	p.mu.Lock()
	p.last = f
	p.mu.Unlock()
}

func (p *progress) snapshot() (int, *decision.Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.attempts.Load()), p.last
}

type subtaskResult struct {
	idx  int
	task decision.SubTask
	resp *decision.Response
}

// Dispatch runs every pending subtask and waits for all of them or the
// request deadline, whichever comes first. Subtasks still outstanding at
// the deadline are abstained with RequestDeadlineExceeded and their late
// results are discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, req *decision.Request, tasks []decision.SubTask) DispatchResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestDeadline)
	defer cancel()

	state := make([]decision.SubTask, len(tasks))
	copy(state, tasks)
	responses := make([]*decision.Response, len(tasks))
	prog := make([]progress, len(tasks))

	// Buffered so workers that finish after the deadline never block.
	results := make(chan subtaskResult, len(tasks))
	outstanding := 0
	for i := range state {
		if state[i].Status.IsTerminal() {
			if state[i].Abstain != nil {
				d.metrics.RecordAbstention(ctx, string(state[i].Role), string(state[i].Abstain.Kind))
			}
			continue
		}
		outstanding++
		go func(idx int, t decision.SubTask) {
			t, resp := d.runSubTask(ctx, req, t, &prog[idx])
			results <- subtaskResult{idx: idx, task: t, resp: resp}
		}(i, state[i])
	}

	for outstanding > 0 {
		select {
		case r := <-results:
			outstanding--
			state[r.idx] = r.task
			responses[r.idx] = r.resp
			d.completed(ctx, r.task, r.resp)
		case <-ctx.Done():
			for i := range state {
				if state[i].Status.IsTerminal() {
					continue
				}
				state[i].AbstainedAtDeadline(prog[i].snapshot())
				d.completed(ctx, state[i], nil)
			}
			slog.Warn("request deadline exceeded", "request_id", req.ID, "outstanding", outstanding)
			outstanding = 0
		}
	}

	out := DispatchResult{SubTasks: state}
	for _, r := range responses {
		if r != nil {
			out.Responses = append(out.Responses, *r)
		}
	}
	return out
}

func (d *Dispatcher) completed(ctx context.Context, t decision.SubTask, resp *decision.Response) {
	if t.Status == decision.StatusAbstained && t.Abstain != nil {
		d.metrics.RecordAbstention(ctx, string(t.Role), string(t.Abstain.Kind))
	}
	d.hub.BroadcastEvent(context.WithoutCancel(ctx), ws.EventSubTaskCompleted, subtaskEvent{SubTask: t, Response: resp})
}

type subtaskEvent struct {
	SubTask  decision.SubTask   `json:"subtask"`
	Response *decision.Response `json:"response,omitempty"`
}

// runSubTask owns t until it returns; nobody else touches the copy. Attempts
// and failures are mirrored into prog for the barrier.
func (d *Dispatcher) runSubTask(ctx context.Context, req *decision.Request, t decision.SubTask, prog *progress) (decision.SubTask, *decision.Response) {
	ctx, span := arbotel.StartSubTaskSpan(ctx, t.ID, string(t.Role), t.ProviderID)
	defer span.End()

	p, ok := d.providers[t.ProviderID]
	if !ok {
		t.Abstained(decision.ErrNoProviderAvailable, fmt.Sprintf("provider %q is not registered", t.ProviderID))
		return t, nil
	}
	prompt, err := BuildPrompt(req, t.Role)
	if err != nil {
		t.Abstained(decision.ErrProviderInvalidResponse, err.Error())
		return t, nil
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		t.AbstainedAtDeadline(0, nil)
		return t, nil
	}
	defer d.sem.Release(1)

	t.Status = decision.StatusInFlight
	breaker := d.breakers.For(p.ID())
	bo := d.cfg.Backoff.NewBackOff()
	var last *decision.Failure

	for attempt := 1; ; attempt++ {
		if !breaker.Allow() {
			t.Abstained(decision.ErrProviderCircuitOpen, resilience.ErrCircuitOpen.Error())
			return t, nil
		}
		if lim := d.limiters[p.ID()]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				t.AbstainedAtDeadline(attempt-1, last)
				return t, nil
			}
		}

		t.Attempts = attempt
		prog.attempts.Store(int64(attempt))
		start := d.now()
		raw, err := d.invoke(ctx, p, prompt)
		latency := d.now().Sub(start)

		if err == nil {
			v, perr := decision.Normalize(raw)
			if perr == nil {
				breaker.Success()
				d.metrics.RecordCall(ctx, p.ID(), "ok", float64(latency.Milliseconds()))
				t.Status = decision.StatusSucceeded
				return t, &decision.Response{
					SubTaskID:          t.ID,
					ProviderID:         p.ID(),
					Role:               t.Role,
					Recommendation:     v.Recommendation,
					Confidence:         v.Confidence,
					Rationale:          v.Rationale,
					LatencyMs:          latency.Milliseconds(),
					Attempts:           attempt,
					LowConfidenceParse: v.LowConfidenceParse,
					Error:              last,
				}
			}
			err = provider.NewError(decision.ErrProviderInvalidResponse, p.ID(), perr)
		}

		// A cancelled request is not the provider's fault.
		if ctx.Err() != nil {
			t.AbstainedAtDeadline(attempt, last)
			return t, nil
		}

		kind := provider.Classify(err)
		if kind.ProviderFault() {
			breaker.Failure()
		}
		d.metrics.RecordCall(ctx, p.ID(), string(kind), float64(latency.Milliseconds()))
		last = &decision.Failure{Kind: kind, Message: err.Error()}
		t.LastError = last
		prog.failed(last)
		slog.Debug("provider call failed",
			"subtask_id", t.ID, "provider", p.ID(), "attempt", attempt, "kind", kind, "error", err)

		if !kind.Retryable() || attempt > d.cfg.MaxRetries {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := resilience.Sleep(ctx, wait); err != nil {
			t.AbstainedAtDeadline(attempt, last)
			return t, nil
		}
	}

	t.Abstained(last.Kind, last.Message)
	return t, nil
}

// invoke bounds one call by the per-call timeout even when the adapter
// ignores its context.
func (d *Dispatcher) invoke(ctx context.Context, p provider.Provider, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := p.Invoke(callCtx, prompt, d.cfg.CallTimeout)
		ch <- result{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		return r.raw, r.err
	case <-callCtx.Done():
		err := callCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", provider.NewError(decision.ErrProviderTimeout, p.ID(), err)
		}
		return "", err
	}
}
