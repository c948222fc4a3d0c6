package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/port/provider"
	"github.com/Strob0t/arbiter/internal/resilience"
)

// fakeProvider answers from a script; once the script runs out it repeats
// the last entry. With hang set every call blocks until release is closed;
// hangFrom > 0 lets that many calls through before hanging.
type fakeProvider struct {
	id       string
	mu       sync.Mutex
	script   []fakeReply
	calls    int
	active   atomic.Int32
	peak     atomic.Int32
	hang     bool
	hangFrom int
	delay    time.Duration
	release  chan struct{}
}

type fakeReply struct {
	raw string
	err error
}

func approveReply(conf string) fakeReply {
	return fakeReply{raw: `{"recommendation":"approve","confidence":` + conf + `,"rationale":"ok"}`}
}

func rejectReply(conf string) fakeReply {
	return fakeReply{raw: `{"recommendation":"reject","confidence":` + conf + `,"rationale":"no"}`}
}

func failReply(kind decision.ErrorKind) fakeReply {
	return fakeReply{err: provider.NewError(kind, "fake", errors.New(string(kind)))}
}

func newFake(id string, script ...fakeReply) *fakeProvider {
	return &fakeProvider{id: id, script: script, release: make(chan struct{})}
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Invoke(ctx context.Context, _ string, _ time.Duration) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	idx := f.calls
	f.calls++
	hang := f.hang || (f.hangFrom > 0 && f.calls > f.hangFrom)
	var r fakeReply
	if len(f.script) > 0 {
		if idx >= len(f.script) {
			idx = len(f.script) - 1
		}
		r = f.script[idx]
	}
	f.mu.Unlock()

	if hang {
		// Ignores ctx on purpose.
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return r.raw, r.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDispatchConfig() DispatchConfig {
	return DispatchConfig{
		PoolSize:        4,
		MaxRetries:      2,
		CallTimeout:     time.Second,
		RequestDeadline: 2 * time.Second,
		Backoff:         resilience.BackoffPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
}

func newTestDispatcher(cfg DispatchConfig, providers ...*fakeProvider) (*Dispatcher, *resilience.Set) {
	bindings := make([]ProviderBinding, 0, len(providers))
	for _, p := range providers {
		bindings = append(bindings, ProviderBinding{Provider: p})
	}
	breakers := resilience.NewSet(5, time.Minute)
	return NewDispatcher(cfg, bindings, breakers), breakers
}

func dispatchRequest(roles ...decision.Role) *decision.Request {
	return &decision.Request{ID: "req-1", RiskScore: 10, RequiredRoles: roles, CreatedAt: time.Now()}
}

func decompose(req *decision.Request, table decision.CapabilityTable) []decision.SubTask {
	return decision.Decompose(req, table, nil)
}

func TestDispatch_AllSucceed(t *testing.T) {
	gpt := newFake("gpt", approveReply("0.9"))
	claude := newFake("claude", rejectReply("0.8"))
	d, _ := newTestDispatcher(testDispatchConfig(), gpt, claude)

	req := dispatchRequest(decision.RoleAnalysis, decision.RoleSafety)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{
		decision.RoleAnalysis: "gpt",
		decision.RoleSafety:   "claude",
	}))

	if len(res.Responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(res.Responses))
	}
	if res.Responses[0].Role != decision.RoleAnalysis || res.Responses[1].Role != decision.RoleSafety {
		t.Errorf("responses out of subtask order: %+v", res.Responses)
	}
	if res.Responses[1].Recommendation != decision.Reject {
		t.Errorf("safety recommendation = %s, want reject", res.Responses[1].Recommendation)
	}
	for _, st := range res.SubTasks {
		if st.Status != decision.StatusSucceeded || st.Attempts != 1 {
			t.Errorf("subtask %s: status=%s attempts=%d", st.ID, st.Status, st.Attempts)
		}
	}
}

func TestDispatch_RetrySucceeds(t *testing.T) {
	gpt := newFake("gpt", failReply(decision.ErrProviderRateLimited), approveReply("0.9"))
	d, breakers := newTestDispatcher(testDispatchConfig(), gpt)

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "gpt"}))

	if len(res.Responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(res.Responses))
	}
	r := res.Responses[0]
	if r.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", r.Attempts)
	}
	if r.Error == nil || r.Error.Kind != decision.ErrProviderRateLimited {
		t.Errorf("error = %+v, want last transient rate limit", r.Error)
	}
	if s := breakers.For("gpt").Snapshot(); s.Failures != 0 {
		t.Errorf("breaker failures = %d after success, want 0", s.Failures)
	}
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	gpt := newFake("gpt", failReply(decision.ErrProviderTransport))
	d, _ := newTestDispatcher(testDispatchConfig(), gpt)

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "gpt"}))

	if len(res.Responses) != 0 {
		t.Fatalf("responses = %d, want 0", len(res.Responses))
	}
	st := res.SubTasks[0]
	if st.Status != decision.StatusAbstained {
		t.Fatalf("status = %s, want abstained", st.Status)
	}
	if st.Abstain.Kind != decision.ErrProviderTransport {
		t.Errorf("abstain kind = %s, want transport", st.Abstain.Kind)
	}
	if st.Attempts != 3 || gpt.callCount() != 3 {
		t.Errorf("attempts = %d calls = %d, want 3", st.Attempts, gpt.callCount())
	}
}

func TestDispatch_UnauthorizedAbstainsWithoutRetry(t *testing.T) {
	gpt := newFake("gpt", failReply(decision.ErrProviderUnauthorized), approveReply("0.9"))
	d, breakers := newTestDispatcher(testDispatchConfig(), gpt)

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "gpt"}))

	st := res.SubTasks[0]
	if st.Status != decision.StatusAbstained || st.Abstain.Kind != decision.ErrProviderUnauthorized {
		t.Fatalf("subtask = %+v, want unauthorized abstain", st)
	}
	if st.Attempts != 1 || gpt.callCount() != 1 {
		t.Errorf("attempts = %d calls = %d, want 1", st.Attempts, gpt.callCount())
	}
	if s := breakers.For("gpt").Snapshot(); s.Failures != 1 {
		t.Errorf("breaker failures = %d, want 1", s.Failures)
	}
}

func TestDispatch_UnparseableIsRetried(t *testing.T) {
	gpt := newFake("gpt", fakeReply{raw: "I would rather not say"}, approveReply("0.75"))
	d, _ := newTestDispatcher(testDispatchConfig(), gpt)

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "gpt"}))

	if len(res.Responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(res.Responses))
	}
	if res.Responses[0].Error == nil || res.Responses[0].Error.Kind != decision.ErrProviderInvalidResponse {
		t.Errorf("error = %+v, want invalid response", res.Responses[0].Error)
	}
}

func TestDispatch_CircuitOpenSkipsProvider(t *testing.T) {
	gpt := newFake("gpt", approveReply("0.9"))
	d, breakers := newTestDispatcher(testDispatchConfig(), gpt)
	for range 5 {
		breakers.For("gpt").Failure()
	}

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "gpt"}))

	st := res.SubTasks[0]
	if st.Status != decision.StatusAbstained || st.Abstain.Kind != decision.ErrProviderCircuitOpen {
		t.Fatalf("subtask = %+v, want circuit open abstain", st)
	}
	if gpt.callCount() != 0 {
		t.Errorf("provider called %d times while open", gpt.callCount())
	}
}

func TestDispatch_BreakerOpensAcrossRequests(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.MaxRetries = 0
	gpt := newFake("gpt", failReply(decision.ErrProviderTimeout))
	d, breakers := newTestDispatcher(cfg, gpt)

	table := decision.CapabilityTable{decision.RoleAnalysis: "gpt"}
	for range 5 {
		req := dispatchRequest(decision.RoleAnalysis)
		d.Dispatch(context.Background(), req, decompose(req, table))
	}
	if s := breakers.For("gpt").Snapshot(); s.State != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", s.State)
	}

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, table))
	if res.SubTasks[0].Abstain.Kind != decision.ErrProviderCircuitOpen {
		t.Errorf("abstain kind = %s, want circuit open", res.SubTasks[0].Abstain.Kind)
	}
}

func TestDispatch_RequestDeadline(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RequestDeadline = 100 * time.Millisecond
	cfg.CallTimeout = time.Minute

	slow := newFake("slow", approveReply("0.9"))
	slow.hang = true
	t.Cleanup(func() { close(slow.release) })
	fast := newFake("fast", approveReply("0.9"))
	d, breakers := newTestDispatcher(cfg, slow, fast)

	req := dispatchRequest(decision.RoleAnalysis, decision.RoleSafety)
	start := time.Now()
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{
		decision.RoleAnalysis: "slow",
		decision.RoleSafety:   "fast",
	}))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Dispatch waited %s for a provider that ignores cancellation", elapsed)
	}

	if got := res.SubTasks[0]; got.Status != decision.StatusAbstained || got.Abstain.Kind != decision.ErrRequestDeadlineExceeded {
		t.Errorf("slow subtask = %+v, want deadline abstain", got)
	}
	if got := res.SubTasks[1]; got.Status != decision.StatusSucceeded {
		t.Errorf("fast subtask status = %s, want succeeded", got.Status)
	}
	if len(res.Responses) != 1 {
		t.Errorf("responses = %d, want 1", len(res.Responses))
	}
	if s := breakers.For("slow").Snapshot(); s.Failures != 0 {
		t.Errorf("deadline counted against breaker: failures = %d", s.Failures)
	}
}

func TestDispatch_DeadlineDuringBackoffKeepsLastError(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RequestDeadline = 150 * time.Millisecond
	cfg.Backoff = resilience.BackoffPolicy{Initial: 10 * time.Second, Max: 10 * time.Second}

	flaky := newFake("flaky", failReply(decision.ErrProviderTransport))
	d, _ := newTestDispatcher(cfg, flaky)

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "flaky"}))

	got := res.SubTasks[0]
	if got.Status != decision.StatusAbstained || got.Abstain.Kind != decision.ErrRequestDeadlineExceeded {
		t.Fatalf("subtask = %+v, want deadline abstain", got)
	}
	if got.Attempts != 1 || flaky.callCount() != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", got.Attempts, flaky.callCount())
	}
	if got.LastError == nil || got.LastError.Kind != decision.ErrProviderTransport {
		t.Errorf("last error = %+v, want transport failure", got.LastError)
	}
	if !strings.Contains(got.Abstain.Message, "after 1 attempt(s)") || !strings.Contains(got.Abstain.Message, string(decision.ErrProviderTransport)) {
		t.Errorf("abstain message = %q", got.Abstain.Message)
	}
}

func TestDispatch_DeadlineMidRetryKeepsAttempts(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RequestDeadline = 150 * time.Millisecond
	cfg.CallTimeout = time.Minute

	// Second call hangs and ignores cancellation.
	flaky := newFake("flaky", failReply(decision.ErrProviderTimeout), approveReply("0.9"))
	flaky.hangFrom = 1
	t.Cleanup(func() { close(flaky.release) })
	d, _ := newTestDispatcher(cfg, flaky)

	req := dispatchRequest(decision.RoleAnalysis)
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "flaky"}))

	got := res.SubTasks[0]
	if got.Status != decision.StatusAbstained || got.Abstain.Kind != decision.ErrRequestDeadlineExceeded {
		t.Fatalf("subtask = %+v, want deadline abstain", got)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
	if got.LastError == nil || got.LastError.Kind != decision.ErrProviderTimeout {
		t.Errorf("last error = %+v, want the first attempt's timeout", got.LastError)
	}
}

func TestDispatch_PreAbstainedUntouched(t *testing.T) {
	gpt := newFake("gpt", approveReply("0.9"))
	d, _ := newTestDispatcher(testDispatchConfig(), gpt)

	req := dispatchRequest(decision.RoleAnalysis, decision.RolePricing)
	tasks := decompose(req, decision.CapabilityTable{decision.RoleAnalysis: "gpt"})
	res := d.Dispatch(context.Background(), req, tasks)

	if got := res.SubTasks[1]; got.Abstain == nil || got.Abstain.Kind != decision.ErrNoProviderAvailable {
		t.Errorf("pricing subtask = %+v, want no provider available", got)
	}
	if res.SubTasks[1].Attempts != 0 {
		t.Errorf("unrouted subtask attempted %d times", res.SubTasks[1].Attempts)
	}
	if gpt.callCount() != 1 {
		t.Errorf("calls = %d, want 1", gpt.callCount())
	}
}

func TestDispatch_PoolBoundsConcurrency(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.PoolSize = 1
	gpt := newFake("gpt", approveReply("0.9"))
	d, _ := newTestDispatcher(cfg, gpt)

	roles := []decision.Role{"a", "b", "c", "d"}
	table := decision.CapabilityTable{}
	for _, r := range roles {
		table[r] = "gpt"
	}
	req := dispatchRequest(roles...)
	res := d.Dispatch(context.Background(), req, decompose(req, table))

	if len(res.Responses) != 4 {
		t.Fatalf("responses = %d, want 4", len(res.Responses))
	}
	if peak := gpt.peak.Load(); peak > 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestDispatch_RateLimitWaitRespectsDeadline(t *testing.T) {
	cfg := testDispatchConfig()
	cfg.RequestDeadline = 100 * time.Millisecond
	gpt := newFake("gpt", approveReply("0.9"))
	breakers := resilience.NewSet(5, time.Minute)
	d := NewDispatcher(cfg, []ProviderBinding{{Provider: gpt, RateLimit: 0.001, Burst: 1}}, breakers)

	req := dispatchRequest("a", "b")
	res := d.Dispatch(context.Background(), req, decompose(req, decision.CapabilityTable{"a": "gpt", "b": "gpt"}))

	succeeded, deadline := 0, 0
	for _, st := range res.SubTasks {
		switch {
		case st.Status == decision.StatusSucceeded:
			succeeded++
		case st.Abstain != nil && st.Abstain.Kind == decision.ErrRequestDeadlineExceeded:
			deadline++
		}
	}
	if succeeded != 1 || deadline != 1 {
		t.Errorf("succeeded=%d deadline=%d, want 1 and 1", succeeded, deadline)
	}
}

func TestDispatcher_ProviderStates(t *testing.T) {
	d, breakers := newTestDispatcher(testDispatchConfig(), newFake("gpt"), newFake("claude"))
	breakers.For("claude").Failure()

	states := d.ProviderStates()
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}
	if states[0].Provider != "gpt" || states[1].Provider != "claude" {
		t.Errorf("unexpected order: %+v", states)
	}
	if states[1].Failures != 1 {
		t.Errorf("claude failures = %d, want 1", states[1].Failures)
	}
	if !d.Has("gpt") || d.Has("nope") {
		t.Error("Has reports wrong membership")
	}
}
