package resilience

import (
	"sort"
	"sync"
	"time"
)

// Set hands out one Breaker per provider id. Breakers are shared across
// all requests that reach the same provider.
type Set struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
	now         func() time.Time
}

// NewSet creates an empty breaker set; breakers are built lazily.
func NewSet(maxFailures int, timeout time.Duration) *Set {
	return &Set{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// For returns the breaker for provider id, creating it on first use.
func (s *Set) For(id string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[id]
	if !ok {
		b = NewBreaker(s.maxFailures, s.timeout)
		b.now = s.now
		s.breakers[id] = b
	}
	return b
}

// ProviderState names a provider alongside its breaker snapshot.
type ProviderState struct {
	Provider string `json:"provider"`
	Snapshot
}

// Snapshot lists every known breaker, sorted by provider id.
func (s *Set) Snapshot() []ProviderState {
	s.mu.Lock()
	ids := make([]string, 0, len(s.breakers))
	for id := range s.breakers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]ProviderState, 0, len(ids))
	for _, id := range ids {
		out = append(out, ProviderState{Provider: id, Snapshot: s.For(id).Snapshot()})
	}
	return out
}
