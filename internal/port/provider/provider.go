// Package provider defines the advisory provider port: one prompt in, one
// raw text answer out. Adapters classify their own failures into
// decision.ErrorKind so the dispatcher can decide about retries.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/decision"
)

// Provider is the port interface for an external reasoning provider.
type Provider interface {
	// ID returns the configured provider identifier (e.g. "gpt", "claude").
	ID() string

	// Invoke sends prompt and returns the raw answer. Implementations must
	// give up once timeout elapses or ctx is done.
	Invoke(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Error is a classified provider failure.
type Error struct {
	Kind     decision.ErrorKind
	Provider string
	Err      error
}

// NewError wraps err with a failure kind.
func NewError(kind decision.ErrorKind, providerID string, err error) *Error {
	return &Error{Kind: kind, Provider: providerID, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps any error returned by Invoke to a failure kind.
// Unclassified errors count as transport failures.
func Classify(err error) decision.ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return decision.ErrProviderTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return decision.ErrProviderTimeout
	}
	return decision.ErrProviderTransport
}

// KindForStatus classifies an HTTP status code returned by a provider API.
// Other 4xx codes mean the request or the model's answer was malformed,
// which a fresh attempt can fix, so they stay retryable.
func KindForStatus(code int) decision.ErrorKind {
	switch {
	case code == 401 || code == 403:
		return decision.ErrProviderUnauthorized
	case code == 429:
		return decision.ErrProviderRateLimited
	case code == 408 || code == 504:
		return decision.ErrProviderTimeout
	case code >= 500:
		return decision.ErrProviderTransport
	default:
		return decision.ErrProviderInvalidResponse
	}
}
