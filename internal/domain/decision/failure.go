package decision

// ErrorKind classifies why a provider call failed or a subtask abstained.
type ErrorKind string

const (
	ErrProviderTimeout         ErrorKind = "provider_timeout"
	ErrProviderRateLimited     ErrorKind = "provider_rate_limited"
	ErrProviderTransport       ErrorKind = "provider_transport_error"
	ErrProviderInvalidResponse ErrorKind = "provider_invalid_response"
	ErrProviderUnauthorized    ErrorKind = "provider_unauthorized"
	ErrProviderCircuitOpen     ErrorKind = "provider_circuit_open"
	ErrRequestDeadlineExceeded ErrorKind = "request_deadline_exceeded"
	ErrNoProviderAvailable     ErrorKind = "no_provider_available"
)

// Retryable reports whether another attempt against the same provider may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrProviderTimeout, ErrProviderRateLimited, ErrProviderTransport, ErrProviderInvalidResponse:
		return true
	}
	return false
}

// ProviderFault reports whether the failure should count against the
// provider's circuit breaker. A rejected credential is not retried but
// still trips the breaker so a misconfigured provider is shed quickly.
func (k ErrorKind) ProviderFault() bool {
	return k.Retryable() || k == ErrProviderUnauthorized
}

// Failure is a classified error kept for provenance.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}
