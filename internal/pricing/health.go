package pricing

import "time"

// ProviderHealth is a point-in-time view of an upstream provider.
// It is reported by the readiness endpoint.
type ProviderHealth struct {
	Provider string `json:"provider"`

	LastSuccess time.Time `json:"last_success"`
	LastFailure time.Time `json:"last_failure"`

	// LastError is empty after a successful call
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration"`

	ConsecutiveFailures int    `json:"consecutive_failures"`
	CircuitState        string `json:"circuit_state"`
}

// Healthy reports whether the last call succeeded and the breaker lets traffic through
func (h ProviderHealth) Healthy() bool {
	return h.ConsecutiveFailures == 0 && h.CircuitState != "open"
}

// HealthProvider exposes the health of an upstream dependency.
// Health must be safe for concurrent use and must not block on I/O.
type HealthProvider interface {
	Health() ProviderHealth
}
