package models

import "time"

// FailSafe controls limiter behavior when the storage backend is unreachable.
type FailSafe string

const (
	// FailOpen allows the request through on backend failure. Suitable for
	// cheap, idempotent routes.
	FailOpen FailSafe = "open"
	// FailClosed treats the request as limited on backend failure. The
	// safety-first default for expensive or unauthenticated routes.
	FailClosed FailSafe = "closed"
)

// ParseFailSafe maps a config string to a FailSafe, defaulting to closed for
// anything unrecognized so a typo never silently disables protection.
func ParseFailSafe(s string) FailSafe {
	if FailSafe(s) == FailOpen {
		return FailOpen
	}
	return FailClosed
}

// Policy is caller-supplied configuration for one named limit. It is never
// mutated by the limiter.
type Policy struct {
	Name     string
	Limit    int
	Window   time.Duration
	Enabled  bool
	FailSafe FailSafe
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is in seconds, only set when not allowed.
	RetryAfter int `json:"retry_after,omitempty"`
	// Degraded is set when the decision was made under the fail-safe policy
	// because the backend was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}
