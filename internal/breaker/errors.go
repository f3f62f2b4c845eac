package breaker

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrCircuitOpen matches any *CircuitOpenError via errors.Is, for callers
// that only care about the condition and not the snapshot.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is the fast-fail signal returned instead of invoking the
// protected operation. It carries the breaker identity and a stats snapshot
// so callers can branch on the decision payload rather than matching message
// strings.
type CircuitOpenError struct {
	Name  string
	Stats Stats
}

func (e *CircuitOpenError) Error() string {
	if e.Stats.NextAttemptAt.IsZero() {
		return fmt.Sprintf("breaker %q: circuit open", e.Name)
	}
	return fmt.Sprintf("breaker %q: circuit open, next attempt at %s",
		e.Name, e.Stats.NextAttemptAt.Format(time.RFC3339))
}

// Is reports true for ErrCircuitOpen so errors.Is(err, ErrCircuitOpen) works.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RetryAfter suggests, in whole seconds, how long the caller should wait
// before retrying. Returns at least 1.
func (e *CircuitOpenError) RetryAfter(now time.Time) int {
	if e.Stats.NextAttemptAt.IsZero() {
		return 1
	}
	secs := int(math.Ceil(e.Stats.NextAttemptAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
