// Package breaker wraps a fallible operation (the metered provider call) so
// that after a burst of failures the call fails fast until a cooldown
// elapses, then is cautiously re-enabled. Breaker state is deliberately local
// to the process: it reflects the health of this instance's connection path
// to the provider, not a globally shared fact, so it never touches the shared
// storage backend.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kwscope/internal/breaker/metrics"
)

// State is the circuit position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name so health output and error payloads
// stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"open"`:
		*s = StateOpen
	case `"half_open"`:
		*s = StateHalfOpen
	default:
		*s = StateClosed
	}
	return nil
}

// Stats is a point-in-time snapshot of breaker state, carried on
// CircuitOpenError and exposed for health checks.
type Stats struct {
	State            State     `json:"state"`
	WindowedFailures int       `json:"windowed_failures"`
	TotalRequests    uint64    `json:"total_requests"`
	TotalFailures    uint64    `json:"total_failures"`
	TotalSuccesses   uint64    `json:"total_successes"`
	Rejections       uint64    `json:"rejections"`
	LastFailureAt    time.Time `json:"last_failure_at,omitzero"`
	LastSuccessAt    time.Time `json:"last_success_at,omitzero"`
	NextAttemptAt    time.Time `json:"next_attempt_at,omitzero"`
}

// Breaker guards a single protected operation. A lone mutex serializes all
// bookkeeping, so no two goroutines can decide to open the circuit from
// inconsistent failure counts; the protected call itself runs outside the
// lock, so calls proceed in parallel while closed or half-open.
type Breaker struct {
	name string

	failureThreshold  int
	failureWindow     time.Duration
	resetTimeout      time.Duration
	successThreshold  int
	maxHalfOpenProbes int

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu                sync.Mutex
	state             State
	failureTimes      []time.Time
	halfOpenSuccesses int
	halfOpenInFlight  int
	nextAttemptAt     time.Time
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
	totalRequests     uint64
	totalFailures     uint64
	totalSuccesses    uint64
	rejections        uint64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many failures within the failure window open
// the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithFailureWindow sets the trailing window in which failures count toward
// the threshold.
func WithFailureWindow(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.failureWindow = d
		}
	}
}

// WithResetTimeout sets the cooldown before an open circuit admits a probe.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithMaxHalfOpenProbes caps concurrent trial calls while half-open. The
// default of zero admits every call while half-open, trading caution for
// availability.
func WithMaxHalfOpenProbes(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxHalfOpenProbes = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a closed breaker named after the collaborator it guards.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		failureWindow:    time.Minute,
		resetTimeout:     time.Minute,
		successThreshold: 2,
		logger:           slog.Default(),
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the collaborator identity this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Reset forcibly returns the breaker to closed, clearing all counters.
// Administrative override only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked("admin_reset")
}

// Execute runs op under the breaker. The operation's genuine error is always
// re-raised unchanged after bookkeeping; only when the circuit is open does
// the caller see a *CircuitOpenError instead, and op is not invoked. The
// breaker does not classify errors: every failure from op counts, so callers
// should wrap only retryable failure classes.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	token, openErr := b.allow(ctx)
	if openErr != nil {
		return zero, openErr
	}

	result, err := op(ctx)
	if err != nil {
		b.recordFailure(ctx, token)
		return zero, err
	}
	b.recordSuccess(ctx, token)
	return result, nil
}

// callToken remembers which state admitted a call so its settlement adjusts
// the right counters even if the circuit moved meanwhile.
type callToken struct {
	halfOpen bool
}

func (b *Breaker) allow(ctx context.Context) (callToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	now := b.now()

	if b.state == StateOpen {
		if now.Before(b.nextAttemptAt) {
			return callToken{}, b.rejectLocked(ctx)
		}
		// Cooldown elapsed: this call becomes the first half-open probe.
		b.toHalfOpenLocked(ctx)
	}

	if b.state == StateHalfOpen {
		if b.maxHalfOpenProbes > 0 && b.halfOpenInFlight >= b.maxHalfOpenProbes {
			return callToken{}, b.rejectLocked(ctx)
		}
		b.halfOpenInFlight++
		return callToken{halfOpen: true}, nil
	}

	return callToken{}, nil
}

func (b *Breaker) recordFailure(ctx context.Context, token callToken) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalFailures++
	b.lastFailureAt = now
	if token.halfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	b.failureTimes = append(b.failureTimes, now)
	b.pruneLocked(now)

	switch b.state {
	case StateClosed:
		if len(b.failureTimes) >= b.failureThreshold {
			b.toOpenLocked(ctx)
		}
	case StateHalfOpen:
		// A half-open probe failing means the dependency has not
		// recovered; re-open immediately with a fresh cooldown.
		b.toOpenLocked(ctx)
	case StateOpen:
		// A straggler admitted before the circuit opened; bookkeeping only.
	}
}

func (b *Breaker) recordSuccess(ctx context.Context, token callToken) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.lastSuccessAt = b.now()
	if token.halfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	switch b.state {
	case StateClosed:
		// A success wipes the failure history.
		b.failureTimes = b.failureTimes[:0]
	case StateHalfOpen:
		if !token.halfOpen {
			// Straggler from before the circuit opened; it says nothing
			// about recovery, so it does not count toward closing.
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successThreshold {
			b.toClosedLocked("success_threshold")
		}
	case StateOpen:
		// Straggler; bookkeeping only.
	}
}

// pruneLocked discards failure timestamps older than the trailing window, so
// the open decision always uses the windowed count.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.failureWindow)
	i := 0
	for ; i < len(b.failureTimes); i++ {
		if b.failureTimes[i].After(cutoff) {
			break
		}
	}
	b.failureTimes = b.failureTimes[i:]
}

func (b *Breaker) rejectLocked(ctx context.Context) error {
	b.rejections++
	if b.metrics != nil {
		b.metrics.RecordRejection(b.name)
	}
	b.logger.DebugContext(ctx, "circuit rejecting call",
		"event", "breaker_rejected",
		"breaker", b.name,
		"state", b.state.String(),
		"next_attempt_at", b.nextAttemptAt,
	)
	return &CircuitOpenError{Name: b.name, Stats: b.snapshotLocked()}
}

func (b *Breaker) toOpenLocked(ctx context.Context) {
	from := b.state
	b.state = StateOpen
	b.nextAttemptAt = b.now().Add(b.resetTimeout)
	b.halfOpenSuccesses = 0
	b.transitionLocked(ctx, from, "failure_threshold")
}

func (b *Breaker) toHalfOpenLocked(ctx context.Context) {
	from := b.state
	b.state = StateHalfOpen
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.transitionLocked(ctx, from, "reset_timeout_elapsed")
}

func (b *Breaker) toClosedLocked(reason string) {
	from := b.state
	b.state = StateClosed
	b.failureTimes = b.failureTimes[:0]
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.nextAttemptAt = time.Time{}
	b.transitionLocked(context.Background(), from, reason)
}

func (b *Breaker) transitionLocked(ctx context.Context, from State, reason string) {
	if from == b.state {
		return
	}
	if b.metrics != nil {
		b.metrics.RecordTransition(b.name, b.state.String())
	}
	b.logger.InfoContext(ctx, "circuit state changed",
		"event", "breaker_transition",
		"breaker", b.name,
		"from", from.String(),
		"to", b.state.String(),
		"reason", reason,
		"windowed_failures", len(b.failureTimes),
		"next_attempt_at", b.nextAttemptAt,
	)
}

func (b *Breaker) snapshotLocked() Stats {
	return Stats{
		State:            b.state,
		WindowedFailures: len(b.failureTimes),
		TotalRequests:    b.totalRequests,
		TotalFailures:    b.totalFailures,
		TotalSuccesses:   b.totalSuccesses,
		Rejections:       b.rejections,
		LastFailureAt:    b.lastFailureAt,
		LastSuccessAt:    b.lastSuccessAt,
		NextAttemptAt:    b.nextAttemptAt,
	}
}
