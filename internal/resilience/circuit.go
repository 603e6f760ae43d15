// Package resilience wraps outbound calls with retries, exponential backoff,
// and circuit breaking so a flaky upstream slows the pipeline down instead of
// wedging it.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the breaker's position in its open/closed cycle.
type CircuitState int

const (
	// CircuitClosed is the normal operating state where requests flow through.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects requests immediately after too many failures.
	CircuitOpen

	// CircuitHalfOpen admits probe requests to test whether the upstream
	// recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the wrapped function while the
// breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig tunes when a breaker trips and how it recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the run of counted failures that opens the breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before admitting probes.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of consecutive probe successes that
	// close the breaker again.
	HalfOpenMaxProbes int

	// ShouldTrip classifies errors; only matching ones count toward the
	// threshold. Nil counts every error.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions, typically for logging.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after five counted failures, waits 30s,
// then closes on a single good probe.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker fails fast once an upstream keeps erroring. The embeddings
// endpoint sits behind one so a dead provider degrades scoring instead of
// stalling every worker on timeouts.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	probeWins   int
	lastFailure time.Time

	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker, clamping nonsensical config to
// the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes < 1 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// ExecuteVal runs fn through the breaker. While open it returns ErrCircuitOpen
// and the zero value without calling fn; otherwise fn's outcome feeds the
// breaker's failure tracking and comes back unchanged.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// Execute is ExecuteVal without a result.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// State reports the breaker's position, accounting for an elapsed reset
// timeout without mutating anything.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.waitedOut() {
		return CircuitHalfOpen
	}
	return cb.state
}

// waitedOut reports whether the open period has elapsed. Caller holds mu.
func (cb *CircuitBreaker) waitedOut() bool {
	return cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout
}

// admit decides whether a call may proceed, moving an open breaker to
// half-open once its reset timeout has passed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.waitedOut() {
		cb.setState(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

// observe feeds a call's outcome into the breaker. Errors that ShouldTrip
// rejects count as successes, so permanent upstream answers (a 404, say)
// never open the breaker.
func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && (cb.cfg.ShouldTrip == nil || cb.cfg.ShouldTrip(err))
	if !failed {
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.probeWins++
			if cb.probeWins >= cb.cfg.HalfOpenMaxProbes {
				cb.failures = 0
				cb.probeWins = 0
				cb.setState(CircuitClosed)
			}
		}
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.probeWins = 0
		cb.setState(CircuitOpen)
	}
}

// setState transitions and fires the observer. Caller holds mu.
func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
