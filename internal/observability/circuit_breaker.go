// Package observability holds cross-cutting runtime helpers shared by the
// API server and the worker: the circuit breaker guarding flaky external
// dependencies and request-scoped logger plumbing.
package observability

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitBreakerState is the breaker's position.
type CircuitBreakerState int

const (
	// StateClosed allows calls through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets trial calls through to probe recovery.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards an external dependency (the container daemon) so a
// downed backend sheds load fast instead of stacking every job on a dead
// socket. Consecutive failures past maxFailures open the breaker; after
// cooldown a trial call is allowed, and enough successes in that trial
// window close it again.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures      int
	cooldown         time.Duration
	successThreshold float64

	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration, successThreshold float64) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:      maxFailures,
		cooldown:         cooldown,
		successThreshold: successThreshold,
		state:            StateClosed,
	}
}

// CanExecute reports whether a call may proceed. An open breaker whose
// cooldown has elapsed flips to half-open and admits the caller as the
// trial request.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.failureCount = 0
		cb.successCount = 0
		slog.Info("circuit breaker half-open after cooldown",
			slog.Duration("cooldown", cb.cooldown),
			slog.Time("last_failure", cb.lastFailureTime))
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful call. In the half-open trial window,
// enough successes relative to successThreshold close the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	if cb.state == StateClosed {
		// A success ends any run of failures.
		cb.failureCount = 0
	}
	if cb.state != StateHalfOpen {
		return
	}
	total := cb.successCount + cb.failureCount
	if float64(cb.successCount) >= float64(total)*cb.successThreshold {
		cb.state = StateClosed
		cb.failureCount = 0
		cb.successCount = 0
		slog.Info("circuit breaker closed",
			slog.Float64("success_threshold", cb.successThreshold))
	}
}

// RecordFailure notes a failed call. maxFailures consecutive failures open
// a closed breaker; any failure during the half-open trial reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				slog.Int("failure_count", cb.failureCount),
				slog.Int("max_failures", cb.maxFailures))
		}
	case StateHalfOpen:
		cb.state = StateOpen
		slog.Warn("circuit breaker reopened by failure during trial",
			slog.Int("failure_count", cb.failureCount))
	}
}

// GetState returns the breaker's current position.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
