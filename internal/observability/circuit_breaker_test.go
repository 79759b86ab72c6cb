package observability

import (
	"testing"
	"time"
)

func TestCircuitBreakerStateString(t *testing.T) {
	cases := []struct {
		state CircuitBreakerState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitBreakerState(99), "unknown"},
	}
	for _, tt := range cases {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second, 0.7)
	if cb.GetState() != StateClosed {
		t.Fatalf("initial state = %v, want %v", cb.GetState(), StateClosed)
	}
	if !cb.CanExecute() {
		t.Fatal("expected a fresh breaker to admit calls")
	}
}

func TestCircuitBreakerOpensAtMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Second, 0.5)

	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatalf("state after first failure = %v, want closed", cb.GetState())
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state after reaching maxFailures = %v, want open", cb.GetState())
	}
	if cb.CanExecute() {
		t.Fatal("expected open breaker to reject calls before the cooldown")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 50*time.Millisecond, 0.5)
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}

	cb.lastFailureTime = time.Now().Add(-100 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected breaker to admit the trial call after cooldown")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.GetState())
	}
}

func TestCircuitBreakerClosesOnTrialSuccess(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond, 0.5)
	cb.RecordFailure()
	cb.lastFailureTime = time.Now().Add(-time.Second)
	if !cb.CanExecute() {
		t.Fatal("expected trial call to be admitted")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("state after trial success = %v, want closed", cb.GetState())
	}
}

func TestCircuitBreakerReopensOnTrialFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond, 0.5)
	cb.RecordFailure()
	cb.lastFailureTime = time.Now().Add(-time.Second)
	if !cb.CanExecute() {
		t.Fatal("expected trial call to be admitted")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state after trial failure = %v, want open", cb.GetState())
	}
}
