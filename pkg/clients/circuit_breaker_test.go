package clients

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	fsCircuitbreaker "github.com/failsafe-go/failsafe-go/circuitbreaker"
)

var errUpstream = errors.New("upstream unavailable")

// trip drives the breaker over its failure threshold
func trip(cb *CircuitBreaker, failures int) {
	for i := 0; i < failures; i++ {
		_ = cb.Call(func() error { return errUpstream })
	}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	if cb.State() != StateClosed {
		t.Fatalf("expected a new breaker to be closed, got %s", cb.State())
	}
}

func TestCircuitBreakerStaysClosedBelowRatio(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "alertflow-reads",
		MinRequests:  10,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
	})

	// 4 failures across 10 calls is under the 50% trip ratio
	trip(cb, 4)
	for i := 0; i < 6; i++ {
		_ = cb.Call(func() error { return nil })
	}

	if cb.State() != StateClosed {
		t.Fatalf("expected closed below the failure ratio, got %s", cb.State())
	}
}

func TestCircuitBreakerTripsAtRatio(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "alertflow-reads",
		MinRequests:  5,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			transitions = append(transitions, to.String())
		},
	})

	trip(cb, 5)

	if cb.State() != StateOpen {
		t.Fatalf("expected open after the ratio is exceeded, got %s", cb.State())
	}
	if len(transitions) == 0 || transitions[0] != "open" {
		t.Fatalf("expected an open transition callback, got %v", transitions)
	}
}

func TestCircuitBreakerShedsCallsWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "alertflow-reads",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      time.Second,
	})

	trip(cb, 3)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	var executed bool
	err := cb.Call(func() error {
		executed = true
		return nil
	})
	if !errors.Is(err, fsCircuitbreaker.ErrOpen) {
		t.Fatalf("expected the open-breaker error, got %v", err)
	}
	if executed {
		t.Fatal("an open breaker must not run the call")
	}
}

func TestCircuitBreakerProbeClosesAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "alertflow-reads",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})

	trip(cb, 3)
	time.Sleep(60 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected the half-open probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after a successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "alertflow-reads",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})

	trip(cb, 3)
	time.Sleep(60 * time.Millisecond)

	_ = cb.Call(func() error { return errUpstream })

	if cb.State() != StateOpen {
		t.Fatalf("expected open after a failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerExecuteReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	result, err := cb.Execute(func() (any, error) {
		return "page-1", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "page-1" {
		t.Fatalf("expected the call's value back, got %v", result)
	}
}

func TestCircuitBreakerName(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "alertflow-mutations"})
	if cb.Name() != "alertflow-mutations" {
		t.Fatalf("expected configured name, got %s", cb.Name())
	}
}

func TestCircuitBreakerConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "alertflow-reads",
		MinRequests:  1000,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
	})

	const callers = 100
	var successes int64
	done := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		go func() {
			if err := cb.Call(func() error { return nil }); err == nil {
				atomic.AddInt64(&successes, 1)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < callers; i++ {
		<-done
	}

	if successes != callers {
		t.Fatalf("expected %d successful calls, got %d", callers, successes)
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()

	if cfg.Name != "default" {
		t.Errorf("expected name 'default', got %s", cfg.Name)
	}
	if cfg.MaxRequests != 1 {
		t.Errorf("expected MaxRequests 1, got %d", cfg.MaxRequests)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("expected Timeout 15s, got %v", cfg.Timeout)
	}
	if cfg.FailureRatio != 0.5 {
		t.Errorf("expected FailureRatio 0.5, got %v", cfg.FailureRatio)
	}
	if cfg.MinRequests != 10 {
		t.Errorf("expected MinRequests 10, got %d", cfg.MinRequests)
	}
}
