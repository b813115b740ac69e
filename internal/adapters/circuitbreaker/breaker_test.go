package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(2, time.Hour)

	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after one failure, got %s", cb.State())
	}
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open circuit must short-circuit, err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := New(2, time.Hour)
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Errorf("non-consecutive failures must not open the circuit, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be allowed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	cb.Record(true)
	if cb.State() != StateOpen {
		t.Fatalf("a failed probe must reopen, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	for range 3 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probes, got %s", cb.State())
	}
}

func TestRegistry_PerSource(t *testing.T) {
	r := NewRegistry(1, time.Hour)
	r.For("alpha").Record(true)

	if r.For("alpha") != r.For("alpha") {
		t.Error("expected the same breaker per source")
	}
	states := r.States()
	if states["alpha"] != StateOpen {
		t.Errorf("expected alpha open, got %s", states["alpha"])
	}
	if r.For("beta").State() != StateClosed {
		t.Error("sources must not share state")
	}
}
