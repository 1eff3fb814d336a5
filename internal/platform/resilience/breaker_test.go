package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *manualClock) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	return cb, clock
}

func fail(ctx context.Context) error    { return errors.New("upstream 503") }
func succeed(ctx context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{Name: "quotes", FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
		if cb.State() != StateClosed {
			t.Fatalf("Expected Closed after %d failures, got %s", i+1, cb.State())
		}
	}

	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected Open after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Expected ErrCircuitOpen without calling fn, got %v (called=%v)", err, called)
	}

	t.Log("✓ State transition Closed → Open works correctly")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(BreakerConfig{
		Name:             "quotes",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"→"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(5 * time.Second)
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected breaker to stay open during cooldown, got %v", err)
	}

	clock.Advance(6 * time.Second)
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("Expected trial call to be allowed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected HalfOpen after first trial call, got %s", cb.State())
	}
	_ = cb.Execute(ctx, succeed)

	want := []string{"closed→open", "open→half-open", "half-open→closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)

	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected Open after half-open failure, got %s", cb.State())
	}
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected fresh cooldown after reopening, got %v", err)
	}
}

func TestBreakerIgnoresContextErrors(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return context.Canceled })
		_ = cb.Execute(ctx, func(ctx context.Context) error { return context.DeadlineExceeded })
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after context errors, got %s", cb.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	if cb.State() != StateClosed {
		t.Errorf("Expected non-consecutive failures to keep breaker closed, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after reset")
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "quotes"})

	got, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Expected 42, got %d (err=%v)", got, err)
	}
	if cb.Name() != "quotes" {
		t.Errorf("Expected name quotes, got %s", cb.Name())
	}
}

func TestBreakerConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (n+j)%2 == 0 {
					_ = cb.Execute(context.Background(), fail)
				} else {
					_ = cb.Execute(context.Background(), succeed)
				}
			}
		}(i)
	}
	wg.Wait()
}
