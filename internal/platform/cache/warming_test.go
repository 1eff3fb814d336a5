package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

type fakeProvider struct {
	name  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Warmup(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func TestWarmerParallel(t *testing.T) {
	w := NewWarmer(observability.NewNopLogger(), observability.NewNopMetrics(), DefaultWarmupConfig())
	ok := &fakeProvider{name: "listing"}
	bad := &fakeProvider{name: "coins", err: errors.New("warehouse down")}
	w.RegisterProvider(ok)
	w.RegisterProvider(bad)

	results := w.Warmup(context.Background())

	if len(results.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results.Results))
	}
	if !results.HasErrors() || results.Errors != 1 {
		t.Errorf("Expected exactly 1 error, got %d", results.Errors)
	}
	if results.Results[0].Provider != "listing" || results.Results[1].Provider != "coins" {
		t.Errorf("Expected results in registration order, got %+v", results.Results)
	}
}

func TestWarmerSequentialStopsOnError(t *testing.T) {
	w := NewWarmer(observability.NewNopLogger(), nil, WarmupConfig{
		Timeout:         time.Second,
		ContinueOnError: false,
	})
	first := &fakeProvider{name: "first", err: errors.New("boom")}
	second := &fakeProvider{name: "second"}
	w.RegisterProvider(first)
	w.RegisterProvider(second)

	results := w.Warmup(context.Background())

	if len(results.Results) != 1 {
		t.Fatalf("Expected warmup to stop after first failure, got %d results", len(results.Results))
	}
	if second.calls.Load() != 0 {
		t.Errorf("Expected second provider not to run")
	}
	if len(results.Skipped) != 1 || results.Skipped[0] != "second" {
		t.Errorf("Expected second to be reported as skipped, got %v", results.Skipped)
	}
}

func TestWarmerProviderTimeout(t *testing.T) {
	w := NewWarmer(nil, nil, WarmupConfig{
		Timeout:         time.Second,
		ProviderTimeout: 20 * time.Millisecond,
		Parallel:        true,
	})
	slow := &fakeProvider{name: "slow", delay: time.Second}
	fast := &fakeProvider{name: "fast"}
	w.RegisterProvider(slow)
	w.RegisterProvider(fast)

	start := time.Now()
	results := w.Warmup(context.Background())

	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Expected the slow provider to be cut off early")
	}
	if !errors.Is(results.Results[0].Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded for slow, got %v", results.Results[0].Err)
	}
	if results.Results[1].Err != nil {
		t.Errorf("Expected fast provider to succeed, got %v", results.Results[1].Err)
	}
	t.Log("✓ Slow provider bounded without affecting the others")
}

func TestWarmerTimeout(t *testing.T) {
	w := NewWarmer(observability.NewNopLogger(), nil, WarmupConfig{
		Timeout:  20 * time.Millisecond,
		Parallel: true,
	})
	slow := &fakeProvider{name: "slow", delay: time.Second}
	w.RegisterProvider(slow)

	results := w.Warmup(context.Background())

	if !errors.Is(results.Results[0].Err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", results.Results[0].Err)
	}
}

func TestWarmerNoProviders(t *testing.T) {
	w := NewWarmer(observability.NewNopLogger(), nil, DefaultWarmupConfig())
	if results := w.Warmup(context.Background()); results.HasErrors() || len(results.Results) != 0 {
		t.Fatalf("Expected empty results, got %+v", results)
	}
}
