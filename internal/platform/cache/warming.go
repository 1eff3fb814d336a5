// Package cache provides the key/value stores behind the cache-aside layer and start-up warming.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// WarmupProvider fills the entries it owns before traffic arrives.
// Running it twice must leave the same entries behind.
type WarmupProvider interface {
	Name() string
	Warmup(ctx context.Context) error
}

// WarmupConfig bounds a warm-up run
type WarmupConfig struct {
	// Timeout bounds the whole run
	Timeout time.Duration

	// ProviderTimeout bounds each provider; zero leaves only Timeout
	ProviderTimeout time.Duration

	// ContinueOnError keeps going after a failed provider when running sequentially
	ContinueOnError bool

	// Parallel runs every provider at once
	Parallel bool
}

// DefaultWarmupConfig warms in parallel within 30s
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
	}
}

// WarmupResult is the outcome of one provider
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults summarizes a run. Results keep registration order;
// Skipped lists providers never started after a sequential stop.
type WarmupResults struct {
	Results   []WarmupResult
	Skipped   []string
	TotalTime time.Duration
	Errors    int
}

// HasErrors reports whether any provider failed
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs the registered providers once at start-up
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	metrics   *observability.Metrics
	config    WarmupConfig
}

// NewWarmer creates a warmer. A nil logger or metrics is replaced by a no-op.
func NewWarmer(logger *observability.Logger, metrics *observability.Metrics, config WarmupConfig) *Warmer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmupConfig().Timeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Warmer{
		logger:  logger.Component("warmup"),
		metrics: metrics,
		config:  config,
	}
}

// RegisterProvider appends a provider
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every provider and never fails the caller: a provider that
// errors leaves its entries cold and they fill on first request.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	out := &WarmupResults{}
	if len(w.providers) == 0 {
		return out
	}

	runCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		out.Results = w.runAll(runCtx)
	} else {
		out.Results, out.Skipped = w.runInOrder(runCtx)
	}

	for _, r := range out.Results {
		if r.Err != nil {
			out.Errors++
		}
	}
	out.TotalTime = time.Since(start)

	fields := []any{"providers", len(w.providers), "duration", out.TotalTime}
	if out.HasErrors() {
		fields = append(fields, "failed", out.Errors, "skipped", out.Skipped)
		w.logger.LogWarn(ctx, "cache warmup finished with failures", fields...)
	} else {
		w.logger.LogInfo(ctx, "cache warmup finished", fields...)
	}
	return out
}

func (w *Warmer) runAll(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, len(w.providers))

	var g errgroup.Group
	for i, p := range w.providers {
		g.Go(func() error {
			results[i] = w.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (w *Warmer) runInOrder(ctx context.Context) ([]WarmupResult, []string) {
	results := make([]WarmupResult, 0, len(w.providers))
	for i, p := range w.providers {
		r := w.run(ctx, p)
		results = append(results, r)
		if r.Err == nil || w.config.ContinueOnError {
			continue
		}

		skipped := make([]string, 0, len(w.providers)-i-1)
		for _, rest := range w.providers[i+1:] {
			skipped = append(skipped, rest.Name())
		}
		return results, skipped
	}
	return results, nil
}

func (w *Warmer) run(ctx context.Context, p WarmupProvider) WarmupResult {
	if w.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.ProviderTimeout)
		defer cancel()
	}

	name := p.Name()
	start := time.Now()
	err := p.Warmup(ctx)
	took := time.Since(start)

	w.metrics.RecordWarmup(ctx, name, took, err == nil)
	if err != nil {
		w.logger.LogWarn(ctx, "warmup provider failed", "provider", name, "error", err, "duration", took)
	} else {
		w.logger.LogDebug(ctx, "warmup provider done", "provider", name, "duration", took)
	}
	return WarmupResult{Provider: name, Duration: took, Err: err}
}
