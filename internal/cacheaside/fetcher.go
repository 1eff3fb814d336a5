// Package cacheaside implements the read-through path every cached entity goes through.
//
// A read checks the store first. On a miss, or when the store is unreachable or
// holds an undecodable value, the loader runs and its result is written back with
// the entity's TTL. Loader errors are returned and never cached. Store failures
// are logged and counted but never returned.
//
// Concurrent misses on one key may each run the loader. Values are deterministic
// recomputations, so the last write wins.
package cacheaside

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/cache"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// DefaultOpTimeout bounds a single store round trip
const DefaultOpTimeout = 250 * time.Millisecond

// Config configures a Fetcher
type Config struct {
	Store     cache.Store
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
	OpTimeout time.Duration
}

// Fetcher resolves entities through a cache store
type Fetcher struct {
	store     cache.Store
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
	opTimeout time.Duration
}

// New creates a Fetcher
func New(cfg Config) *Fetcher {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}

	return &Fetcher{
		store:     cfg.Store,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		opTimeout: cfg.OpTimeout,
	}
}

// Loader computes the canonical value of an entity
type Loader[T any] func(ctx context.Context) (T, error)

type resolveOptions struct {
	forceRefresh bool
}

// Option configures a single Resolve call
type Option func(*resolveOptions)

// WithForceRefresh skips the cache read. The fresh value is still written back.
func WithForceRefresh(force bool) Option {
	return func(o *resolveOptions) {
		o.forceRefresh = force
	}
}

// Resolve returns the cached value for key, or loads, stores and returns it.
func Resolve[T any](ctx context.Context, f *Fetcher, key string, p Policy, load Loader[T], opts ...Option) (T, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := f.tracer.StartSpan(ctx, "cacheaside.Resolve", observability.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.entity", p.Entity),
		attribute.Bool("cache.force_refresh", o.forceRefresh),
	))
	defer span.End()

	if !o.forceRefresh {
		if v, ok := Peek[T](ctx, f, key, p); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return v, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	start := time.Now()
	v, err := load(ctx)
	f.metrics.RecordCacheLoad(ctx, p.Entity, time.Since(start), err == nil)
	if err != nil {
		span.NoticeError(err)
		var zero T
		return zero, err
	}

	Put(ctx, f, key, p, v)
	return v, nil
}

// Peek reads and decodes key. Absent, unreachable and undecodable entries all report false.
func Peek[T any](ctx context.Context, f *Fetcher, key string, p Policy) (T, bool) {
	var v T

	data, err := f.get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			f.metrics.RecordCacheStoreError(ctx, p.Entity, "get")
			f.logger.LogWarn(ctx, "Cache read failed, treating as miss", "key", key, "error", err)
		}
		f.metrics.RecordCacheMiss(ctx, p.Entity)
		return v, false
	}

	if err := json.Unmarshal(data, &v); err != nil {
		f.metrics.RecordCacheStoreError(ctx, p.Entity, "decode")
		f.logger.LogWarn(ctx, "Cached value could not be decoded, treating as miss", "key", key, "error", err)
		f.metrics.RecordCacheMiss(ctx, p.Entity)
		var zero T
		return zero, false
	}

	f.metrics.RecordCacheHit(ctx, p.Entity)
	return v, true
}

// Put encodes and stores value with the policy TTL. Failures are logged, never returned.
func Put[T any](ctx context.Context, f *Fetcher, key string, p Policy, value T) {
	data, err := json.Marshal(value)
	if err != nil {
		f.metrics.RecordCacheStoreError(ctx, p.Entity, "encode")
		f.logger.LogError(ctx, "Failed to encode value for cache", err, "key", key)
		return
	}

	// The write outlives a cancelled request: the value is already computed.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opTimeout)
	defer cancel()

	if err := f.store.Set(writeCtx, key, data, p.TTL); err != nil {
		f.metrics.RecordCacheStoreError(ctx, p.Entity, "set")
		f.logger.LogWarn(ctx, "Cache write failed", "key", key, "error", err)
	}
}

// Invalidate deletes keys. Unlike reads and writes, failures are returned so
// explicit invalidation requests can report them.
func (f *Fetcher) Invalidate(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()

	var errs []error
	for _, key := range keys {
		if err := f.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		f.logger.LogWarn(ctx, "Cache invalidation failed", "keys", keys, "error", err)
		return err
	}

	f.logger.LogDebug(ctx, "Cache invalidated", "keys", keys)
	return nil
}

func (f *Fetcher) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()
	return f.store.Get(ctx, key)
}
