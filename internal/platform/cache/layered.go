package cache

import (
	"context"
	"errors"
	"time"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// DefaultL1MaxTTL caps how long an entry lives in the in-process layer.
const DefaultL1MaxTTL = time.Minute

// LayeredConfig configures a LayeredStore
type LayeredConfig struct {
	L1       Store // in-process
	L2       Store // shared network store
	L1MaxTTL time.Duration
	Logger   *observability.Logger
}

// LayeredStore is a two-tier store (L1: memory, L2: Redis).
// With an L2 configured, L1 entries never outlive L1MaxTTL so other replicas'
// writes become visible quickly. Without one, L1 keeps the caller's TTL.
type LayeredStore struct {
	l1       Store
	l2       Store
	l1MaxTTL time.Duration
	logger   *observability.Logger
}

// NewLayeredStore creates a layered store. Either layer may be nil.
func NewLayeredStore(cfg LayeredConfig) *LayeredStore {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &LayeredStore{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		logger:   cfg.Logger,
	}
}

// Get reads L1, then L2. An L2 hit is copied into L1.
func (s *LayeredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.l1 != nil {
		val, err := s.l1.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.LogWarn(ctx, "L1 cache get failed, falling back to L2", "key", key, "error", err)
		}
	}

	if s.l2 == nil {
		return nil, ErrNotFound
	}

	val, err := s.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if s.l1 != nil {
		// Remaining L2 TTL is unknown here, so the backfill uses the L1 cap
		_ = s.l1.Set(ctx, key, val, s.l1MaxTTL)
	}
	return val, nil
}

// Set writes through to both layers. It fails only when every configured layer fails.
func (s *LayeredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var l1Err, l2Err error

	if s.l1 != nil {
		l1Err = s.l1.Set(ctx, key, value, s.capTTL(ttl))
	}
	if s.l2 != nil {
		l2Err = s.l2.Set(ctx, key, value, ttl)
	}

	switch {
	case s.l2 == nil:
		return l1Err
	case s.l1 == nil:
		return l2Err
	case l1Err != nil && l2Err != nil:
		return l2Err
	case l2Err != nil:
		s.logger.LogWarn(ctx, "L2 cache set failed, value held in L1 only", "key", key, "error", l2Err)
	}
	return nil
}

// Delete removes a key from both layers
func (s *LayeredStore) Delete(ctx context.Context, key string) error {
	var errs []error
	if s.l1 != nil {
		errs = append(errs, s.l1.Delete(ctx, key))
	}
	if s.l2 != nil {
		errs = append(errs, s.l2.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

// Close closes both layers
func (s *LayeredStore) Close() error {
	var errs []error
	if s.l1 != nil {
		errs = append(errs, s.l1.Close())
	}
	if s.l2 != nil {
		errs = append(errs, s.l2.Close())
	}
	return errors.Join(errs...)
}

// Ping checks the L2 layer when it supports it
func (s *LayeredStore) Ping(ctx context.Context) error {
	if p, ok := s.l2.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *LayeredStore) capTTL(ttl time.Duration) time.Duration {
	if s.l2 == nil {
		return ttl
	}
	if ttl <= 0 || ttl > s.l1MaxTTL {
		return s.l1MaxTTL
	}
	return ttl
}
