package pricing

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/cacheaside"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/notification"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
)

// QuoteSource reads warehouse quotes
type QuoteSource interface {
	QuoteByID(ctx context.Context, id string) (asset.Quote, error)
	QuotesByIDs(ctx context.Context, ids []string) (map[string]asset.Quote, error)
}

// LiveQuoter fetches live quotes from the upstream provider
type LiveQuoter interface {
	LatestQuotes(ctx context.Context, ids []string) (map[string]asset.LiveQuote, error)
}

// QuotePublisher announces quotes that were refreshed from the provider
type QuotePublisher interface {
	PublishQuote(ctx context.Context, event notification.QuoteEvent) error
}

// ResolverConfig holds resolver dependencies. Live may be nil, in which case
// every quote is served from the warehouse.
type ResolverConfig struct {
	Quotes    QuoteSource
	Live      LiveQuoter
	Fetcher   *cacheaside.Fetcher
	Policy    cacheaside.Policy
	Publisher QuotePublisher
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// Resolver produces the authoritative quote for an asset: warehouse data
// overlaid with a live quote when the provider delivers one.
type Resolver struct {
	quotes    QuoteSource
	live      LiveQuoter
	fetcher   *cacheaside.Fetcher
	policy    cacheaside.Policy
	publisher QuotePublisher
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// NewResolver creates a price resolver
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Quotes == nil {
		return nil, fmt.Errorf("quote source is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Policy.Entity == "" {
		cfg.Policy = cacheaside.DefaultPolicies().LivePrice
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Resolver{
		quotes:    cfg.Quotes,
		live:      cfg.Live,
		fetcher:   cfg.Fetcher,
		policy:    cfg.Policy,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.Component("price_resolver"),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// ResolvePrice returns the quote for one asset id. Warehouse lookup failures
// are returned; provider failures never are and yield the warehouse quote.
// forceLive bypasses the cached live quote.
func (r *Resolver) ResolvePrice(ctx context.Context, id string, forceLive bool) (*asset.Quote, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset id is required", asset.ErrInvalidInput)
	}

	ctx, span := r.tracer.StartSpan(ctx, "Resolver.ResolvePrice", observability.WithAttributes(
		attribute.String("asset_id", id),
		attribute.Bool("force_live", forceLive),
	))
	defer span.End()

	warehouse, err := r.quotes.QuoteByID(ctx, id)
	if err != nil {
		span.NoticeError(err)
		return nil, classifyWarehouseError(id, err)
	}
	warehouse.Source = asset.SourceWarehouse

	if r.live == nil {
		r.metrics.RecordPriceResolution(ctx, string(asset.SourceWarehouse))
		return &warehouse, nil
	}

	live, err := cacheaside.Resolve[asset.LiveQuote](ctx, r.fetcher, cacheaside.PriceKey(id), r.policy,
		func(ctx context.Context) (asset.LiveQuote, error) {
			quotes, err := r.live.LatestQuotes(ctx, []string{id})
			if q, ok := quotes[id]; ok {
				if q.PriceUSD.IsNegative() {
					return asset.LiveQuote{}, fmt.Errorf("%w: negative price for id %s", ErrMalformedResponse, id)
				}
				return q, nil
			}
			if err != nil {
				return asset.LiveQuote{}, err
			}
			return asset.LiveQuote{}, fmt.Errorf("%w: id %s", ErrQuoteMissing, id)
		},
		cacheaside.WithForceRefresh(forceLive),
	)
	if err != nil {
		r.fallback(ctx, id, err)
		return &warehouse, nil
	}

	merged := asset.Merge(warehouse, live)
	if err := merged.Validate(); err != nil {
		r.fallback(ctx, id, err)
		return &warehouse, nil
	}
	r.metrics.RecordPriceResolution(ctx, string(asset.SourceLive))
	span.SetAttributes(attribute.String("price.source", string(merged.Source)))

	if forceLive {
		r.publish(ctx, merged)
	}
	return &merged, nil
}

// ResolvePrices resolves a batch of ids with one warehouse read and at most one
// provider round trip for ids without a cached live quote. Unknown ids are
// omitted; the result follows request order.
func (r *Resolver) ResolvePrices(ctx context.Context, ids []string) ([]asset.Quote, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one asset id is required", asset.ErrInvalidInput)
	}

	ctx, span := r.tracer.StartSpan(ctx, "Resolver.ResolvePrices", observability.WithAttributes(
		attribute.Int("ids", len(ids)),
	))
	defer span.End()

	warehouse, err := r.quotes.QuotesByIDs(ctx, ids)
	if err != nil {
		span.NoticeError(err)
		return nil, classifyWarehouseError("batch", err)
	}
	if len(warehouse) == 0 {
		return nil, fmt.Errorf("%w: none of the requested ids exist", asset.ErrNotFound)
	}

	live := make(map[string]asset.LiveQuote, len(warehouse))
	var pending []string
	for _, id := range ids {
		if _, ok := warehouse[id]; !ok {
			continue
		}
		if r.live == nil {
			continue
		}
		if q, ok := cacheaside.Peek[asset.LiveQuote](ctx, r.fetcher, cacheaside.PriceKey(id), r.policy); ok {
			live[id] = q
			continue
		}
		pending = append(pending, id)
	}

	var upstreamErr error
	if len(pending) > 0 {
		fetched, err := r.live.LatestQuotes(ctx, pending)
		upstreamErr = err
		for id, q := range fetched {
			live[id] = q
			cacheaside.Put(ctx, r.fetcher, cacheaside.PriceKey(id), r.policy, q)
		}
	}

	out := make([]asset.Quote, 0, len(warehouse))
	for _, id := range ids {
		wq, ok := warehouse[id]
		if !ok {
			continue
		}
		wq.Source = asset.SourceWarehouse

		lq, ok := live[id]
		if !ok {
			if r.live != nil {
				reason := upstreamErr
				if reason == nil {
					reason = fmt.Errorf("%w: id %s", ErrQuoteMissing, id)
				}
				r.fallback(ctx, id, reason)
			} else {
				r.metrics.RecordPriceResolution(ctx, string(asset.SourceWarehouse))
			}
			out = append(out, wq)
			continue
		}

		merged := asset.Merge(wq, lq)
		if err := merged.Validate(); err != nil {
			r.fallback(ctx, id, err)
			out = append(out, wq)
			continue
		}
		r.metrics.RecordPriceResolution(ctx, string(asset.SourceLive))
		out = append(out, merged)
	}

	return out, nil
}

func (r *Resolver) fallback(ctx context.Context, id string, err error) {
	reason := FallbackReason(err)
	r.metrics.RecordPriceFallback(ctx, reason)
	r.metrics.RecordPriceResolution(ctx, string(asset.SourceWarehouse))
	r.logger.LogWarn(ctx, "live quote unavailable, serving warehouse price",
		"asset_id", id,
		"reason", reason,
		"error", err,
	)
}

// publish announces a forced refresh. Failures are logged only.
func (r *Resolver) publish(ctx context.Context, q asset.Quote) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishQuote(context.WithoutCancel(ctx), notification.NewQuoteEvent(q)); err != nil {
		r.logger.LogWarn(ctx, "failed to publish quote event", "asset_id", q.AssetID, "error", err)
	}
}

// FallbackReason labels why a live quote was not used
func FallbackReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, resilience.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, asset.ErrInvalidInput):
		return "malformed"
	case errors.Is(err, ErrQuoteMissing):
		return "missing"
	default:
		return "unavailable"
	}
}

func classifyWarehouseError(id string, err error) error {
	if errors.Is(err, asset.ErrNotFound) || errors.Is(err, asset.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: warehouse quote %s: %v", asset.ErrInternal, id, err)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
