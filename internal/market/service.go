// Package market composes the warehouse, the price resolver, the cache-aside
// fetcher and the conversion engine into the operations the API serves.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/cacheaside"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/conversion"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/notification"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

const (
	// MaxPageSize caps listing pages
	MaxPageSize = 250

	// MaxPage keeps the listing offset well inside the database's range
	MaxPage = 100_000

	// MaxSearchTermLength bounds search input
	MaxSearchTermLength = 64

	defaultSearchLimit = 20
)

// Warehouse is the relational lookup the service reads from
type Warehouse interface {
	FindToken(ctx context.Context, ticker string) (asset.Token, error)
	ListTokens(ctx context.Context, page, pageSize int) ([]asset.Quote, int, error)
	SearchTokens(ctx context.Context, term string, limit int) ([]asset.Token, error)
	FindFiat(ctx context.Context, code string) (asset.Fiat, error)
	ListTickers(ctx context.Context) ([]string, error)
}

// PriceResolver resolves authoritative quotes
type PriceResolver interface {
	ResolvePrice(ctx context.Context, id string, forceLive bool) (*asset.Quote, error)
	ResolvePrices(ctx context.Context, ids []string) ([]asset.Quote, error)
}

// InvalidationPublisher announces explicit invalidations
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, event notification.InvalidationEvent) error
}

// Config holds service dependencies
type Config struct {
	Warehouse Warehouse
	Prices    PriceResolver
	Fetcher   *cacheaside.Fetcher
	Policies  cacheaside.Policies
	Engine    *conversion.Engine
	Events    InvalidationPublisher

	// SiteURL prefixes sitemap locations
	SiteURL     string
	SearchLimit int
	Warmup      WarmupConfig

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Service implements the converter's read operations
type Service struct {
	warehouse   Warehouse
	prices      PriceResolver
	fetcher     *cacheaside.Fetcher
	policies    cacheaside.Policies
	engine      *conversion.Engine
	events      InvalidationPublisher
	siteURL     string
	searchLimit int
	warmup      WarmupConfig
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      observability.Tracer
}

// NewService creates the market service
func NewService(cfg Config) (*Service, error) {
	if cfg.Warehouse == nil {
		return nil, fmt.Errorf("warehouse is required")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price resolver is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Policies == (cacheaside.Policies{}) {
		cfg.Policies = cacheaside.DefaultPolicies()
	}
	if cfg.Engine == nil {
		cfg.Engine = conversion.NewEngine()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaultSearchLimit
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

	return &Service{
		warehouse:   cfg.Warehouse,
		prices:      cfg.Prices,
		fetcher:     cfg.Fetcher,
		policies:    cfg.Policies,
		engine:      cfg.Engine,
		events:      cfg.Events,
		siteURL:     strings.TrimRight(cfg.SiteURL, "/"),
		searchLimit: cfg.SearchLimit,
		warmup:      cfg.Warmup.withDefaults(),
		logger:      cfg.Logger.Component("market"),
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
	}, nil
}

// GetCoin returns the detail of the best-ranked token with ticker.
// refresh bypasses the cached detail and the cached live quote; the fresh
// detail is written back.
func (s *Service) GetCoin(ctx context.Context, ticker string, refresh bool) (asset.CoinDetail, error) {
	ticker = asset.NormalizeTicker(ticker)
	if ticker == "" {
		return asset.CoinDetail{}, fmt.Errorf("%w: ticker is required", asset.ErrInvalidInput)
	}

	ctx, span := s.tracer.StartSpan(ctx, "Service.GetCoin", observability.WithAttributes(
		attribute.String("ticker", ticker),
		attribute.Bool("refresh", refresh),
	))
	defer span.End()

	detail, err := cacheaside.Resolve[asset.CoinDetail](ctx, s.fetcher, cacheaside.CoinKey(ticker), s.policies.CoinDetail,
		func(ctx context.Context) (asset.CoinDetail, error) {
			token, err := s.warehouse.FindToken(ctx, ticker)
			if err != nil {
				return asset.CoinDetail{}, internal(err)
			}
			quote, err := s.prices.ResolvePrice(ctx, token.ID, refresh)
			if err != nil {
				return asset.CoinDetail{}, internal(err)
			}
			return asset.CoinDetail{Token: token, Quote: *quote}, nil
		},
		cacheaside.WithForceRefresh(refresh),
	)
	if err != nil {
		span.NoticeError(err)
		return asset.CoinDetail{}, err
	}
	return detail, nil
}

// ListCoins returns one page of tokens by rank with resolved prices
func (s *Service) ListCoins(ctx context.Context, page, pageSize int) (asset.Listing, error) {
	if page < 1 || page > MaxPage {
		return asset.Listing{}, fmt.Errorf("%w: page must be between 1 and %d", asset.ErrInvalidInput, MaxPage)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return asset.Listing{}, fmt.Errorf("%w: page size must be between 1 and %d", asset.ErrInvalidInput, MaxPageSize)
	}

	ctx, span := s.tracer.StartSpan(ctx, "Service.ListCoins", observability.WithAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	return cacheaside.Resolve[asset.Listing](ctx, s.fetcher, cacheaside.CoinsKey(page, pageSize), s.policies.CoinListing,
		func(ctx context.Context) (asset.Listing, error) {
			items, total, err := s.warehouse.ListTokens(ctx, page, pageSize)
			if err != nil {
				return asset.Listing{}, internal(err)
			}

			listing := asset.Listing{Page: page, PageSize: pageSize, Total: total, Items: items}
			if len(items) == 0 {
				listing.Items = []asset.Quote{}
				return listing, nil
			}

			ids := make([]string, len(items))
			for i, q := range items {
				ids[i] = q.AssetID
			}
			resolved, err := s.prices.ResolvePrices(ctx, ids)
			if err != nil {
				return asset.Listing{}, internal(err)
			}
			listing.Items = resolved
			return listing, nil
		},
	)
}

// GetPrice returns the quote of one asset id
func (s *Service) GetPrice(ctx context.Context, id string, force bool) (asset.Quote, error) {
	q, err := s.prices.ResolvePrice(ctx, strings.TrimSpace(id), force)
	if err != nil {
		return asset.Quote{}, internal(err)
	}
	return *q, nil
}

// GetPrices returns quotes for several asset ids in request order
func (s *Service) GetPrices(ctx context.Context, ids []string) ([]asset.Quote, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) > MaxPageSize {
		return nil, fmt.Errorf("%w: at most %d ids per request", asset.ErrInvalidInput, MaxPageSize)
	}

	quotes, err := s.prices.ResolvePrices(ctx, cleaned)
	if err != nil {
		return nil, internal(err)
	}
	return quotes, nil
}

// SearchHit is one matching token, with its quote when the warehouse has one
type SearchHit struct {
	Token asset.Token  `json:"token"`
	Quote *asset.Quote `json:"quote,omitempty"`
}

// SearchResult is the cached result of a search term
type SearchResult struct {
	Term string      `json:"term"`
	Hits []SearchHit `json:"hits"`
}

// Search finds tokens by name or ticker and enriches them with prices
func (s *Service) Search(ctx context.Context, term string) (SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return SearchResult{}, fmt.Errorf("%w: search term is required", asset.ErrInvalidInput)
	}
	if len(term) > MaxSearchTermLength {
		return SearchResult{}, fmt.Errorf("%w: search term longer than %d characters", asset.ErrInvalidInput, MaxSearchTermLength)
	}
	normalized := strings.ToLower(term)

	return cacheaside.Resolve[SearchResult](ctx, s.fetcher, cacheaside.SearchKey(normalized), s.policies.SearchResult,
		func(ctx context.Context) (SearchResult, error) {
			tokens, err := s.warehouse.SearchTokens(ctx, normalized, s.searchLimit)
			if err != nil {
				return SearchResult{}, internal(err)
			}

			result := SearchResult{Term: normalized, Hits: make([]SearchHit, len(tokens))}
			if len(tokens) == 0 {
				return result, nil
			}

			ids := make([]string, len(tokens))
			for i, t := range tokens {
				ids[i] = t.ID
				result.Hits[i].Token = t
			}

			quotes, err := s.prices.ResolvePrices(ctx, ids)
			if err != nil && !errors.Is(err, asset.ErrNotFound) {
				return SearchResult{}, internal(err)
			}
			byID := make(map[string]asset.Quote, len(quotes))
			for _, q := range quotes {
				byID[q.AssetID] = q
			}
			for i := range result.Hits {
				if q, ok := byID[result.Hits[i].Token.ID]; ok {
					result.Hits[i].Quote = &q
				}
			}
			return result, nil
		},
	)
}

// Invalidate drops the cached detail of ticker and the live quote of its
// token, then announces the invalidation to other consumers.
func (s *Service) Invalidate(ctx context.Context, ticker string) error {
	ticker = asset.NormalizeTicker(ticker)
	if ticker == "" {
		return fmt.Errorf("%w: ticker is required", asset.ErrInvalidInput)
	}

	event := notification.InvalidationEvent{Tickers: []string{ticker}}
	token, err := s.warehouse.FindToken(ctx, ticker)
	switch {
	case err == nil:
		event.AssetIDs = []string{token.ID}
	case errors.Is(err, asset.ErrNotFound):
	default:
		s.logger.LogWarn(ctx, "token lookup failed during invalidation", "ticker", ticker, "error", err)
	}

	keys := event.Keys()
	if err := s.fetcher.Invalidate(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate %s: %w", ticker, err)
	}
	s.logger.LogInfo(ctx, "cache invalidated", "ticker", ticker, "keys", keys)

	if s.events != nil {
		if err := s.events.PublishInvalidation(context.WithoutCancel(ctx), event); err != nil {
			s.logger.LogWarn(ctx, "failed to announce invalidation", "ticker", ticker, "error", err)
		}
	}
	return nil
}

// internal passes taxonomy errors through and classifies everything else as internal
func internal(err error) error {
	if errors.Is(err, asset.ErrNotFound) || errors.Is(err, asset.ErrInvalidInput) ||
		errors.Is(err, asset.ErrInternal) || errors.Is(err, conversion.ErrUndefinedRate) {
		return err
	}
	return fmt.Errorf("%w: %v", asset.ErrInternal, err)
}
