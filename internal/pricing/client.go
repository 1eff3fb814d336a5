package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/money"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
)

const (
	// ProviderName labels upstream metrics, logs and health
	ProviderName = "coinmarketcap"

	quotesEndpoint = "/v2/cryptocurrency/quotes/latest"
	apiKeyHeader   = "X-CMC_PRO_API_KEY"
)

var (
	// ErrUpstreamUnavailable covers every way the provider can fail to deliver a quote
	ErrUpstreamUnavailable = errors.New("pricing: upstream unavailable")

	// ErrMalformedResponse is a response body that could not be interpreted
	ErrMalformedResponse = errors.New("pricing: malformed upstream response")

	// ErrQuoteMissing means the response did not carry a usable quote for the id
	ErrQuoteMissing = errors.New("pricing: quote missing from upstream response")
)

// ClientConfig holds market data client configuration
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// Timeout bounds one LatestQuotes call end to end, and each HTTP attempt
	Timeout      time.Duration
	MaxBatchSize int

	RateLimitRPM   int
	RateLimitBurst int

	RetryConfig      resilience.RetryConfig
	FailureThreshold int
	Cooldown         time.Duration

	HTTPClient *http.Client
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     observability.Tracer
}

// MarketDataClient fetches latest quotes from the upstream market data API
type MarketDataClient struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	maxBatchSize int
	timeout      time.Duration
	rateLimiter  *resilience.RateLimiter
	retryCfg     resilience.RetryConfig
	cb           *resilience.CircuitBreaker
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       observability.Tracer

	healthMu sync.RWMutex
	health   ProviderHealth
}

// NewMarketDataClient creates a client with rate limiting, retry and a circuit breaker
func NewMarketDataClient(cfg ClientConfig) *MarketDataClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://pro-api.coinmarketcap.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = 30
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}
	if cfg.RetryConfig.Retryable == nil {
		cfg.RetryConfig.Retryable = isRetryableUpstream
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

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger.Component("market_data")
	metrics := cfg.Metrics
	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             ProviderName,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("upstream circuit breaker state changed",
				"provider", ProviderName,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetCircuitBreakerState(context.Background(), ProviderName, int64(to))
		},
	})
	metrics.SetCircuitBreakerState(context.Background(), ProviderName, int64(cb.State()))

	return &MarketDataClient{
		client:       httpClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		maxBatchSize: cfg.MaxBatchSize,
		timeout:      cfg.Timeout,
		rateLimiter:  resilience.NewRateLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst),
		retryCfg:     cfg.RetryConfig,
		cb:           cb,
		logger:       logger,
		metrics:      metrics,
		tracer:       cfg.Tracer,
		health:       ProviderHealth{Provider: ProviderName},
	}
}

// quotesResponse is the upstream envelope. Entries under data are keyed by id
// and hold either a single object or a one-element array.
type quotesResponse struct {
	Status struct {
		ErrorCode    int     `json:"error_code"`
		ErrorMessage *string `json:"error_message"`
	} `json:"status"`
	Data map[string]json.RawMessage `json:"data"`
}

type quoteEntry struct {
	Quote map[string]struct {
		Price            money.Optional `json:"price"`
		PercentChange1h  money.Optional `json:"percent_change_1h"`
		PercentChange24h money.Optional `json:"percent_change_24h"`
		PercentChange7d  money.Optional `json:"percent_change_7d"`
		MarketCap        money.Optional `json:"market_cap"`
		Volume24h        money.Optional `json:"volume_24h"`
		LastUpdated      string         `json:"last_updated"`
	} `json:"quote"`
}

// LatestQuotes returns live quotes keyed by asset id. Ids are requested in
// chunks of at most MaxBatchSize. Quotes from chunks that succeeded are
// returned together with the joined errors of the chunks that failed.
// Ids absent from the result have no usable upstream quote.
//
// The whole call, including limiter waits, retries and backoff, shares one
// Timeout budget regardless of the caller's deadline.
func (c *MarketDataClient) LatestQuotes(ctx context.Context, ids []string) (map[string]asset.LiveQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.StartSpan(ctx, "MarketDataClient.LatestQuotes",
		observability.WithSpanKind(trace.SpanKindClient),
		observability.WithAttributes(
			attribute.String("provider", ProviderName),
			attribute.Int("ids", len(ids)),
		),
	)
	defer span.End()

	quotes := make(map[string]asset.LiveQuote, len(ids))
	var errs []error
	for chunk := range chunks(ids, c.maxBatchSize) {
		got, err := c.fetchChunk(ctx, chunk)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for id, q := range got {
			quotes[id] = q
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.NoticeError(err)
	}
	return quotes, err
}

func (c *MarketDataClient) fetchChunk(ctx context.Context, ids []string) (map[string]asset.LiveQuote, error) {
	return resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) (map[string]asset.LiveQuote, error) {
		return resilience.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) (map[string]asset.LiveQuote, error) {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limiter: %w", ErrUpstreamUnavailable, err)
			}

			start := time.Now()
			quotes, err := c.fetchQuotes(ctx, ids)
			duration := time.Since(start)

			c.recordHealth(err, duration)

			status := "success"
			if err != nil {
				status = "error"
			}
			c.metrics.RecordUpstreamCall(ctx, ProviderName, "quotes_latest", status, duration)

			return quotes, err
		})
	})
}

func (c *MarketDataClient) fetchQuotes(ctx context.Context, ids []string) (map[string]asset.LiveQuote, error) {
	query := url.Values{}
	query.Set("id", strings.Join(ids, ","))
	endpoint := c.baseURL + quotesEndpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusTooManyRequests {
			c.pauseForRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, &resilience.StatusError{
			Code: resp.StatusCode,
			Body: string(body),
		})
	}

	var apiResp quotesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrUpstreamUnavailable, ErrMalformedResponse, err)
	}
	if apiResp.Status.ErrorCode != 0 {
		msg := ""
		if apiResp.Status.ErrorMessage != nil {
			msg = *apiResp.Status.ErrorMessage
		}
		return nil, fmt.Errorf("%w: error code %d: %s", ErrUpstreamUnavailable, apiResp.Status.ErrorCode, msg)
	}

	quotes := make(map[string]asset.LiveQuote, len(ids))
	for _, id := range ids {
		raw, ok := apiResp.Data[id]
		if !ok {
			continue
		}
		q, err := parseQuote(id, raw)
		if err != nil {
			c.logger.Warn("skipping unusable upstream quote", "asset_id", id, "error", err)
			continue
		}
		quotes[id] = q
	}

	return quotes, nil
}

func parseQuote(id string, raw json.RawMessage) (asset.LiveQuote, error) {
	var entry quoteEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		var entries []quoteEntry
		if arrErr := json.Unmarshal(raw, &entries); arrErr != nil {
			return asset.LiveQuote{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(entries) == 0 {
			return asset.LiveQuote{}, ErrQuoteMissing
		}
		entry = entries[0]
	}

	usd, ok := entry.Quote["USD"]
	if !ok {
		return asset.LiveQuote{}, fmt.Errorf("%w: no USD quote", ErrQuoteMissing)
	}
	price, ok := usd.Price.Get()
	if !ok {
		return asset.LiveQuote{}, fmt.Errorf("%w: null price", ErrQuoteMissing)
	}
	if price.LessThan(decimal.Zero) {
		return asset.LiveQuote{}, fmt.Errorf("%w: negative price %s", ErrMalformedResponse, price)
	}

	q := asset.LiveQuote{
		AssetID:          id,
		PriceUSD:         price,
		PercentChange1h:  usd.PercentChange1h,
		PercentChange24h: usd.PercentChange24h,
		PercentChange7d:  usd.PercentChange7d,
		MarketCap:        usd.MarketCap,
		Volume24h:        usd.Volume24h,
	}
	if usd.LastUpdated != "" {
		ts, err := time.Parse(time.RFC3339, usd.LastUpdated)
		if err != nil {
			return asset.LiveQuote{}, fmt.Errorf("%w: last_updated: %v", ErrMalformedResponse, err)
		}
		q.LastUpdated = ts.UTC()
	}
	return q, nil
}

// pauseForRetryAfter honours a Retry-After header given in seconds
func (c *MarketDataClient) pauseForRetryAfter(header string) {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return
	}
	c.rateLimiter.PauseUntil(time.Now().Add(time.Duration(seconds) * time.Second))
	c.logger.Warn("upstream rate limited, pausing requests", "retry_after_s", seconds)
}

func isRetryableUpstream(err error) bool {
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return resilience.IsRetryable(err)
}

// chunks yields ids in slices of at most size
func chunks(ids []string, size int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(ids); start += size {
			end := min(start+size, len(ids))
			if !yield(ids[start:end]) {
				return
			}
		}
	}
}

// Health returns the current health of the upstream provider.
func (c *MarketDataClient) Health() ProviderHealth {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	h := c.health
	h.CircuitState = c.cb.State().String()
	return h
}

func (c *MarketDataClient) recordHealth(err error, duration time.Duration) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.LastDuration = duration
	if err == nil {
		c.health.LastSuccess = time.Now()
		c.health.LastError = ""
		c.health.ConsecutiveFailures = 0
		return
	}

	c.health.LastFailure = time.Now()
	c.health.LastError = err.Error()
	c.health.ConsecutiveFailures++
}
