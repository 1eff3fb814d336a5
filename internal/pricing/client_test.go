package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
)

const btcQuoteBody = `{
  "status": {"error_code": 0, "error_message": null},
  "data": {
    "1": {
      "id": 1, "name": "Bitcoin", "symbol": "BTC",
      "quote": {"USD": {
        "price": 64250.12,
        "percent_change_1h": "0.25",
        "percent_change_24h": -1.5,
        "percent_change_7d": null,
        "market_cap": 1265000000000,
        "volume_24h": "31000000000.5",
        "last_updated": "2024-05-01T12:00:00.000Z"
      }}
    }
  }
}`

// createTestClient creates a MarketDataClient configured for fast tests
func createTestClient(t *testing.T, serverURL string, opts ...func(*ClientConfig)) *MarketDataClient {
	t.Helper()
	cfg := ClientConfig{
		BaseURL:        serverURL,
		APIKey:         "test-key",
		Timeout:        time.Second,
		RateLimitRPM:   6000, // High limit for tests
		RateLimitBurst: 100,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewMarketDataClient(cfg)
}

func TestMarketDataClient_LatestQuotes(t *testing.T) {
	var gotKey, gotIDs, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(apiKeyHeader)
		gotIDs = r.URL.Query().Get("id")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, btcQuoteBody)
	}))
	defer server.Close()

	client := createTestClient(t, server.URL)

	quotes, err := client.LatestQuotes(context.Background(), []string{"1"})
	if err != nil {
		t.Fatalf("LatestQuotes failed: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("Expected API key header test-key, got %q", gotKey)
	}
	if gotIDs != "1" {
		t.Errorf("Expected id=1, got %q", gotIDs)
	}
	if gotPath != quotesEndpoint {
		t.Errorf("Expected path %s, got %s", quotesEndpoint, gotPath)
	}

	q, ok := quotes["1"]
	if !ok {
		t.Fatal("Expected quote for id 1")
	}
	if q.PriceUSD.String() != "64250.12" {
		t.Errorf("Expected price 64250.12, got %s", q.PriceUSD)
	}
	if q.PercentChange1h.String() != "0.25" {
		t.Errorf("Expected 1h change from numeric string 0.25, got %s", q.PercentChange1h)
	}
	if q.PercentChange24h.String() != "-1.5" {
		t.Errorf("Expected 24h change -1.5, got %s", q.PercentChange24h)
	}
	if q.PercentChange7d.Valid() {
		t.Errorf("Expected null 7d change to be absent, got %s", q.PercentChange7d)
	}
	if q.Volume24h.String() != "31000000000.5" {
		t.Errorf("Expected volume 31000000000.5, got %s", q.Volume24h)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !q.LastUpdated.Equal(want) {
		t.Errorf("Expected last_updated %v, got %v", want, q.LastUpdated)
	}

	h := client.Health()
	if h.ConsecutiveFailures != 0 || h.LastSuccess.IsZero() {
		t.Errorf("Expected healthy snapshot, got %+v", h)
	}
	if h.CircuitState != "closed" {
		t.Errorf("Expected closed circuit, got %s", h.CircuitState)
	}

	t.Log("✓ Quote parsed from numbers, numeric strings and nulls")
}

func TestMarketDataClient_ArrayEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":{"error_code":0},"data":{"1027":[{"id":1027,"quote":{"USD":{"price":"3100.5"}}}]}}`)
	}))
	defer server.Close()

	client := createTestClient(t, server.URL)
	quotes, err := client.LatestQuotes(context.Background(), []string{"1027"})
	if err != nil {
		t.Fatalf("LatestQuotes failed: %v", err)
	}
	if quotes["1027"].PriceUSD.String() != "3100.5" {
		t.Errorf("Expected price 3100.5, got %s", quotes["1027"].PriceUSD)
	}
}

func TestMarketDataClient_MissingAndNullPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":{"error_code":0},"data":{"2":{"quote":{"USD":{"price":null}}}}}`)
	}))
	defer server.Close()

	client := createTestClient(t, server.URL)
	quotes, err := client.LatestQuotes(context.Background(), []string{"1", "2"})
	if err != nil {
		t.Fatalf("LatestQuotes failed: %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("Expected no usable quotes, got %d", len(quotes))
	}
}

func TestMarketDataClient_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCalls     int32
		wantMalformed bool
	}{
		{name: "server error is retried", status: http.StatusBadGateway, body: "bad gateway", wantCalls: 3},
		{name: "client error is not retried", status: http.StatusUnauthorized, body: `{"status":{"error_code":1001}}`, wantCalls: 1},
		{name: "api error code", status: http.StatusOK, body: `{"status":{"error_code":1002,"error_message":"API key missing"}}`, wantCalls: 3},
		{name: "malformed body is not retried", status: http.StatusOK, body: `{"status":`, wantCalls: 1, wantMalformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := createTestClient(t, server.URL)
			quotes, err := client.LatestQuotes(context.Background(), []string{"1"})
			if err == nil {
				t.Fatal("Expected error")
			}
			if !errors.Is(err, ErrUpstreamUnavailable) {
				t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
			}
			if tt.wantMalformed && !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("Expected ErrMalformedResponse, got %v", err)
			}
			if len(quotes) != 0 {
				t.Errorf("Expected no quotes, got %d", len(quotes))
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, got)
			}

			h := client.Health()
			if h.LastError == "" || h.ConsecutiveFailures == 0 {
				t.Errorf("Expected failure recorded in health, got %+v", h)
			}
		})
	}
}

func TestMarketDataClient_Chunking(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("id")
		mu.Lock()
		requested = append(requested, ids)
		mu.Unlock()

		var entries []string
		for _, id := range strings.Split(ids, ",") {
			entries = append(entries, fmt.Sprintf(`%q:{"quote":{"USD":{"price":%s}}}`, id, id))
		}
		fmt.Fprintf(w, `{"status":{"error_code":0},"data":{%s}}`, strings.Join(entries, ","))
	}))
	defer server.Close()

	client := createTestClient(t, server.URL, func(c *ClientConfig) { c.MaxBatchSize = 2 })

	quotes, err := client.LatestQuotes(context.Background(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("LatestQuotes failed: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("Expected 3 quotes, got %d", len(quotes))
	}
	if len(requested) != 2 || requested[0] != "1,2" || requested[1] != "3" {
		t.Errorf("Expected chunks [1,2] and [3], got %v", requested)
	}
	if quotes["3"].PriceUSD.String() != "3" {
		t.Errorf("Expected price 3 for id 3, got %s", quotes["3"].PriceUSD)
	}

	t.Log("✓ Ids split into batches of MaxBatchSize")
}

func TestMarketDataClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := createTestClient(t, server.URL, func(c *ClientConfig) {
		c.RetryConfig = resilience.RetryConfig{MaxAttempts: 1}
		c.FailureThreshold = 2
		c.Cooldown = time.Minute
	})

	for range 2 {
		if _, err := client.LatestQuotes(context.Background(), []string{"1"}); err == nil {
			t.Fatal("Expected error from failing upstream")
		}
	}

	_, err := client.LatestQuotes(context.Background(), []string{"1"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected open breaker to skip the request, got %d calls", got)
	}
	if client.Health().CircuitState != "open" {
		t.Errorf("Expected open circuit in health, got %s", client.Health().CircuitState)
	}
	if client.Health().Healthy() {
		t.Error("Expected unhealthy provider with open breaker")
	}
}

func TestMarketDataClient_TooManyRequestsPauses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := createTestClient(t, server.URL, func(c *ClientConfig) {
		c.RetryConfig = resilience.RetryConfig{MaxAttempts: 1}
	})

	if _, err := client.LatestQuotes(context.Background(), []string{"1"}); err == nil {
		t.Fatal("Expected error on 429")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := client.rateLimiter.Wait(ctx); err == nil {
		t.Error("Expected rate limiter to stay paused after Retry-After")
	}
}

func TestMarketDataClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := createTestClient(t, server.URL, func(c *ClientConfig) {
		c.RetryConfig = resilience.RetryConfig{MaxAttempts: 1}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.LatestQuotes(ctx, []string{"1"})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Expected request to be cancelled with the context, took %v", elapsed)
	}
}

func TestChunks(t *testing.T) {
	var got [][]string
	for c := range chunks([]string{"a", "b", "c", "d", "e"}, 2) {
		got = append(got, c)
	}
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != "e" {
		t.Errorf("Unexpected chunks: %v", got)
	}
}

func TestMarketDataClient_RetryAfterFailsFast(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := createTestClient(t, server.URL, func(c *ClientConfig) {
		c.Timeout = 200 * time.Millisecond
	})

	if _, err := client.LatestQuotes(context.Background(), []string{"1"}); err == nil {
		t.Fatal("Expected error on 429")
	}

	start := time.Now()
	_, err := client.LatestQuotes(context.Background(), []string{"1"})
	if !errors.Is(err, resilience.ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited while paused, got %v", err)
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected error to wrap ErrUpstreamUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected immediate refusal, took %v", elapsed)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no request while paused, got %d calls", calls.Load())
	}
	if client.cb.State() != resilience.StateClosed {
		t.Errorf("Expected limiter refusals not to trip the breaker")
	}
}
