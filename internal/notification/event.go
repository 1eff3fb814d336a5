package notification

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/cacheaside"
)

// Event types, carried in the "event_type" message attribute
const (
	EventQuoteRefreshed    = "quote_refreshed"
	EventCacheInvalidation = "cache_invalidation"
)

// QuoteEvent announces a quote that replaced warehouse data with live data
type QuoteEvent struct {
	AssetID     string          `json:"asset_id"`
	Ticker      string          `json:"ticker"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	LastUpdated time.Time       `json:"last_updated"`
	Source      asset.Source    `json:"source"`
}

// NewQuoteEvent builds the event for a resolved quote
func NewQuoteEvent(q asset.Quote) QuoteEvent {
	return QuoteEvent{
		AssetID:     q.AssetID,
		Ticker:      q.Ticker,
		PriceUSD:    q.PriceUSD,
		LastUpdated: q.LastUpdated,
		Source:      q.Source,
	}
}

// InvalidationEvent asks consumers to drop cached entries after warehouse writes.
// Tickers map to coin detail keys, asset ids to live price keys.
type InvalidationEvent struct {
	Tickers  []string `json:"tickers,omitempty"`
	AssetIDs []string `json:"asset_ids,omitempty"`
	Sitemap  bool     `json:"sitemap,omitempty"`
}

// Empty reports whether the event names nothing to invalidate
func (e InvalidationEvent) Empty() bool {
	return len(e.Tickers) == 0 && len(e.AssetIDs) == 0 && !e.Sitemap
}

// Keys returns the cache keys the event names
func (e InvalidationEvent) Keys() []string {
	keys := make([]string, 0, len(e.Tickers)+len(e.AssetIDs)+1)
	for _, t := range e.Tickers {
		if t = asset.NormalizeTicker(t); t != "" {
			keys = append(keys, cacheaside.CoinKey(t))
		}
	}
	for _, id := range e.AssetIDs {
		if id = strings.TrimSpace(id); id != "" {
			keys = append(keys, cacheaside.PriceKey(id))
		}
	}
	if e.Sitemap {
		keys = append(keys, cacheaside.SitemapKey)
	}
	return keys
}
