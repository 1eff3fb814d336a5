package cacheaside

import (
	"fmt"
	"strings"
	"time"
)

// Policy is the read-through policy for one entity type
type Policy struct {
	Entity string
	TTL    time.Duration
}

// Policies is the per-entity TTL table
type Policies struct {
	CoinDetail   Policy
	CoinListing  Policy
	LivePrice    Policy
	Sitemap      Policy
	SearchResult Policy
}

// DefaultPolicies returns the standard freshness windows
func DefaultPolicies() Policies {
	return Policies{
		CoinDetail:   Policy{Entity: "coin_detail", TTL: 60 * time.Minute},
		CoinListing:  Policy{Entity: "coin_listing", TTL: 30 * time.Minute},
		LivePrice:    Policy{Entity: "live_price", TTL: time.Minute},
		Sitemap:      Policy{Entity: "sitemap", TTL: 24 * time.Hour},
		SearchResult: Policy{Entity: "search", TTL: 5 * time.Minute},
	}
}

// Key scheme. These strings are shared with data already cached by other
// services and must not change.

// CoinKey is the key of a coin detail entry: coin_<TICKER>
func CoinKey(ticker string) string {
	return "coin_" + strings.ToUpper(ticker)
}

// CoinsKey is the key of a listing page: coins_<page>_<pageSize>
func CoinsKey(page, pageSize int) string {
	return fmt.Sprintf("coins_%d_%d", page, pageSize)
}

// PriceKey is the key of a live quote: price_<assetId>
func PriceKey(assetID string) string {
	return "price_" + assetID
}

// SitemapKey is the key of the sitemap body
const SitemapKey = "sitemap"

// SearchKey is the key of an enriched search result
func SearchKey(term string) string {
	return "search_" + strings.ToLower(strings.TrimSpace(term))
}
