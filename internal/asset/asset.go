// Package asset defines the records shared by the lookup, pricing and conversion layers.
package asset

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/money"
)

var (
	// ErrNotFound means the requested ticker or id has no backing record
	ErrNotFound = errors.New("asset: not found")

	// ErrInvalidInput means a missing or malformed parameter
	ErrInvalidInput = errors.New("asset: invalid input")

	// ErrInternal is an unexpected failure in the lookup or compute path
	ErrInternal = errors.New("asset: internal failure")
)

// Source identifies where a quote's price came from
type Source string

const (
	SourceWarehouse Source = "warehouse"
	SourceLive      Source = "live"
)

// Token is a warehouse token record
type Token struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Rank   int    `json:"rank"`

	CirculatingSupply money.Optional `json:"circulating_supply"`
	MaxSupply         money.Optional `json:"max_supply"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Fiat is a fiat currency with its USD multiplier
type Fiat struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Symbol  string          `json:"symbol"`
	USDRate decimal.Decimal `json:"usd_rate"`
}

// Quote is price and market data for one asset
type Quote struct {
	AssetID          string          `json:"asset_id"`
	Ticker           string          `json:"ticker"`
	Name             string          `json:"name"`
	PriceUSD         decimal.Decimal `json:"price_usd"`
	PercentChange1h  money.Optional  `json:"percent_change_1h"`
	PercentChange24h money.Optional  `json:"percent_change_24h"`
	PercentChange7d  money.Optional  `json:"percent_change_7d"`
	MarketCap        money.Optional  `json:"market_cap"`
	Volume24h        money.Optional  `json:"volume_24h"`
	LastUpdated      time.Time       `json:"last_updated"`
	Source           Source          `json:"source"`
}

// Validate checks the quote invariants
func (q *Quote) Validate() error {
	if q.AssetID == "" {
		return errors.Join(ErrInvalidInput, errors.New("quote without asset id"))
	}
	if q.PriceUSD.IsNegative() {
		return errors.Join(ErrInvalidInput, errors.New("negative price"))
	}
	return nil
}

// LiveQuote is the market data returned by the upstream provider for one id
type LiveQuote struct {
	AssetID          string          `json:"asset_id"`
	PriceUSD         decimal.Decimal `json:"price_usd"`
	PercentChange1h  money.Optional  `json:"percent_change_1h"`
	PercentChange24h money.Optional  `json:"percent_change_24h"`
	PercentChange7d  money.Optional  `json:"percent_change_7d"`
	MarketCap        money.Optional  `json:"market_cap"`
	Volume24h        money.Optional  `json:"volume_24h"`
	LastUpdated      time.Time       `json:"last_updated"`
}

// Merge overlays live market data on a warehouse quote.
// Identity fields stay from the warehouse; market fields the provider omitted keep their warehouse values.
// LastUpdated never moves backwards.
func Merge(warehouse Quote, live LiveQuote) Quote {
	merged := warehouse
	merged.PriceUSD = live.PriceUSD
	merged.PercentChange1h = live.PercentChange1h.Or(warehouse.PercentChange1h)
	merged.PercentChange24h = live.PercentChange24h.Or(warehouse.PercentChange24h)
	merged.PercentChange7d = live.PercentChange7d.Or(warehouse.PercentChange7d)
	merged.MarketCap = live.MarketCap.Or(warehouse.MarketCap)
	merged.Volume24h = live.Volume24h.Or(warehouse.Volume24h)
	if live.LastUpdated.After(warehouse.LastUpdated) {
		merged.LastUpdated = live.LastUpdated
	}
	merged.Source = SourceLive
	return merged
}

// NormalizeTicker upper-cases and trims a ticker
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// CoinDetail is the cached payload behind a coin detail page
type CoinDetail struct {
	Token Token `json:"token"`
	Quote Quote `json:"quote"`
}

// Listing is one page of tokens ordered by rank
type Listing struct {
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int     `json:"total"`
	Items    []Quote `json:"items"`
}
