// Package conversion computes directional exchange rates between assets and
// formats them for display.
package conversion

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
)

// ErrUndefinedRate is returned when a rate would divide by a zero price
var ErrUndefinedRate = errors.New("conversion: rate undefined for zero price")

// DivisionPrecision is the number of decimal places kept by rate divisions
const DivisionPrecision = 28

// Descriptor is the input to a rate computation.
// For fiat, PriceUSD is the fiat-to-USD multiplier.
type Descriptor struct {
	Ticker   string
	IsCrypto bool
	PriceUSD decimal.Decimal
}

// Direction classifies a conversion by asset class
type Direction string

const (
	FiatToCrypto   Direction = "fiat_to_crypto"
	CryptoToFiat   Direction = "crypto_to_fiat"
	CryptoToCrypto Direction = "crypto_to_crypto"
	FiatToFiat     Direction = "fiat_to_fiat"
)

// DirectionOf returns the class of a from→to conversion
func DirectionOf(from, to Descriptor) Direction {
	switch {
	case !from.IsCrypto && to.IsCrypto:
		return FiatToCrypto
	case from.IsCrypto && !to.IsCrypto:
		return CryptoToFiat
	case from.IsCrypto:
		return CryptoToCrypto
	default:
		return FiatToFiat
	}
}

// Rate is a computed conversion rate. It is derived on every request and never cached.
type Rate struct {
	FromTicker string          `json:"from"`
	ToTicker   string          `json:"to"`
	Rate       decimal.Decimal `json:"rate"`
	Precision  Precision       `json:"precision"`
	Display    string          `json:"display"`
	Direction  Direction       `json:"direction"`
}

// Engine computes rates. It holds no state.
type Engine struct{}

// NewEngine creates an Engine
func NewEngine() *Engine {
	return &Engine{}
}

// Rate computes the from→to rate:
//
//	fiat→crypto: 1 / (from.PriceUSD * to.PriceUSD)
//	crypto→fiat: from.PriceUSD * to.PriceUSD
//	same class:  from.PriceUSD / to.PriceUSD
func (e *Engine) Rate(from, to Descriptor) (decimal.Decimal, error) {
	if from.PriceUSD.IsNegative() || to.PriceUSD.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price for %s or %s", asset.ErrInvalidInput, from.Ticker, to.Ticker)
	}

	switch DirectionOf(from, to) {
	case FiatToCrypto:
		denom := from.PriceUSD.Mul(to.PriceUSD)
		if denom.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: %s→%s", ErrUndefinedRate, from.Ticker, to.Ticker)
		}
		return decimal.NewFromInt(1).DivRound(denom, DivisionPrecision), nil

	case CryptoToFiat:
		return from.PriceUSD.Mul(to.PriceUSD), nil

	default:
		if to.PriceUSD.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: %s→%s", ErrUndefinedRate, from.Ticker, to.Ticker)
		}
		return from.PriceUSD.DivRound(to.PriceUSD, DivisionPrecision), nil
	}
}

// Convert computes the rate and its display form.
// The rate is denominated in units of to, so to's class picks the precision.
func (e *Engine) Convert(from, to Descriptor) (Rate, error) {
	r, err := e.Rate(from, to)
	if err != nil {
		return Rate{}, err
	}

	p := PrecisionFor(r, to.Ticker, to.IsCrypto)
	return Rate{
		FromTicker: from.Ticker,
		ToTicker:   to.Ticker,
		Rate:       r,
		Precision:  p,
		Display:    p.Format(r),
		Direction:  DirectionOf(from, to),
	}, nil
}

// Pair computes a→b and b→a. Each side applies its own rule with swapped
// operands; neither is derived by inverting the other, so their product may
// differ from 1 after display rounding.
func (e *Engine) Pair(a, b Descriptor) (forward, inverse Rate, err error) {
	if forward, err = e.Convert(a, b); err != nil {
		return Rate{}, Rate{}, err
	}
	if inverse, err = e.Convert(b, a); err != nil {
		return Rate{}, Rate{}, err
	}
	return forward, inverse, nil
}

// Amount converts amount of from into units of to using r
func Amount(amount decimal.Decimal, r Rate) decimal.Decimal {
	return amount.Mul(r.Rate)
}
