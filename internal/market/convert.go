package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/conversion"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// usd is the base currency. It resolves even when the fiat table lacks it.
var usd = asset.Fiat{Code: "USD", Name: "US Dollar", Symbol: "$", USDRate: decimal.NewFromInt(1)}

// Conversion is a computed from→to rate with its inverse and an optional amount
type Conversion struct {
	From    conversion.Descriptor `json:"-"`
	To      conversion.Descriptor `json:"-"`
	Rate    conversion.Rate       `json:"rate"`
	Inverse *conversion.Rate      `json:"inverse,omitempty"`
	Amount  decimal.Decimal       `json:"amount"`
	Result  decimal.Decimal       `json:"result"`
	Display string                `json:"display"`
}

// Convert resolves both tickers and computes the rate in each direction.
// A zero amount converts one unit. The inverse is omitted when it is undefined.
func (s *Service) Convert(ctx context.Context, from, to string, amount decimal.Decimal) (Conversion, error) {
	from, to = asset.NormalizeTicker(from), asset.NormalizeTicker(to)
	if from == "" || to == "" {
		return Conversion{}, fmt.Errorf("%w: from and to are required", asset.ErrInvalidInput)
	}
	if from == to {
		return Conversion{}, fmt.Errorf("%w: cannot convert %s to itself", asset.ErrInvalidInput, from)
	}
	if amount.IsNegative() {
		return Conversion{}, fmt.Errorf("%w: amount must not be negative", asset.ErrInvalidInput)
	}
	if amount.IsZero() {
		amount = decimal.NewFromInt(1)
	}

	ctx, span := s.tracer.StartSpan(ctx, "Service.Convert", observability.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
	defer span.End()

	var fromDesc, toDesc conversion.Descriptor
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		fromDesc, err = s.Describe(gctx, from)
		return err
	})
	g.Go(func() (err error) {
		toDesc, err = s.Describe(gctx, to)
		return err
	})
	if err := g.Wait(); err != nil {
		span.NoticeError(err)
		return Conversion{}, err
	}

	rate, err := s.engine.Convert(fromDesc, toDesc)
	if err != nil {
		return Conversion{}, err
	}

	c := Conversion{
		From:   fromDesc,
		To:     toDesc,
		Rate:   rate,
		Amount: amount,
		Result: conversion.Amount(amount, rate),
	}
	c.Display = conversion.Format(c.Result, toDesc.Ticker, toDesc.IsCrypto)
	if toDesc.Ticker == usd.Code {
		c.Display = conversion.FormatUSD(c.Result, toDesc.Ticker, false)
	}

	inverse, err := s.engine.Convert(toDesc, fromDesc)
	switch {
	case err == nil:
		c.Inverse = &inverse
	case errors.Is(err, conversion.ErrUndefinedRate):
		s.logger.LogDebug(ctx, "inverse rate undefined", "from", to, "to", from)
	default:
		return Conversion{}, err
	}

	s.metrics.RecordConversion(ctx, string(rate.Direction))
	return c, nil
}

// ConvertPair is Convert for a "FROM-TO" pair string
func (s *Service) ConvertPair(ctx context.Context, pair string, amount decimal.Decimal) (Conversion, error) {
	from, to, err := conversion.ParsePair(pair)
	if err != nil {
		return Conversion{}, err
	}
	return s.Convert(ctx, from, to, amount)
}

// Describe resolves a ticker to a conversion descriptor. Fiat codes win over
// token tickers; token prices go through the price resolver and its cache.
func (s *Service) Describe(ctx context.Context, ticker string) (conversion.Descriptor, error) {
	ticker = asset.NormalizeTicker(ticker)

	fiat, err := s.warehouse.FindFiat(ctx, ticker)
	switch {
	case err == nil:
		return conversion.Descriptor{Ticker: fiat.Code, IsCrypto: false, PriceUSD: fiat.USDRate}, nil
	case !errors.Is(err, asset.ErrNotFound):
		return conversion.Descriptor{}, internal(err)
	case ticker == usd.Code:
		return conversion.Descriptor{Ticker: usd.Code, IsCrypto: false, PriceUSD: usd.USDRate}, nil
	}

	token, err := s.warehouse.FindToken(ctx, ticker)
	if err != nil {
		return conversion.Descriptor{}, internal(err)
	}
	quote, err := s.prices.ResolvePrice(ctx, token.ID, false)
	if err != nil {
		return conversion.Descriptor{}, internal(err)
	}
	return conversion.Descriptor{Ticker: token.Ticker, IsCrypto: true, PriceUSD: quote.PriceUSD}, nil
}
