package notification

import (
	"context"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// NoOpPublisher logs events instead of publishing them.
// Used when SNS is not configured (local development, tests).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a publisher that only logs
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{logger: logger}
}

// PublishQuote logs the event
func (p *NoOpPublisher) PublishQuote(ctx context.Context, event QuoteEvent) error {
	if p.logger != nil {
		p.logger.LogDebug(ctx, "quote refreshed (SNS disabled)",
			"asset_id", event.AssetID,
			"ticker", event.Ticker,
			"price_usd", event.PriceUSD.String(),
			"source", string(event.Source),
		)
	}
	return nil
}

// PublishInvalidation logs the event
func (p *NoOpPublisher) PublishInvalidation(ctx context.Context, event InvalidationEvent) error {
	if p.logger != nil {
		p.logger.LogDebug(ctx, "cache invalidation (SNS disabled)",
			"tickers", event.Tickers,
			"asset_ids", event.AssetIDs,
		)
	}
	return nil
}

// CircuitBreakerState returns "closed" since there's no circuit breaker.
func (p *NoOpPublisher) CircuitBreakerState() string {
	return "closed"
}
