package notification

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
)

// TopicClient is the SNS surface the publisher needs. Implemented by aws.SNSClient.
type TopicClient interface {
	Publish(ctx context.Context, topicARN string, message any, attributes map[string]string) error
	CircuitBreakerState() resilience.State
}

// Publisher publishes quote and invalidation events to an SNS topic
type Publisher struct {
	client   TopicClient
	topicARN string
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Client   TopicClient
	TopicARN string
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   observability.Tracer
}

// NewPublisher creates a new event publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}

	return &Publisher{
		client:   cfg.Client,
		topicARN: cfg.TopicARN,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}, nil
}

// PublishQuote publishes a refreshed quote
func (p *Publisher) PublishQuote(ctx context.Context, event QuoteEvent) error {
	ctx, span := p.tracer.StartSpan(ctx, "Publisher.PublishQuote",
		observability.WithAttributes(
			attribute.String("asset_id", event.AssetID),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	// Attributes let subscribers filter without decoding the body
	attributes := map[string]string{
		"event_type": EventQuoteRefreshed,
		"asset_id":   event.AssetID,
		"ticker":     event.Ticker,
		"source":     string(event.Source),
	}

	if err := p.client.Publish(ctx, p.topicARN, event, attributes); err != nil {
		span.NoticeError(err)
		p.metrics.RecordError(ctx, "sns_publish")
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish quote event", err,
				"asset_id", event.AssetID,
				"topic_arn", p.topicARN,
			)
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.LogDebug(ctx, "published quote event",
			"asset_id", event.AssetID,
			"ticker", event.Ticker,
		)
	}
	return nil
}

// PublishInvalidation publishes a cache invalidation request
func (p *Publisher) PublishInvalidation(ctx context.Context, event InvalidationEvent) error {
	if event.Empty() {
		return nil
	}

	ctx, span := p.tracer.StartSpan(ctx, "Publisher.PublishInvalidation",
		observability.WithAttributes(attribute.Int("tickers", len(event.Tickers))),
	)
	defer span.End()

	attributes := map[string]string{"event_type": EventCacheInvalidation}
	if err := p.client.Publish(ctx, p.topicARN, event, attributes); err != nil {
		span.NoticeError(err)
		p.metrics.RecordError(ctx, "sns_publish")
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.Info("published cache invalidation",
			"tickers", event.Tickers,
			"asset_ids", event.AssetIDs,
		)
	}
	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.client.CircuitBreakerState().String()
}
