package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
)

type published struct {
	topic      string
	body       []byte
	attributes map[string]string
}

// fakeTopic records published messages
type fakeTopic struct {
	messages []published
	err      error
}

func (f *fakeTopic) Publish(_ context.Context, topicARN string, message any, attributes map[string]string) error {
	if f.err != nil {
		return f.err
	}
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	f.messages = append(f.messages, published{topic: topicARN, body: body, attributes: attributes})
	return nil
}

func (f *fakeTopic) CircuitBreakerState() resilience.State {
	return resilience.StateClosed
}

const testTopic = "arn:aws:sns:us-east-1:000000000000:converter-events"

func newTestPublisher(t *testing.T, topic *fakeTopic) *Publisher {
	t.Helper()
	p, err := NewPublisher(PublisherConfig{
		Client:   topic,
		TopicARN: testTopic,
		Logger:   observability.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	return p
}

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{TopicARN: testTopic}); err == nil {
		t.Fatal("Expected error without client")
	}
	if _, err := NewPublisher(PublisherConfig{Client: &fakeTopic{}}); err == nil {
		t.Fatal("Expected error without topic ARN")
	}
}

func TestPublisher_PublishQuote(t *testing.T) {
	topic := &fakeTopic{}
	p := newTestPublisher(t, topic)

	event := NewQuoteEvent(asset.Quote{
		AssetID:     "1",
		Ticker:      "BTC",
		Name:        "Bitcoin",
		PriceUSD:    decimal.RequireFromString("64250.12"),
		LastUpdated: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Source:      asset.SourceLive,
	})

	if err := p.PublishQuote(context.Background(), event); err != nil {
		t.Fatalf("PublishQuote failed: %v", err)
	}
	if len(topic.messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(topic.messages))
	}

	msg := topic.messages[0]
	if msg.topic != testTopic {
		t.Errorf("Expected topic %s, got %s", testTopic, msg.topic)
	}
	if msg.attributes["event_type"] != EventQuoteRefreshed {
		t.Errorf("Expected event_type %s, got %s", EventQuoteRefreshed, msg.attributes["event_type"])
	}
	if msg.attributes["ticker"] != "BTC" {
		t.Errorf("Expected ticker attribute BTC, got %s", msg.attributes["ticker"])
	}

	var decoded QuoteEvent
	if err := json.Unmarshal(msg.body, &decoded); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if !decoded.PriceUSD.Equal(event.PriceUSD) {
		t.Errorf("Expected price %s, got %s", event.PriceUSD, decoded.PriceUSD)
	}
	if decoded.Source != asset.SourceLive {
		t.Errorf("Expected source live, got %s", decoded.Source)
	}

	t.Log("✓ Quote event published with filter attributes")
}

func TestPublisher_PublishQuoteError(t *testing.T) {
	topic := &fakeTopic{err: errors.New("throttled")}
	p := newTestPublisher(t, topic)

	err := p.PublishQuote(context.Background(), QuoteEvent{AssetID: "1"})
	if err == nil {
		t.Fatal("Expected error when SNS fails")
	}
	if !errors.Is(err, topic.err) {
		t.Errorf("Expected wrapped SNS error, got %v", err)
	}
}

func TestPublisher_PublishInvalidation(t *testing.T) {
	topic := &fakeTopic{}
	p := newTestPublisher(t, topic)

	if err := p.PublishInvalidation(context.Background(), InvalidationEvent{}); err != nil {
		t.Fatalf("Empty invalidation failed: %v", err)
	}
	if len(topic.messages) != 0 {
		t.Fatalf("Expected empty invalidation to be skipped, got %d messages", len(topic.messages))
	}

	event := InvalidationEvent{Tickers: []string{"BTC"}, AssetIDs: []string{"1"}}
	if err := p.PublishInvalidation(context.Background(), event); err != nil {
		t.Fatalf("PublishInvalidation failed: %v", err)
	}
	if len(topic.messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(topic.messages))
	}
	if topic.messages[0].attributes["event_type"] != EventCacheInvalidation {
		t.Errorf("Expected event_type %s, got %s", EventCacheInvalidation, topic.messages[0].attributes["event_type"])
	}
}

func TestNoOpPublisher(t *testing.T) {
	p := NewNoOpPublisher(observability.NewNopLogger())
	if err := p.PublishQuote(context.Background(), QuoteEvent{AssetID: "1"}); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if err := p.PublishInvalidation(context.Background(), InvalidationEvent{Tickers: []string{"ETH"}}); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if p.CircuitBreakerState() != "closed" {
		t.Errorf("Expected closed, got %s", p.CircuitBreakerState())
	}
}
