package notification

import (
	"errors"
	"slices"
	"testing"
)

const quoteEnvelope = `{
  "Type": "Notification",
  "MessageId": "9f1c",
  "TopicArn": "arn:aws:sns:us-east-1:000000000000:converter-events",
  "Message": "{\"asset_id\":\"1\",\"ticker\":\"BTC\",\"price_usd\":\"64250.12\",\"last_updated\":\"2024-05-01T12:00:00Z\",\"source\":\"live\"}",
  "MessageAttributes": {
    "event_type": {"Type": "String", "Value": "quote_refreshed"},
    "asset_id": {"Type": "String", "Value": "1"}
  }
}`

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope(quoteEnvelope)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.EventType() != EventQuoteRefreshed {
		t.Fatalf("Expected event type %s, got %q", EventQuoteRefreshed, env.EventType())
	}

	var event QuoteEvent
	if err := env.Decode(&event); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if event.AssetID != "1" || event.PriceUSD.String() != "64250.12" {
		t.Fatalf("Expected BTC quote, got %+v", event)
	}
	t.Log("✓ SNS envelope decoded")
}

func TestParseEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"empty message", `{"Type":"Notification","Message":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope(tt.body)
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("Expected ErrMalformedEnvelope, got %v", err)
			}
		})
	}

	env := Envelope{Message: "not json"}
	var event QuoteEvent
	if err := env.Decode(&event); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Expected ErrMalformedEnvelope from Decode, got %v", err)
	}
}

func TestEnvelope_MissingEventType(t *testing.T) {
	env, err := ParseEnvelope(`{"Message":"{}"}`)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.EventType() != "" {
		t.Fatalf("Expected empty event type, got %q", env.EventType())
	}
}

func TestInvalidationEvent_Keys(t *testing.T) {
	event := InvalidationEvent{
		Tickers:  []string{"btc", " ", "Eth"},
		AssetIDs: []string{"1", ""},
		Sitemap:  true,
	}

	want := []string{"coin_BTC", "coin_ETH", "price_1", "sitemap"}
	if got := event.Keys(); !slices.Equal(got, want) {
		t.Fatalf("Expected keys %v, got %v", want, got)
	}
	if len((InvalidationEvent{}).Keys()) != 0 {
		t.Fatal("Expected no keys for an empty event")
	}
	t.Log("✓ invalidation keys follow the cache key scheme")
}
