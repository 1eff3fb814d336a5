package main

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

type fakeCache struct {
	deleted []string
	err     error
}

func (f *fakeCache) Invalidate(_ context.Context, keys ...string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, keys...)
	return nil
}

func sqsRecord(id, eventType, message string) events.SQSMessage {
	body := `{"Type":"Notification","MessageId":"` + id + `","Message":` + message +
		`,"MessageAttributes":{"event_type":{"Type":"String","Value":"` + eventType + `"}}}`
	return events.SQSMessage{MessageId: id, Body: body}
}

func TestHandle_DeletesNamedKeys(t *testing.T) {
	c := &fakeCache{}
	h := &handler{cache: c, logger: observability.NewNopLogger()}

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord("m1", "cache_invalidation", `"{\"tickers\":[\"btc\"],\"asset_ids\":[\"1\"],\"sitemap\":true}"`),
		sqsRecord("m2", "quote_refreshed", `"{\"asset_id\":\"1\"}"`),
		sqsRecord("m3", "cache_invalidation", `"{}"`),
	}})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("Expected no failures, got %v", resp.BatchItemFailures)
	}

	want := []string{"coin_BTC", "price_1", "sitemap"}
	if !slices.Equal(c.deleted, want) {
		t.Fatalf("Expected deleted keys %v, got %v", want, c.deleted)
	}
	t.Log("✓ invalidation events applied, other events ignored")
}

func TestHandle_StoreFailureIsRetried(t *testing.T) {
	h := &handler{cache: &fakeCache{err: errors.New("cache: store unavailable")}, logger: observability.NewNopLogger()}

	resp, _ := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord("m1", "cache_invalidation", `"{\"tickers\":[\"ETH\"]}"`),
		{MessageId: "m2", Body: "{"},
	}})

	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("Expected 2 failures, got %v", resp.BatchItemFailures)
	}
}
