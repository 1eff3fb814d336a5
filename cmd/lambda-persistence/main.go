package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/notification"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/aws"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/config"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// SnapshotRecord is a quote snapshot with a DynamoDB TTL attribute
type SnapshotRecord struct {
	AssetID     string `dynamodbav:"asset_id"`
	CapturedAt  string `dynamodbav:"captured_at"`
	Ticker      string `dynamodbav:"ticker"`
	PriceUSD    string `dynamodbav:"price_usd"`
	LastUpdated string `dynamodbav:"last_updated"`
	Source      string `dynamodbav:"source"`
	TTL         int64  `dynamodbav:"ttl"` // auto-expire
}

// itemWriter stores one item
type itemWriter interface {
	Put(ctx context.Context, item any) error
}

type handler struct {
	table  itemWriter
	ttl    time.Duration
	now    func() time.Time
	logger *observability.Logger
}

// Handle writes every quote event in the batch. Failed records are reported
// individually so SQS retries only those.
func (h *handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure
	persisted, skipped := 0, 0

	for _, record := range sqsEvent.Records {
		env, err := notification.ParseEnvelope(record.Body)
		if err != nil {
			h.logger.LogError(ctx, "failed to parse SQS body", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		if env.EventType() != notification.EventQuoteRefreshed {
			skipped++
			continue
		}

		var quote notification.QuoteEvent
		if err := env.Decode(&quote); err != nil {
			h.logger.LogError(ctx, "failed to parse quote event", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		if err := h.table.Put(ctx, h.snapshot(quote)); err != nil {
			h.logger.LogError(ctx, "failed to write snapshot", err, "asset_id", quote.AssetID)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		persisted++
	}

	h.logger.LogInfo(ctx, "batch processed",
		"records", len(sqsEvent.Records),
		"persisted", persisted,
		"skipped", skipped,
		"failed", len(failures),
	)
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (h *handler) snapshot(q notification.QuoteEvent) SnapshotRecord {
	now := h.now().UTC()
	return SnapshotRecord{
		AssetID:     q.AssetID,
		CapturedAt:  now.Format(time.RFC3339Nano),
		Ticker:      q.Ticker,
		PriceUSD:    q.PriceUSD.String(),
		LastUpdated: q.LastUpdated.UTC().Format(time.RFC3339),
		Source:      string(q.Source),
		TTL:         aws.ExpiresAt(now, h.ttl),
	}
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.Logging.Level, "json").Component("lambda-persistence")

	awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		panic(fmt.Sprintf("failed to load AWS config: %v", err))
	}

	writer := aws.NewTableWriter(awsCfg, cfg.AWS.Endpoint, cfg.AWS.SnapshotTable)
	h := &handler{
		table:  writer,
		ttl:    aws.DefaultSnapshotTTL,
		now:    time.Now,
		logger: logger,
	}
	logger.LogInfo(ctx, "persistence lambda initialized", "table", writer.Table())

	lambda.Start(h.Handle)
}
