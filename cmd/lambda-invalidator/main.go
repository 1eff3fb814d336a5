package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/cacheaside"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/notification"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/cache"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/config"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

// invalidator deletes cache keys
type invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type handler struct {
	cache  invalidator
	logger *observability.Logger
}

// Handle applies every invalidation event in the batch to the shared cache.
// Events of other types on the topic are acknowledged and ignored.
func (h *handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure
	deleted := 0

	for _, record := range sqsEvent.Records {
		env, err := notification.ParseEnvelope(record.Body)
		if err != nil {
			h.logger.LogError(ctx, "failed to parse SQS body", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		if env.EventType() != notification.EventCacheInvalidation {
			continue
		}

		var event notification.InvalidationEvent
		if err := env.Decode(&event); err != nil {
			h.logger.LogError(ctx, "failed to parse invalidation event", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		keys := event.Keys()
		if len(keys) == 0 {
			continue
		}
		if err := h.cache.Invalidate(ctx, keys...); err != nil {
			h.logger.LogError(ctx, "failed to invalidate keys", err, "keys", keys)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		deleted += len(keys)
	}

	h.logger.LogInfo(ctx, "batch processed",
		"records", len(sqsEvent.Records),
		"keys_deleted", deleted,
		"failed", len(failures),
	)
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.Logging.Level, "json").Component("lambda-invalidator")

	store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	h := &handler{
		cache: cacheaside.New(cacheaside.Config{
			Store:     store,
			Logger:    logger,
			OpTimeout: cfg.Cache.OpTimeout,
		}),
		logger: logger,
	}
	logger.LogInfo(ctx, "invalidator lambda initialized", "redis", cfg.Redis.Address)

	lambda.Start(h.Handle)
}
