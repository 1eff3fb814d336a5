package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/DroomDroom-Org/DroomdroomConverter/internal/api/http"
	marketapi "github.com/DroomDroom-Org/DroomdroomConverter/internal/api/http/controllers/market"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/api/http/controllers/system"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/cacheaside"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/market"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/notification"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/aws"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/cache"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/config"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/pricing"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/warehouse"
)

// publisher is what the resolver and the service announce through
type publisher interface {
	pricing.QuotePublisher
	market.InvalidationPublisher
	CircuitBreakerState() string
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to ./config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)
	obs := cfg.Observability

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(obs.Logging.Level, obs.Logging.Format)

	metrics, err := observability.NewMetrics(ctx, observability.MetricsConfig{
		ServiceName:  obs.ServiceName,
		Enabled:      obs.Metrics.Enabled,
		OTLPEndpoint: obs.Metrics.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}
	defer metrics.Shutdown(context.WithoutCancel(ctx))

	tracerProvider, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: obs.ServiceName,
		Environment: obs.Environment,
		Endpoint:    obs.Tracing.Endpoint,
		Enabled:     obs.Tracing.Enabled,
		SampleRatio: obs.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracerProvider.Shutdown(context.WithoutCancel(ctx))
	tracer := observability.NewTracer(obs.ServiceName)

	logger.Info("observability setup complete", "service", obs.ServiceName, "environment", obs.Environment)

	// Cache stores
	readyChecks := map[string]system.Pinger{}

	memStore := cache.NewMemoryStore(cfg.Cache.L1MaxSize, cache.WithReapInterval(cfg.Cache.ReapInterval))
	layered := cache.LayeredConfig{L1: memStore, L1MaxTTL: cfg.Cache.L1MaxTTL, Logger: logger}
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			// A cache outage degrades latency, never availability
			logger.LogError(ctx, "redis unavailable, serving from memory only", err)
		} else {
			layered.L2 = redisStore
			readyChecks["redis"] = redisStore
		}
	}
	store := cache.NewLayeredStore(layered)
	defer store.Close()

	fetcher := cacheaside.New(cacheaside.Config{
		Store:     store,
		Logger:    logger.Component("cacheaside"),
		Metrics:   metrics,
		Tracer:    tracer,
		OpTimeout: cfg.Cache.OpTimeout,
	})
	policies := policiesFrom(cfg.Cache.TTL)

	// Warehouse
	db, err := warehouse.Open(ctx, warehouse.Config{
		DSN:          cfg.Warehouse.DSN,
		MaxConns:     cfg.Warehouse.MaxConns,
		QueryTimeout: cfg.Warehouse.QueryTimeout,
	}, logger)
	if err != nil {
		logger.LogError(ctx, "failed to connect to warehouse", err)
		log.Fatalf("Failed to connect to warehouse: %v", err)
	}
	defer db.Close()
	readyChecks["postgres"] = db

	if cfg.Warehouse.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate warehouse: %v", err)
		}
	}

	// Upstream market data
	upstream := pricing.NewMarketDataClient(pricing.ClientConfig{
		BaseURL:        cfg.Upstream.BaseURL,
		APIKey:         cfg.Upstream.APIKey,
		Timeout:        cfg.Upstream.Timeout,
		MaxBatchSize:   cfg.Upstream.MaxBatchSize,
		RateLimitRPM:   cfg.Upstream.RateLimit.RequestsPerMinute,
		RateLimitBurst: cfg.Upstream.RateLimit.Burst,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: cfg.Upstream.Retry.MaxAttempts,
			BaseDelay:   cfg.Upstream.Retry.BaseDelay,
			MaxDelay:    cfg.Upstream.Retry.MaxDelay,
			Jitter:      cfg.Upstream.Retry.Jitter,
		},
		FailureThreshold: cfg.Upstream.Breaker.FailureThreshold,
		Cooldown:         cfg.Upstream.Breaker.Cooldown,
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           tracer,
	})

	// Events
	var events publisher = notification.NewNoOpPublisher(logger)
	if cfg.AWS.Enabled {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		snsPublisher, err := notification.NewPublisher(notification.PublisherConfig{
			Client: aws.NewSNSClient(aws.SNSClientConfig{
				AWSConfig: awsCfg,
				Endpoint:  cfg.AWS.Endpoint,
				Logger:    logger,
				Metrics:   metrics,
			}),
			TopicARN: cfg.AWS.SNSTopicARN,
			Logger:   logger,
			Metrics:  metrics,
			Tracer:   tracer,
		})
		if err != nil {
			log.Fatalf("Failed to create publisher: %v", err)
		}
		events = snsPublisher
	}

	resolver, err := pricing.NewResolver(pricing.ResolverConfig{
		Quotes:    db,
		Live:      upstream,
		Fetcher:   fetcher,
		Policy:    policies.LivePrice,
		Publisher: events,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create price resolver: %v", err)
	}

	svc, err := market.NewService(market.Config{
		Warehouse: db,
		Prices:    resolver,
		Fetcher:   fetcher,
		Policies:  policies,
		Events:    events,
		SiteURL:   cfg.HTTP.SiteURL,
		Warmup: market.WarmupConfig{
			ListingSize: cfg.Warmup.ListingSize,
			TopCoins:    cfg.Warmup.TopCoins,
			Workers:     cfg.Warmup.Workers,
		},
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create market service: %v", err)
	}

	// Warm the cache in the background; requests are served cold meanwhile
	if cfg.Warmup.Enabled {
		warmer := cache.NewWarmer(logger, metrics, cache.WarmupConfig{
			Timeout:         cfg.Warmup.Timeout,
			ProviderTimeout: cfg.Warmup.PerProvider,
			ContinueOnError: true,
			Parallel:        true,
		})
		warmer.RegisterProvider(svc)
		go func() {
			if results := warmer.Warmup(ctx); results.HasErrors() {
				logger.Warn("cache warmup incomplete", "errors", results.Errors)
			}
		}()
	}

	server := apihttp.NewServer(apihttp.ServerConfig{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, logger)
	server.AddController(
		marketapi.New(svc, logger, metrics),
		system.New(system.Config{
			Checks:    readyChecks,
			Providers: map[string]pricing.HealthProvider{pricing.ProviderName: upstream},
			Metrics:   metrics.Handler(),
			Logger:    logger,
		}),
	)

	logger.Info("starting converter API", "port", cfg.HTTP.Port)
	if err := server.Start(ctx); err != nil {
		logger.LogError(ctx, "server error", err)
	}
	logger.Info("application stopped", "events_breaker", events.CircuitBreakerState())
}

func policiesFrom(ttl config.TTLConfig) cacheaside.Policies {
	p := cacheaside.DefaultPolicies()
	set := func(policy *cacheaside.Policy, d time.Duration) {
		if d > 0 {
			policy.TTL = d
		}
	}
	set(&p.CoinDetail, ttl.CoinDetail)
	set(&p.CoinListing, ttl.CoinListing)
	set(&p.LivePrice, ttl.LivePrice)
	set(&p.Sitemap, ttl.Sitemap)
	set(&p.SearchResult, ttl.Search)
	return p
}
