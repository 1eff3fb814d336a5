// Package system serves liveness, readiness and metrics.
package system

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/pricing"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is a dependency readiness depends on
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the controller's dependencies
type Config struct {
	// Checks are the dependencies that must answer for the service to be ready
	Checks map[string]Pinger

	// Providers report upstream health. A degraded provider does not fail
	// readiness because prices fall back to the warehouse.
	Providers map[string]pricing.HealthProvider

	Metrics      http.Handler
	CheckTimeout time.Duration
	Logger       *observability.Logger
}

// Controller serves system routes
type Controller struct {
	checks       map[string]Pinger
	providers    map[string]pricing.HealthProvider
	metrics      http.Handler
	checkTimeout time.Duration
	logger       *observability.Logger
}

// New creates the system controller
func New(cfg Config) *Controller {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Controller{
		checks:       cfg.Checks,
		providers:    cfg.Providers,
		metrics:      cfg.Metrics,
		checkTimeout: cfg.CheckTimeout,
		logger:       cfg.Logger.Component("system"),
	}
}

// RegisterRoutes implements http.Controller
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", c.live)
	r.GET("/ready", c.ready)
	if c.metrics != nil {
		r.GET("/metrics", gin.WrapH(c.metrics))
	}
}

func (c *Controller) live(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "alive"})
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readiness struct {
	Status    string                            `json:"status"`
	Checks    map[string]checkResult            `json:"checks"`
	Providers map[string]pricing.ProviderHealth `json:"providers,omitempty"`
}

func (c *Controller) ready(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), c.checkTimeout)
	defer cancel()

	resp := readiness{Status: "ready", Checks: make(map[string]checkResult, len(c.checks))}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := checkResult{Status: "up"}
			if err := check.Ping(reqCtx); err != nil {
				result = checkResult{Status: "down", Error: err.Error()}
				c.logger.LogWarn(reqCtx, "ready check failed", "check", name, "error", err)
			}
			mu.Lock()
			resp.Checks[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := http.StatusOK
	for _, r := range resp.Checks {
		if r.Status != "up" {
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			break
		}
	}

	if len(c.providers) > 0 {
		resp.Providers = make(map[string]pricing.ProviderHealth, len(c.providers))
		for name, p := range c.providers {
			h := p.Health()
			if !h.Healthy() {
				c.logger.LogWarn(reqCtx, "upstream provider degraded", "provider", name, "error", h.LastError)
			}
			resp.Providers[name] = h
		}
	}
	ctx.JSON(status, resp)
}
