// Package market exposes coin, price, search and conversion routes.
package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/conversion"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/market"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/cache"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
)

// Service is the subset of market.Service the routes call
type Service interface {
	GetCoin(ctx context.Context, ticker string, refresh bool) (asset.CoinDetail, error)
	ListCoins(ctx context.Context, page, pageSize int) (asset.Listing, error)
	GetPrice(ctx context.Context, id string, force bool) (asset.Quote, error)
	GetPrices(ctx context.Context, ids []string) ([]asset.Quote, error)
	Search(ctx context.Context, term string) (market.SearchResult, error)
	Convert(ctx context.Context, from, to string, amount decimal.Decimal) (market.Conversion, error)
	ConvertPair(ctx context.Context, pair string, amount decimal.Decimal) (market.Conversion, error)
	Invalidate(ctx context.Context, ticker string) error
	Sitemap(ctx context.Context) ([]byte, error)
}

// Controller serves the /api/v1 routes and the sitemap
type Controller struct {
	svc     Service
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates the market controller
func New(svc Service, logger *observability.Logger, metrics *observability.Metrics) *Controller {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Controller{svc: svc, logger: logger.Component("api"), metrics: metrics}
}

// RegisterRoutes implements http.Controller
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")

	api.GET("/coins", c.listCoins)
	api.GET("/coins/:ticker", c.getCoin)
	api.GET("/prices", c.getPrices)
	api.GET("/prices/:id", c.getPrice)
	api.GET("/search", c.search)
	api.GET("/convert", c.convert)
	api.GET("/convert/:pair", c.convertPair)
	api.DELETE("/cache/coins/:ticker", c.invalidate)

	r.GET("/sitemap.xml", c.sitemap)
}

func (c *Controller) getCoin(ctx *gin.Context) {
	refresh, err := boolQuery(ctx, "refresh")
	if err != nil {
		c.fail(ctx, err)
		return
	}

	detail, err := c.svc.GetCoin(ctx.Request.Context(), ctx.Param("ticker"), refresh)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, detail)
}

func (c *Controller) listCoins(ctx *gin.Context) {
	page, err := intQuery(ctx, "page", defaultPage)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	pageSize, err := intQuery(ctx, "pageSize", defaultPageSize)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	listing, err := c.svc.ListCoins(ctx.Request.Context(), page, pageSize)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, listing)
}

func (c *Controller) getPrice(ctx *gin.Context) {
	force, err := boolQuery(ctx, "force")
	if err != nil {
		c.fail(ctx, err)
		return
	}

	quote, err := c.svc.GetPrice(ctx.Request.Context(), ctx.Param("id"), force)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, quote)
}

func (c *Controller) getPrices(ctx *gin.Context) {
	raw := ctx.Query("ids")
	if strings.TrimSpace(raw) == "" {
		c.fail(ctx, fmt.Errorf("%w: ids is required", asset.ErrInvalidInput))
		return
	}

	quotes, err := c.svc.GetPrices(ctx.Request.Context(), strings.Split(raw, ","))
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"items": quotes})
}

func (c *Controller) search(ctx *gin.Context) {
	result, err := c.svc.Search(ctx.Request.Context(), ctx.Query("q"))
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *Controller) convert(ctx *gin.Context) {
	amount, err := amountQuery(ctx)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	result, err := c.svc.Convert(ctx.Request.Context(), ctx.Query("from"), ctx.Query("to"), amount)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *Controller) convertPair(ctx *gin.Context) {
	amount, err := amountQuery(ctx)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	result, err := c.svc.ConvertPair(ctx.Request.Context(), ctx.Param("pair"), amount)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *Controller) invalidate(ctx *gin.Context) {
	ticker := ctx.Param("ticker")
	if err := c.svc.Invalidate(ctx.Request.Context(), ticker); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invalidated": asset.NormalizeTicker(ticker)})
}

func (c *Controller) sitemap(ctx *gin.Context) {
	body, err := c.svc.Sitemap(ctx.Request.Context())
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/xml; charset=utf-8", body)
}

// fail writes the error response for err. Internal failures get a generic message.
func (c *Controller) fail(ctx *gin.Context, err error) {
	status := StatusFor(err)
	reqCtx := ctx.Request.Context()

	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		c.logger.LogError(reqCtx, "request failed", err, "path", ctx.FullPath(), "status", status)
		c.metrics.RecordError(reqCtx, "http_"+strconv.Itoa(status))
		msg = http.StatusText(status)
	default:
		c.logger.LogDebug(reqCtx, "request rejected", "path", ctx.FullPath(), "status", status, "error", err)
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// StatusFor maps the error taxonomy onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, asset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, asset.ErrInvalidInput), errors.Is(err, conversion.ErrUndefinedRate):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func boolQuery(ctx *gin.Context, name string) (bool, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", asset.ErrInvalidInput, name)
	}
	return v, nil
}

func intQuery(ctx *gin.Context, name string, def int) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", asset.ErrInvalidInput, name)
	}
	return v, nil
}

func amountQuery(ctx *gin.Context) (decimal.Decimal, error) {
	raw := ctx.Query("amount")
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount must be a number", asset.ErrInvalidInput)
	}
	return v, nil
}
