package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/worker"
)

// WarmupConfig controls start-up cache warming
type WarmupConfig struct {
	// ListingSize is the page size of the warmed first listing page
	ListingSize int

	// TopCoins is how many coin details from that page are warmed
	TopCoins int

	Workers int
}

func (c WarmupConfig) withDefaults() WarmupConfig {
	if c.ListingSize <= 0 {
		c.ListingSize = 100
	}
	if c.TopCoins < 0 {
		c.TopCoins = 0
	}
	if c.TopCoins > c.ListingSize {
		c.TopCoins = c.ListingSize
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Name identifies the service as a cache warmup provider
func (s *Service) Name() string {
	return "market"
}

// Warmup fills the first listing page, the top coin details and the sitemap.
// Only a listing failure fails the warmup; coin and sitemap failures are logged.
func (s *Service) Warmup(ctx context.Context) error {
	start := time.Now()

	listing, err := s.ListCoins(ctx, 1, s.warmup.ListingSize)
	if err != nil {
		return fmt.Errorf("failed to warm listing: %w", err)
	}

	n := min(s.warmup.TopCoins, len(listing.Items))
	jobs := make([]worker.Job[asset.CoinDetail], 0, n)
	for _, q := range listing.Items[:n] {
		ticker := q.Ticker
		jobs = append(jobs, worker.Job[asset.CoinDetail]{
			ID: ticker,
			Execute: func(ctx context.Context) (asset.CoinDetail, error) {
				return s.GetCoin(ctx, ticker, false)
			},
		})
	}

	failed := 0
	if len(jobs) > 0 {
		pool := worker.NewPool[asset.CoinDetail](ctx, s.warmup.Workers, len(jobs))
		results := pool.SubmitAndWait(ctx, jobs)
		pool.Close()

		var errs []error
		for _, r := range results {
			if r.Err != nil {
				failed++
				errs = append(errs, fmt.Errorf("%s: %w", r.JobID, r.Err))
			}
		}
		if failed > 0 {
			s.logger.LogWarn(ctx, "some coin details failed to warm", "failed", failed, "error", errors.Join(errs...))
		}
	}

	if _, err := s.Sitemap(ctx); err != nil {
		s.logger.LogWarn(ctx, "failed to warm sitemap", "error", err)
	}

	s.logger.LogInfo(ctx, "market cache warmed",
		"listing_items", len(listing.Items),
		"coins", len(jobs)-failed,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
