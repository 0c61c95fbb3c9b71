package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
)

// ForecastFetcher is implemented by the weather service. Fetching through it
// populates the cache as a side effect.
type ForecastFetcher interface {
	Forecast(ctx context.Context, loc models.Location) (models.ForecastSummary, error)
}

// Warmer prefetches forecasts so advisory runs hit a warm cache.
type Warmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
	clock   clockwork.Clock
}

// NewWarmer creates a Warmer. A nil clock uses the real clock.
func NewWarmer(fetcher ForecastFetcher, logger *zap.Logger, clock clockwork.Clock) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Warmer{fetcher: fetcher, logger: logger, clock: clock}
}

// Warm fetches every location concurrently and joins the failures.
func (w *Warmer) Warm(ctx context.Context, locations []models.Location) error {
	start := w.clock.Now()
	observability.CacheWarmingTotal.Inc()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, loc := range locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.Forecast(ctx, loc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", Key(loc.Latitude, loc.Longitude), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	elapsed := w.clock.Since(start)
	observability.CacheWarmingDurationSeconds.Observe(elapsed.Seconds())
	w.logger.Info("forecast cache warmed",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", elapsed),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic warms once, then again every interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, locations []models.Location, interval time.Duration) error {
	if err := w.Warm(ctx, locations); err != nil {
		w.logger.Warn("initial forecast warm failed", zap.Error(err))
	}
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.Warm(ctx, locations); err != nil {
				w.logger.Warn("periodic forecast warm failed", zap.Error(err))
			}
		}
	}
}
