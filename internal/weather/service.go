package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/field-advisory/internal/cache"
	"github.com/kjstillabower/field-advisory/internal/client"
	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
)

// Provider produces a compacted forecast for a location.
type Provider interface {
	Name() string
	Summary(ctx context.Context, loc models.Location) (models.ForecastSummary, error)
}

// Service serves forecasts using cache-aside over a live provider, with a
// simulated fallback when the provider is absent or fails. Only live
// results are cached.
type Service struct {
	live     Provider
	fallback Provider
	cache    cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
	clock    clockwork.Clock

	group    singleflight.Group
	stampede *stampedeTracker
}

// Options configures a Service. Live may be nil, in which case every call
// is served by Fallback. Cache may be nil to disable caching.
type Options struct {
	Live     Provider
	Fallback Provider
	Cache    cache.Cache
	TTL      time.Duration
	Logger   *zap.Logger
	Clock    clockwork.Clock
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Fallback == nil {
		opts.Fallback = NewSimulated(nil)
	}
	return &Service{
		live:     opts.Live,
		fallback: opts.Fallback,
		cache:    opts.Cache,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		clock:    opts.Clock,
		stampede: newStampedeTracker(),
	}
}

// Forecast returns the summary for loc. It only fails when ctx is done or
// the fallback itself fails; provider errors are logged and absorbed.
func (s *Service) Forecast(ctx context.Context, loc models.Location) (models.ForecastSummary, error) {
	if s.live == nil {
		return s.serveFallback(ctx, loc)
	}

	key := cache.Key(loc.Latitude, loc.Longitude)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.ForecastCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("forecast cache get failed", zap.String("key", key), zap.Error(err))
		case ok:
			observability.ForecastCacheTotal.WithLabelValues("hit").Inc()
			observability.ForecastSourceTotal.WithLabelValues(cached.Source).Inc()
			s.logger.Debug("forecast served", zap.String("key", key), zap.Bool("cached", true))
			return cached, nil
		default:
			observability.ForecastCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	if n := s.stampede.RecordMiss(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}
	defer s.stampede.RecordHit(key)

	start := s.clock.Now()
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.live.Summary(ctx, loc)
	})
	if shared {
		observability.ForecastCoalescedTotal.Inc()
	}
	if err != nil {
		if ctx.Err() != nil {
			return models.ForecastSummary{}, fmt.Errorf("fetch forecast: %w", ctx.Err())
		}
		s.logger.Warn("forecast provider failed, using simulated data",
			zap.String("provider", s.live.Name()),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return s.serveFallback(ctx, loc)
	}
	summary := v.(models.ForecastSummary)

	if s.cache != nil {
		if setErr := s.cache.Set(ctx, key, summary, s.ttl); setErr != nil {
			s.logger.Warn("forecast cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	observability.ForecastSourceTotal.WithLabelValues(summary.Source).Inc()
	s.logger.Debug("forecast served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Duration("duration", s.clock.Since(start)),
	)
	return summary, nil
}

func (s *Service) serveFallback(ctx context.Context, loc models.Location) (models.ForecastSummary, error) {
	summary, err := s.fallback.Summary(ctx, loc)
	if err != nil {
		return models.ForecastSummary{}, fmt.Errorf("%s forecast: %w", s.fallback.Name(), err)
	}
	observability.ForecastSourceTotal.WithLabelValues(summary.Source).Inc()
	return summary, nil
}
