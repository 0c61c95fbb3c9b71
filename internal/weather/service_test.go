package weather

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/field-advisory/internal/cache"
	"github.com/kjstillabower/field-advisory/internal/models"
)

type fakeProvider struct {
	name    string
	summary models.ForecastSummary
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Summary(ctx context.Context, _ models.Location) (models.ForecastSummary, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return models.ForecastSummary{}, f.err
	}
	return f.summary, nil
}

var field = models.Location{Latitude: 16.521, Longitude: 80.63}

func liveSummary() models.ForecastSummary {
	return models.ForecastSummary{Source: SourceOpenWeather, Next12h: models.Next12h{RainMM: 22, WindMS: 5, Condition: models.ConditionRain}}
}

// TestService_CacheAside verifies a miss calls the provider once and the second call is a hit.
func TestService_CacheAside(t *testing.T) {
	live := &fakeProvider{name: SourceOpenWeather, summary: liveSummary()}
	c := cache.NewInMemoryCache(nil)
	svc := NewService(Options{Live: live, Cache: c, TTL: time.Minute})

	first, err := svc.Forecast(context.Background(), field)
	require.NoError(t, err)
	second, err := svc.Forecast(context.Background(), field)
	require.NoError(t, err)

	assert.Equal(t, liveSummary(), first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, live.calls.Load())
	assert.Equal(t, 1, c.Len())
}

// TestService_ProviderFailureFallsBackToSimulated verifies provider errors are absorbed and not cached.
func TestService_ProviderFailureFallsBackToSimulated(t *testing.T) {
	live := &fakeProvider{name: SourceOpenWeather, err: errors.New("connection refused")}
	c := cache.NewInMemoryCache(nil)
	svc := NewService(Options{
		Live:     live,
		Fallback: NewSimulated(rand.New(rand.NewPCG(3, 4))),
		Cache:    c,
		TTL:      time.Minute,
	})

	got, err := svc.Forecast(context.Background(), field)
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, got.Source)
	assert.Len(t, got.Next3Days, 3)
	assert.Equal(t, 0, c.Len(), "simulated data must not be cached")
}

func TestService_NoLiveProviderUsesFallback(t *testing.T) {
	fallback := &fakeProvider{name: SourceSimulated, summary: models.ForecastSummary{Source: SourceSimulated}}
	svc := NewService(Options{Fallback: fallback, Cache: cache.NewInMemoryCache(nil), TTL: time.Minute})

	got, err := svc.Forecast(context.Background(), field)
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, got.Source)
	assert.EqualValues(t, 1, fallback.calls.Load())
}

func TestService_FallbackErrorIsReturned(t *testing.T) {
	fallback := &fakeProvider{name: SourceSimulated, err: errors.New("boom")}
	svc := NewService(Options{Fallback: fallback})

	_, err := svc.Forecast(context.Background(), field)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated forecast")
}

// TestService_CancelledContextDoesNotFallBack verifies cancellation surfaces as an error.
func TestService_CancelledContextDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	live := &fakeProvider{name: SourceOpenWeather, err: context.Canceled}
	fallback := &fakeProvider{name: SourceSimulated}
	svc := NewService(Options{Live: live, Fallback: fallback})

	_, err := svc.Forecast(ctx, field)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, fallback.calls.Load())
}

// TestService_ConcurrentMissesShareOneUpstreamCall verifies in-flight requests are coalesced.
func TestService_ConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	live := &fakeProvider{name: SourceOpenWeather, summary: liveSummary(), delay: 50 * time.Millisecond}
	svc := NewService(Options{Live: live, Cache: cache.NewInMemoryCache(nil), TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Forecast(context.Background(), field)
			assert.NoError(t, err)
			assert.Equal(t, SourceOpenWeather, got.Source)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, live.calls.Load(), int32(2))
}
