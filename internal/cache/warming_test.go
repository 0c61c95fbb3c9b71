package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/field-advisory/internal/models"
)

type fakeFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFetcher) Forecast(ctx context.Context, loc models.Location) (models.ForecastSummary, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.ForecastSummary{}, f.err
	}
	return models.ForecastSummary{Source: "simulated"}, nil
}

func TestWarmer_Warm_Success(t *testing.T) {
	fetcher := &fakeFetcher{}
	w := NewWarmer(fetcher, nil, nil)

	err := w.Warm(context.Background(), []models.Location{{Latitude: 16.5, Longitude: 80.6}, {Latitude: 17.4, Longitude: 78.5}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestWarmer_Warm_EmptyLocations(t *testing.T) {
	w := NewWarmer(&fakeFetcher{}, nil, nil)

	assert.NoError(t, w.Warm(context.Background(), nil))
	assert.NoError(t, w.Warm(context.Background(), []models.Location{}))
}

func TestWarmer_Warm_FetcherError(t *testing.T) {
	apiDown := errors.New("api down")
	w := NewWarmer(&fakeFetcher{err: apiDown}, nil, nil)

	err := w.Warm(context.Background(), []models.Location{{Latitude: 16.521, Longitude: 80.63}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apiDown)
	assert.Contains(t, err.Error(), "16.52,80.63")
}

// TestWarmer_WarmPeriodic_RefreshesOnTick verifies the ticker drives refreshes and ctx stops the loop.
func TestWarmer_WarmPeriodic_RefreshesOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{}
	w := NewWarmer(fetcher, nil, clock)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- w.WarmPeriodic(ctx, []models.Location{{Latitude: 1, Longitude: 1}}, time.Minute)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.EqualValues(t, 1, fetcher.calls.Load())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("WarmPeriodic did not return after cancel")
	}
}
