//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// memcachedForTest connects to MEMCACHED_ADDRS (default localhost:11211) and
// skips when nothing answers.
func memcachedForTest(t *testing.T) *MemcachedCache {
	t.Helper()
	addrs := os.Getenv("MEMCACHED_ADDRS")
	if addrs == "" {
		addrs = "localhost:11211"
	}
	c, err := NewMemcachedCache(addrs, 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(); err != nil {
		t.Skipf("memcached not reachable at %s: %v", addrs, err)
	}
	return c
}

// TestMemcachedCache_RoundTrip_Integration verifies a full forecast summary,
// including the per-day windows, survives the JSON round trip.
func TestMemcachedCache_RoundTrip_Integration(t *testing.T) {
	c := memcachedForTest(t)
	ctx := context.Background()
	key := Key(16.521, 80.63)
	want := models.ForecastSummary{
		Source:  "openweather",
		Next12h: models.Next12h{RainMM: 21.5, WindMS: 8, Condition: models.ConditionThunderstorm},
		Next3Days: []models.DaySummary{
			{Day: 1, RainMM: 30, WindMS: 9},
			{Day: 2, RainMM: 0, WindMS: 4.5},
			{Day: 3, RainMM: 12.25, WindMS: 6},
		},
	}

	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want hit", ok, err)
	}
	if got.Source != want.Source || got.Next12h != want.Next12h || len(got.Next3Days) != 3 || got.Next3Days[2] != want.Next3Days[2] {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestMemcachedCache_Miss_Integration(t *testing.T) {
	c := memcachedForTest(t)

	_, ok, err := c.Get(context.Background(), Key(-33.86, 151.2))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for a key never set")
	}
}

// TestMemcachedCache_Expiry_Integration verifies the TTL is passed through in seconds.
func TestMemcachedCache_Expiry_Integration(t *testing.T) {
	c := memcachedForTest(t)
	ctx := context.Background()
	key := Key(25.1, 82.9)

	if err := c.Set(ctx, key, models.ForecastSummary{Source: "openweather"}, time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(2100 * time.Millisecond)

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Errorf("Get() after TTL = ok %v, err %v; want miss", ok, err)
	}
}
