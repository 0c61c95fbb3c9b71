package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/kjstillabower/field-advisory/internal/models"
)

// Bump the version when ForecastSummary changes shape so old entries are ignored.
const keyPrefix = "forecast:v1:"

// maxRelativeExpiry is the largest TTL memcached treats as relative; larger
// values are read as a unix timestamp.
const maxRelativeExpiry = 30 * 24 * time.Hour

const defaultExpiry int32 = 3600

// MemcachedCache stores forecast summaries in memcached as JSON.
type MemcachedCache struct {
	mc *memcache.Client
}

// NewMemcachedCache connects to a comma-separated server list
// ("host1:11211,host2:11211"); empty means localhost:11211. Zero timeout or
// maxIdleConns keep the client defaults. Unresolvable addresses are an error.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := splitServers(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	var selector memcache.ServerList
	if err := selector.SetServers(servers...); err != nil {
		return nil, fmt.Errorf("memcached servers %q: %w", addrs, err)
	}
	mc := memcache.NewFromSelector(&selector)
	if timeout > 0 {
		mc.Timeout = timeout
	}
	if maxIdleConns > 0 {
		mc.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{mc: mc}, nil
}

func splitServers(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Get returns a miss for absent keys. An entry that no longer decodes is
// deleted and reported as a miss so the caller refetches it.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastSummary, bool, error) {
	var summary models.ForecastSummary
	if err := ctx.Err(); err != nil {
		return summary, false, err
	}
	item, err := c.mc.Get(keyPrefix + key)
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return summary, false, nil
	case err != nil:
		return summary, false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	if err := json.Unmarshal(item.Value, &summary); err != nil {
		_ = c.mc.Delete(item.Key)
		return models.ForecastSummary{}, false, nil
	}
	return summary, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ForecastSummary, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	return c.mc.Set(&memcache.Item{Key: keyPrefix + key, Value: raw, Expiration: expirationSeconds(ttl)})
}

// expirationSeconds converts ttl to a relative expiry, falling back to one
// hour when ttl is not positive or exceeds maxRelativeExpiry.
func expirationSeconds(ttl time.Duration) int32 {
	if ttl < time.Second || ttl > maxRelativeExpiry {
		return defaultExpiry
	}
	return int32(ttl / time.Second)
}

// Ping reports whether every server answers. Used by the health check.
func (c *MemcachedCache) Ping() error {
	return c.mc.Ping()
}

func (c *MemcachedCache) Close() error {
	return c.mc.Close()
}
