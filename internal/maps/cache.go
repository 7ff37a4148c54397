package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ridetrack/internal/types"
)

// RouteCache keeps provider responses in Redis for ttl.
type RouteCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRouteCache(client *redis.Client, ttl time.Duration) *RouteCache {
	return &RouteCache{redis: client, ttl: ttl}
}

// Get decodes the cached value into result and reports whether it was found.
func (c *RouteCache) Get(ctx context.Context, key string, result any) (bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("route cache get: %w", err)
	}
	if err := json.Unmarshal([]byte(val), result); err != nil {
		return false, fmt.Errorf("route cache decode: %w", err)
	}
	return true, nil
}

func (c *RouteCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("route cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("route cache set: %w", err)
	}
	return nil
}

// routeKey rounds coordinates to ~1 m so jittery inputs share an entry.
func routeKey(points []types.Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
	}
	return "maps:route:" + strings.Join(parts, "|")
}
