package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"coleta-simulator/internal/geo"
)

// Cache is the byte store behind Cached.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
}

// CacheMetrics is optional instrumentation for Cached.
type CacheMetrics interface {
	RouteCacheHit()
	RouteCacheMiss()
}

// MissDetector is implemented by caches that can tell a missing key from a
// failure.
type MissDetector interface {
	IsMiss(err error) bool
}

// Cached is a read-through cache in front of a Provider. Only successful
// routes are stored; cache failures fall through to the provider.
type Cached struct {
	next       Provider
	cache      Cache
	ttlSeconds int
	metrics    CacheMetrics
}

func NewCached(next Provider, cache Cache, ttlSeconds int, m CacheMetrics) *Cached {
	return &Cached{next: next, cache: cache, ttlSeconds: ttlSeconds, metrics: m}
}

func (c *Cached) FetchExpandedRoute(ctx context.Context, waypoints []geo.Point) (*Route, error) {
	key := CacheKey(waypoints)
	b, err := c.cache.Get(ctx, key)
	if err == nil && len(b) > 0 {
		var r Route
		if err := json.Unmarshal(b, &r); err == nil && len(r.Path) > 0 {
			if c.metrics != nil {
				c.metrics.RouteCacheHit()
			}
			return &r, nil
		}
		log.Printf("route cache: discarding undecodable entry %s", key)
	}
	if err != nil && !c.isMiss(err) {
		log.Printf("route cache get error: %v", err)
	}
	if c.metrics != nil {
		c.metrics.RouteCacheMiss()
	}

	r, err := c.next.FetchExpandedRoute(ctx, waypoints)
	if err != nil || r == nil || r.Fallback {
		return r, err
	}
	if b, err := json.Marshal(r); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttlSeconds); err != nil {
			log.Printf("route cache set error: %v", err)
		}
	}
	return r, nil
}

func (c *Cached) isMiss(err error) bool {
	if md, ok := c.cache.(MissDetector); ok {
		return md.IsMiss(err)
	}
	return false
}

// CacheKey identifies a waypoint sequence at ~0.1 m resolution.
func CacheKey(waypoints []geo.Point) string {
	parts := make([]string, len(waypoints))
	for i, w := range waypoints {
		parts[i] = fmt.Sprintf("%.6f,%.6f", w.Lat, w.Lng)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return "coleta:route:" + hex.EncodeToString(sum[:])
}
