// Package eta estimates time to pickup from the driver's latest position
// sample: straight-line distance over an assumed city speed. Good enough
// for a countdown hint; not a routing engine.
package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ridelink/internal/geo"
	"github.com/example/ridelink/internal/models"
)

// DefaultCitySpeedKmh is the assumed average speed when the caller has no
// better figure.
const DefaultCitySpeedKmh = 30.0

// Estimator converts a driver position into minutes-to-pickup.
type Estimator struct {
	speedKmh float64
	cache    *Cache
}

// NewEstimator builds an estimator at the given speed with repeat lookups
// served from a short-lived cache.
func NewEstimator(speedKmh float64, cacheTTL time.Duration) *Estimator {
	if speedKmh <= 0 {
		speedKmh = DefaultCitySpeedKmh
	}
	return &Estimator{speedKmh: speedKmh, cache: NewCache(cacheTTL)}
}

// Minutes returns the whole-minute estimate from the driver to the pickup,
// rounded up so the rider is never promised an arrival early.
func (e *Estimator) Minutes(driver, pickup models.LatLng) int {
	if v, ok := e.cache.Get(driver, pickup); ok {
		return v
	}
	km := geo.DistanceKm(driver, pickup)
	mins := int(math.Ceil(km / e.speedKmh * 60))
	if mins < 1 {
		mins = 1
	}
	e.cache.Set(driver, pickup, mins)
	return mins
}

// Cache is a small TTL cache for repeat estimates while the driver's
// position sample has not moved.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  int
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.LatLng) string {
	return fmtPoint(a) + "->" + fmtPoint(b)
}

func fmtPoint(p models.LatLng) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(a, b models.LatLng) (int, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.LatLng, v int) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
