package routing

import (
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

func cachedRoute(originLat float64) *CachedRoute {
	return &CachedRoute{
		Origin:      geomath.Point{Lat: originLat, Lon: 10},
		Destination: geomath.Point{Lat: 50, Lon: 11},
		Profile:     ProfileDriving,
		Geometry:    "_p~iF~ps|U_ulLnnqC",
	}
}

// TestRouteCache_PutGet tests basic put/get operations
func TestRouteCache_PutGet(t *testing.T) {
	cache := NewRouteCache(3, time.Minute)

	route := cachedRoute(49)
	cache.Put(route)

	got, ok := cache.Get(route.Origin, route.Destination, ProfileDriving)
	if !ok {
		t.Fatal("Expected route to be cached")
	}
	if got != route {
		t.Error("Expected the stored route back")
	}
	if got.CachedAt.IsZero() {
		t.Error("Expected CachedAt to be stamped")
	}

	// same trip, different profile
	if _, ok := cache.Get(route.Origin, route.Destination, ProfileWalking); ok {
		t.Error("Expected profile to be part of the key")
	}
}

// TestRouteCache_KeyRounding tests that nearby origins share an entry
func TestRouteCache_KeyRounding(t *testing.T) {
	cache := NewRouteCache(3, time.Minute)
	cache.Put(cachedRoute(49.00001))

	if _, ok := cache.Get(geomath.Point{Lat: 49.00004, Lon: 10}, geomath.Point{Lat: 50, Lon: 11}, ProfileDriving); !ok {
		t.Error("Expected origins within rounding to hit")
	}
	if _, ok := cache.Get(geomath.Point{Lat: 49.0002, Lon: 10}, geomath.Point{Lat: 50, Lon: 11}, ProfileDriving); ok {
		t.Error("Expected origins beyond rounding to miss")
	}
}

// TestRouteCache_Expiry tests TTL handling
func TestRouteCache_Expiry(t *testing.T) {
	cache := NewRouteCache(3, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	route := cachedRoute(49)
	cache.Put(route)

	now = now.Add(9 * time.Minute)
	if _, ok := cache.Get(route.Origin, route.Destination, route.Profile); !ok {
		t.Fatal("Expected entry to be live before TTL")
	}

	now = now.Add(time.Minute)
	if _, ok := cache.Get(route.Origin, route.Destination, route.Profile); ok {
		t.Fatal("Expected entry to expire at TTL")
	}
	if cache.Size() != 0 {
		t.Errorf("Expected expired entry to be reaped, size %d", cache.Size())
	}
}

// TestRouteCache_LRUEviction tests LRU eviction
func TestRouteCache_LRUEviction(t *testing.T) {
	cache := NewRouteCache(2, time.Minute)

	a, b, c := cachedRoute(1), cachedRoute(2), cachedRoute(3)
	cache.Put(a)
	cache.Put(b)

	// touch a so b becomes the eviction victim
	cache.Get(a.Origin, a.Destination, a.Profile)
	cache.Put(c)

	if _, ok := cache.Get(b.Origin, b.Destination, b.Profile); ok {
		t.Error("Expected b to be evicted")
	}
	if _, ok := cache.Get(a.Origin, a.Destination, a.Profile); !ok {
		t.Error("Expected a to survive")
	}
	if cache.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cache.Size())
	}
}

// TestRouteCache_Stats tests hit/miss accounting
func TestRouteCache_Stats(t *testing.T) {
	cache := NewRouteCache(2, time.Minute)
	route := cachedRoute(5)
	cache.Put(route)

	cache.Get(route.Origin, route.Destination, route.Profile)
	cache.Get(geomath.Point{}, geomath.Point{}, ProfileDriving)

	hits, misses, rate := cache.Stats()
	if hits != 1 || misses != 1 || rate != 0.5 {
		t.Errorf("Stats() = %d, %d, %v; want 1, 1, 0.5", hits, misses, rate)
	}

	cache.Clear()
	if hits, misses, _ := cache.Stats(); hits != 0 || misses != 0 || cache.Size() != 0 {
		t.Error("Expected Clear to reset entries and statistics")
	}
}

// TestRouteCache_Concurrent tests concurrent access
func TestRouteCache_Concurrent(t *testing.T) {
	cache := NewRouteCache(8, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r := cachedRoute(float64(j % 16))
				cache.Put(r)
				cache.Get(r.Origin, r.Destination, r.Profile)
			}
		}(i)
	}
	wg.Wait()

	if cache.Size() > 8 {
		t.Errorf("Expected at most 8 entries, got %d", cache.Size())
	}
}
