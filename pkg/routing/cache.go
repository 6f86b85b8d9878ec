package routing

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

// DefaultRouteCacheTTL is how long an external route stays reusable
const DefaultRouteCacheTTL = 10 * time.Minute

// RouteKey returns the cache key for an origin, destination and profile.
// Coordinates are rounded to 4 decimals (about 11 m).
func RouteKey(origin, destination geomath.Point, profile Profile) string {
	return fmt.Sprintf("%.4f,%.4f;%.4f,%.4f;%s",
		origin.Lat, origin.Lon, destination.Lat, destination.Lon, profile)
}

// RouteCache is a session-scoped LRU of external routes with expiry
type RouteCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	cache    map[string]*list.Element
	lru      *list.List

	// Statistics
	hits   int64
	misses int64
}

type routeEntry struct {
	key     string
	route   *CachedRoute
	expires time.Time
}

// NewRouteCache creates a cache holding at most capacity routes for ttl each
func NewRouteCache(capacity int, ttl time.Duration) *RouteCache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = DefaultRouteCacheTTL
	}
	return &RouteCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a live entry for the rounded key
func (rc *RouteCache) Get(origin, destination geomath.Point, profile Profile) (*CachedRoute, bool) {
	key := RouteKey(origin, destination, profile)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	elem, ok := rc.cache[key]
	if !ok {
		rc.misses++
		return nil, false
	}
	entry := elem.Value.(*routeEntry)
	if !rc.now().Before(entry.expires) {
		rc.lru.Remove(elem)
		delete(rc.cache, key)
		rc.misses++
		return nil, false
	}

	rc.lru.MoveToFront(elem)
	rc.hits++
	return entry.route, true
}

// Put stores a route under its own origin, destination and profile
func (rc *RouteCache) Put(route *CachedRoute) {
	if route == nil {
		return
	}
	key := RouteKey(route.Origin, route.Destination, route.Profile)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.now()
	if route.CachedAt.IsZero() {
		route.CachedAt = now
	}
	expires := now.Add(rc.ttl)

	if elem, ok := rc.cache[key]; ok {
		rc.lru.MoveToFront(elem)
		entry := elem.Value.(*routeEntry)
		entry.route = route
		entry.expires = expires
		return
	}

	elem := rc.lru.PushFront(&routeEntry{key: key, route: route, expires: expires})
	rc.cache[key] = elem

	if rc.lru.Len() > rc.capacity {
		rc.evict()
	}
}

// evict removes the least recently used entry
func (rc *RouteCache) evict() {
	elem := rc.lru.Back()
	if elem != nil {
		rc.lru.Remove(elem)
		delete(rc.cache, elem.Value.(*routeEntry).key)
	}
}

// Clear removes all entries
func (rc *RouteCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.cache = make(map[string]*list.Element)
	rc.lru = list.New()
	rc.hits = 0
	rc.misses = 0
}

// Stats returns cache statistics
func (rc *RouteCache) Stats() (hits, misses int64, hitRate float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	hits = rc.hits
	misses = rc.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// Size returns the number of entries, including expired ones not yet reaped
func (rc *RouteCache) Size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lru.Len()
}
