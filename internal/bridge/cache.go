package bridge

import (
	"maps"
	"sync"
	"time"
)

// DefaultListingTTL is how long a lights listing stays fresh.
const DefaultListingTTL = 10 * time.Second

// ListingCache is a pure time-based cache for the lights listing.
// It does NOT fetch from network and is never invalidated by writes.
type ListingCache struct {
	mu        sync.RWMutex
	lights    map[string]Light
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewListingCache creates a new listing cache.
// Parameters:
//   - ttl: Time-to-live for the listing (0 = use default 10 seconds)
func NewListingCache(ttl time.Duration) *ListingCache {
	if ttl == 0 {
		ttl = DefaultListingTTL
	}
	return &ListingCache{
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached listing, or false if nothing is cached or it is stale.
func (c *ListingCache) Get() (map[string]Light, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lights == nil {
		return nil, false
	}
	if c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return maps.Clone(c.lights), true
}

// Set stores a freshly fetched listing.
func (c *ListingCache) Set(lights map[string]Light) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lights = maps.Clone(lights)
	c.fetchedAt = c.now()
}
