package musicbrainz

import (
	"sync"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
)

// DefaultMissTTL is how long a failed search is remembered.
const DefaultMissTTL = 6 * time.Hour

// MissCache remembers names MusicBrainz had no acceptable match for, so a
// PENDING artist heard on every scrape is not searched on every scrape.
// Hits are not cached here; the artists table holds them.
type MissCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]time.Time
}

// NewMissCache creates a cache whose entries expire after ttl.
func NewMissCache(ttl time.Duration) *MissCache {
	if ttl <= 0 {
		ttl = DefaultMissTTL
	}
	return &MissCache{ttl: ttl, now: time.Now, items: make(map[string]time.Time)}
}

// Missed reports whether name failed a search within the TTL.
func (c *MissCache) Missed(name string) bool {
	if c == nil {
		return false
	}
	key := normalize.Key(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.items[key]
	if !ok {
		return false
	}
	if c.now().Sub(at) >= c.ttl {
		delete(c.items, key)
		return false
	}
	return true
}

// Record marks name as a miss.
func (c *MissCache) Record(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[normalize.Key(name)] = c.now()
}

// Forget drops name, e.g. after a manual override was added for it.
func (c *MissCache) Forget(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, normalize.Key(name))
}

// Clear drops every entry. RetryPending starts from a clean slate.
func (c *MissCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]time.Time)
}

// Len returns the number of remembered misses, expired or not.
func (c *MissCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
