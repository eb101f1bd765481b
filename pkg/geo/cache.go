package geo

import (
	"context"
	"errors"
	"sync"
)

const DefaultCacheSize = 1024

// Lookup results reported to Cache.OnResult.
const (
	ResultHit    = "hit"
	ResultFound  = "found"
	ResultMissed = "missed"
)

type cacheEntry struct {
	loc Location
	err error
}

// Cache memoises a Locator. Failed lookups are remembered too, so an address
// that cannot be located costs one upstream request. The oldest entry is
// evicted once Size is exceeded. Cancelled lookups are not cached.
type Cache struct {
	next Locator
	size int

	// OnResult, when set, is called once per Locate with one of the Result
	// constants.
	OnResult func(result string)

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
}

func NewCache(next Locator, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{next: next, size: size, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Locate(ctx context.Context, ip string) (Location, error) {
	c.mu.Lock()
	e, ok := c.entries[ip]
	c.mu.Unlock()
	if ok {
		c.report(ResultHit)
		return e.loc, e.err
	}

	loc, err := c.next.Locate(ctx, ip)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Location{}, err
	}
	if err != nil {
		loc, err = Location{}, ErrNoLocation
		c.report(ResultMissed)
	} else {
		c.report(ResultFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[ip]; !ok {
		c.entries[ip] = cacheEntry{loc: loc, err: err}
		c.order = append(c.order, ip)
		for len(c.order) > c.size {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
	}
	return loc, err
}

// Len is the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) report(result string) {
	if c.OnResult != nil {
		c.OnResult(result)
	}
}
