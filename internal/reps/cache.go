package reps

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	rep     Rep
	expires time.Time
}

// Cache holds reps keyed by id and by phone for a fixed TTL. The clock is
// injected so expiry can be driven from tests.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	byID    map[string]entry
	byPhone map[string]entry
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		byID:    make(map[string]entry),
		byPhone: make(map[string]entry),
	}
}

func (c *Cache) Put(r Rep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{rep: r, expires: c.now().Add(c.ttl)}
	if r.ID != "" {
		c.byID[r.ID] = e
	}
	if r.Phone != "" {
		c.byPhone[r.Phone] = e
	}
}

func (c *Cache) GetByID(id string) (*Rep, bool)       { return c.get(c.byID, id) }
func (c *Cache) GetByPhone(phone string) (*Rep, bool) { return c.get(c.byPhone, phone) }

func (c *Cache) get(m map[string]entry, key string) (*Rep, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := m[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	r := e.rep
	return &r, true
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, m := range []map[string]entry{c.byID, c.byPhone} {
		for k, e := range m {
			if !now.Before(e.expires) {
				delete(m, k)
				n++
			}
		}
	}
	return n
}

// CachedDirectory fronts a Directory with a Cache.
type CachedDirectory struct {
	dir   Directory
	cache *Cache
}

func NewCachedDirectory(dir Directory, cache *Cache) *CachedDirectory {
	return &CachedDirectory{dir: dir, cache: cache}
}

func (d *CachedDirectory) ByID(ctx context.Context, id string) (*Rep, error) {
	if r, ok := d.cache.GetByID(id); ok {
		return r, nil
	}
	r, err := d.dir.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Put(*r)
	return r, nil
}

func (d *CachedDirectory) ByPhone(ctx context.Context, phone string) (*Rep, error) {
	if r, ok := d.cache.GetByPhone(phone); ok {
		return r, nil
	}
	r, err := d.dir.ByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	d.cache.Put(*r)
	return r, nil
}
