package search

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// itemCache remembers previous results per handle, keyed by the exact
// query string. Negative results are cached too. Every entry carries
// the options string that produced it; a probe with different options
// is a miss so the stale entry gets replaced by the next store.
//
// The janitor goroutine is disabled: the dispatcher is single-threaded
// and expired entries are overwritten in place.
type itemCache struct {
	c *gocache.Cache
}

type cachedItem struct {
	data  string
	found bool
	opts  string
}

func newItemCache() *itemCache {
	return &itemCache{c: gocache.New(gocache.NoExpiration, 0)}
}

func (ic *itemCache) get(key, opts string) (cachedItem, bool) {
	v, ok := ic.c.Get(key)
	if !ok {
		return cachedItem{}, false
	}
	it := v.(cachedItem)
	if it.opts != opts {
		return cachedItem{}, false
	}
	return it, true
}

// put installs or replaces the entry for key. ttl follows the driver
// convention: CacheForever pins the entry until tidy, anything else is
// a lifetime in seconds. CacheNever must be handled by the caller
// (it drops the whole cache, not one entry).
func (ic *itemCache) put(key string, it cachedItem, ttl uint32) {
	d := gocache.NoExpiration
	if ttl != CacheForever {
		d = time.Duration(ttl) * time.Second
	}
	ic.c.Set(key, it, d)
}

func (ic *itemCache) flush() {
	ic.c.Flush()
}

func (ic *itemCache) len() int {
	return ic.c.ItemCount()
}
