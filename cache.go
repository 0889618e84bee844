package bottica

import (
	"net/netip"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheKey ties a verdict to the registry generation it was computed
// under, so verdicts from replaced configurations are never served.
type cacheKey struct {
	bot        string
	ip         netip.Addr
	generation uint64
}

type cachedVerdict struct {
	verified bool
	checked  []string
	failed   string
}

// verdictCache keeps recent verdicts per bot, address and registry
// generation. A nil *verdictCache caches nothing.
type verdictCache struct {
	lru *expirable.LRU[cacheKey, cachedVerdict]
}

func newVerdictCache(size int, ttl time.Duration) *verdictCache {
	return &verdictCache{lru: expirable.NewLRU[cacheKey, cachedVerdict](size, nil, ttl)}
}

func (c *verdictCache) get(bot string, ip netip.Addr, generation uint64) (cachedVerdict, bool) {
	if c == nil {
		return cachedVerdict{}, false
	}
	v, ok := c.lru.Get(cacheKey{bot, ip, generation})
	if ok {
		v.checked = slices.Clone(v.checked)
	}
	return v, ok
}

func (c *verdictCache) add(bot string, ip netip.Addr, generation uint64, v Verdict) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey{bot, ip, generation}, cachedVerdict{
		verified: v.Verified,
		checked:  slices.Clone(v.Checked),
		failed:   v.Failed,
	})
}

func (c *verdictCache) purge() {
	if c != nil {
		c.lru.Purge()
	}
}

func (c *verdictCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
