package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/platform/envutil"
)

// defaultTTL is the cache lifetime when the caller passes none; overridable
// with HR_CACHE_TTL_SECONDS.
func defaultTTL() time.Duration {
	return time.Duration(envutil.Int("HR_CACHE_TTL_SECONDS", 300)) * time.Second
}

// CaseCache is a warm, read-through cache of HR cases keyed by
// (site_key, torrent_id). The scanning pipeline writes through it after every
// successful store write; the safety engine reads it before hitting the
// store so hot-path evaluations stay off the database.
type CaseCache interface {
	Get(ctx context.Context, siteKey, torrentID string) (*types.HRCase, bool)
	Set(ctx context.Context, c *types.HRCase)
	Invalidate(ctx context.Context, siteKey, torrentID string)
}

func cacheKey(siteKey, torrentID string) string {
	return siteKey + "/" + torrentID
}

type memoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache returns an in-process TTL cache.
func NewMemoryCache(ttl time.Duration) CaseCache {
	if ttl <= 0 {
		ttl = defaultTTL()
	}
	return &memoryCache{c: gocache.New(ttl, 2*ttl)}
}

func (m *memoryCache) Get(_ context.Context, siteKey, torrentID string) (*types.HRCase, bool) {
	v, ok := m.c.Get(cacheKey(siteKey, torrentID))
	if !ok {
		return nil, false
	}
	c, ok := v.(*types.HRCase)
	return c, ok
}

func (m *memoryCache) Set(_ context.Context, c *types.HRCase) {
	if c == nil {
		return
	}
	m.c.SetDefault(cacheKey(c.SiteKey, c.TorrentID), c)
}

func (m *memoryCache) Invalidate(_ context.Context, siteKey, torrentID string) {
	m.c.Delete(cacheKey(siteKey, torrentID))
}
