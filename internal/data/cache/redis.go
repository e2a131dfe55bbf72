package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/seedguard/seedguard/internal/domain"
	"github.com/seedguard/seedguard/internal/platform/envutil"
	"github.com/seedguard/seedguard/internal/platform/logger"
)

type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisCache connects to REDIS_ADDR and stores cases as JSON under
// "hrcase:<site>/<torrent>". Use it when several processes share one store.
func NewRedisCache(log *logger.Logger, ttl time.Duration) (CaseCache, error) {
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if ttl <= 0 {
		ttl = defaultTTL()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisCache{
		log: log.With("service", "RedisCaseCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (r *redisCache) key(siteKey, torrentID string) string {
	return "hrcase:" + cacheKey(siteKey, torrentID)
}

func (r *redisCache) Get(ctx context.Context, siteKey, torrentID string) (*types.HRCase, bool) {
	raw, err := r.rdb.Get(ctx, r.key(siteKey, torrentID)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			r.log.Debug("case cache get failed", "site", siteKey, "torrent", torrentID, "err", err)
		}
		return nil, false
	}
	var c types.HRCase
	if err := json.Unmarshal(raw, &c); err != nil {
		r.log.Warn("case cache entry corrupt, dropping", "site", siteKey, "torrent", torrentID, "err", err)
		r.rdb.Del(ctx, r.key(siteKey, torrentID))
		return nil, false
	}
	return &c, true
}

func (r *redisCache) Set(ctx context.Context, c *types.HRCase) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		r.log.Warn("case cache marshal failed", "site", c.SiteKey, "torrent", c.TorrentID, "err", err)
		return
	}
	if err := r.rdb.Set(ctx, r.key(c.SiteKey, c.TorrentID), raw, r.ttl).Err(); err != nil {
		r.log.Debug("case cache set failed", "site", c.SiteKey, "torrent", c.TorrentID, "err", err)
	}
}

func (r *redisCache) Invalidate(ctx context.Context, siteKey, torrentID string) {
	r.rdb.Del(ctx, r.key(siteKey, torrentID))
}
