package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatehouse-io/gatehouse/internal/observability"
)

const cacheVersionKey = "authz:perm:version"

// DefaultCacheTTL bounds how long a resolved permission set may be served
// without recomputation even when no invalidation occurs.
const DefaultCacheTTL = 5 * time.Minute

// Cache is the versioned permission cache. Entry keys incorporate a global
// version counter; invalidation bumps the counter once instead of deleting
// scattered per-user keys, so every previously cached entry becomes
// unreachable in one atomic increment. The cache is an optimization, not
// authorization ground truth: redis failures degrade to misses and writes are
// best-effort.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCache instantiates the cache helper. A nil client disables caching and
// metrics may be nil.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

// version returns the current cache version, initialising it when missing.
func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		return c.initVersion(ctx)
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// initVersion seeds the version counter. SETNX keeps the write create-only: if
// an invalidation's INCR recreated the key between our read and this call, the
// bumped value wins and is re-read instead of being rolled backward.
func (c *Cache) initVersion(ctx context.Context) (int64, error) {
	created, err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Result()
	if err != nil {
		return 0, err
	}
	if created {
		return 1, nil
	}
	return c.client.Get(ctx, cacheVersionKey).Int64()
}

func (c *Cache) entryKey(ver, userID, scopeID int64) string {
	return fmt.Sprintf("authz:perm:%d:u%d:s%d", ver, userID, scopeID)
}

// GetUserPermissions reads the cached set for (user, scope) under the current
// version. The returned version is the one the lookup ran under; on a miss the
// caller passes it back to SetUserPermissions so the write lands under the
// version that was current before the caller hit storage. An invalidation
// bumping the counter in between leaves such a write under a dead version
// instead of publishing pre-invalidation data. The boolean is false on any
// miss, including entries written under an older version and redis being
// unreachable; the version is 0 when it could not be read.
func (c *Cache) GetUserPermissions(ctx context.Context, userID, scopeID int64) (PermissionSet, int64, bool) {
	if c == nil || c.client == nil {
		return nil, 0, false
	}
	ver, err := c.version(ctx)
	if err != nil {
		c.logger.Warn("permission cache version read", slog.Any("error", err))
		c.metrics.CacheLookup(false)
		return nil, 0, false
	}
	payload, err := c.client.Get(ctx, c.entryKey(ver, userID, scopeID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("permission cache read", slog.Any("error", err))
		}
		c.metrics.CacheLookup(false)
		return nil, ver, false
	}
	var codes []string
	if err := json.Unmarshal(payload, &codes); err != nil {
		c.logger.Warn("permission cache decode", slog.Any("error", err))
		c.metrics.CacheLookup(false)
		return nil, ver, false
	}
	c.metrics.CacheLookup(true)
	return NewPermissionSet(codes...), ver, true
}

// SetUserPermissions writes the resolved set under ver, the version captured
// by the GetUserPermissions miss that preceded the recomputation. The version
// is never re-read here. ver <= 0 means the miss never observed a version, so
// the write is skipped. Best-effort: failures are logged and swallowed.
func (c *Cache) SetUserPermissions(ctx context.Context, userID, scopeID, ver int64, perms PermissionSet) {
	if c == nil || c.client == nil || ver <= 0 {
		return
	}
	payload, err := json.Marshal(perms.Codes())
	if err != nil {
		c.logger.Warn("permission cache encode", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, c.entryKey(ver, userID, scopeID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("permission cache write", slog.Any("error", err))
	}
}

// InvalidateUser expires every cached permission set by bumping the global
// version. Deliberately coarse: one increment instead of enumerating the keys
// a role or permission change may have touched, at the cost of invalidating
// all users at once. The userID is recorded for log correlation only.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		c.logger.Warn("permission cache invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	c.logger.Debug("permission cache invalidated", slog.Int64("user_id", userID), slog.Int64("version", ver))
}
