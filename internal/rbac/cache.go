package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const accessCacheVersionKey = "rbac:access:version"

// Cache stores evaluated Access snapshots in Redis. Every mutation bumps a
// global version so stale snapshots are never read again.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, accessCacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, accessCacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, accessCacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) key(ver, userID int64) string {
	return fmt.Sprintf("rbac:access:user:%d:v%d", userID, ver)
}

// Load returns the cached snapshot for the user when present, together with
// the version it was looked up under. A snapshot computed after a miss must
// be stored under that version.
func (c *Cache) Load(ctx context.Context, userID int64) (Access, int64, bool, error) {
	if c == nil || c.client == nil {
		return Access{}, 0, false, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return Access{}, 0, false, err
	}
	raw, err := c.client.Get(ctx, c.key(ver, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Access{}, ver, false, nil
	}
	if err != nil {
		return Access{}, 0, false, err
	}
	var access Access
	if err := json.Unmarshal(raw, &access); err != nil {
		return Access{}, ver, false, err
	}
	return access, ver, true, nil
}

// Store writes the snapshot under ver.
func (c *Cache) Store(ctx context.Context, ver int64, access Access) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(access)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ver, access.UserID), raw, c.ttl).Err()
}

// Invalidate bumps the version, orphaning every cached snapshot.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, accessCacheVersionKey).Err()
}
