package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openroster/rosterd/pkg/membership"
)

// RedisCache is a read-through cache over a membership repository. Group
// rows and permission sets are cached with per-kind TTLs; membership rows
// for a user are invalidated whenever that user's memberships change.
// Group and permission administration bypasses this layer, so those caches
// rely on TTL expiry.
type RedisCache struct {
	repo  membership.Repository
	redis *redis.Client
	ttl   map[string]time.Duration
}

// NewRedisCache creates a new Redis cache layer over the repository.
func NewRedisCache(repo membership.Repository, client *redis.Client) (*RedisCache, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{
		repo:  repo,
		redis: client,
		ttl: map[string]time.Duration{
			"group":       15 * time.Minute,
			"memberships": 5 * time.Minute,
			"permissions": 5 * time.Minute,
		},
	}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}

// DirectMemberships returns the user's membership rows with caching.
func (c *RedisCache) DirectMemberships(ctx context.Context, userID int64) ([]membership.MembershipRow, error) {
	key := fmt.Sprintf("memberships:user:%d", userID)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var rows []membership.MembershipRow
		if err := json.Unmarshal([]byte(cached), &rows); err == nil {
			return rows, nil
		}
	}

	rows, err := c.repo.DirectMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rows); err == nil {
		c.redis.Set(ctx, key, data, c.ttl["memberships"])
	}
	return rows, nil
}

// GroupsByIDs returns groups with per-group caching; only the missing ones
// hit the underlying repository, still as a single batch.
func (c *RedisCache) GroupsByIDs(ctx context.Context, ids []int64) ([]*membership.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf("group:%d", id)
	}
	cached, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		cached = make([]interface{}, len(ids))
	}

	var out []*membership.Group
	var missing []int64
	for i, raw := range cached {
		text, ok := raw.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var g membership.Group
		if err := json.Unmarshal([]byte(text), &g); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		out = append(out, &g)
	}

	if len(missing) > 0 {
		groups, err := c.repo.GroupsByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if data, err := json.Marshal(g); err == nil {
				c.redis.Set(ctx, fmt.Sprintf("group:%d", g.ID), data, c.ttl["group"])
			}
		}
		out = append(out, groups...)
	}
	return out, nil
}

// PermissionsForGroups returns the permission strings for the id set with
// caching keyed on the sorted set.
func (c *RedisCache) PermissionsForGroups(ctx context.Context, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	key := permsKey(ids)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var perms []string
		if err := json.Unmarshal([]byte(cached), &perms); err == nil {
			return perms, nil
		}
	}

	perms, err := c.repo.PermissionsForGroups(ctx, ids)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(perms); err == nil {
		c.redis.Set(ctx, key, data, c.ttl["permissions"])
	}
	return perms, nil
}

// PermissionsForUser returns the user's individual permissions with
// caching.
func (c *RedisCache) PermissionsForUser(ctx context.Context, userID int64) ([]string, error) {
	key := fmt.Sprintf("permissions:user:%d", userID)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var perms []string
		if err := json.Unmarshal([]byte(cached), &perms); err == nil {
			return perms, nil
		}
	}

	perms, err := c.repo.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(perms); err == nil {
		c.redis.Set(ctx, key, data, c.ttl["permissions"])
	}
	return perms, nil
}

// InsertMembership writes through and invalidates the user's cached rows.
func (c *RedisCache) InsertMembership(ctx context.Context, row membership.MembershipRow) error {
	if err := c.repo.InsertMembership(ctx, row); err != nil {
		return err
	}
	c.invalidateUser(ctx, row.UserID)
	return nil
}

// EndMemberships writes through and invalidates the user's cached rows.
func (c *RedisCache) EndMemberships(ctx context.Context, userID, groupID, endTime int64) (int64, error) {
	n, err := c.repo.EndMemberships(ctx, userID, groupID, endTime)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidateUser(ctx, userID)
	}
	return n, nil
}

func (c *RedisCache) invalidateUser(ctx context.Context, userID int64) {
	c.redis.Del(ctx,
		fmt.Sprintf("memberships:user:%d", userID),
		fmt.Sprintf("permissions:user:%d", userID),
	)
}

func permsKey(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "permissions:groups:" + strings.Join(parts, ",")
}
