package membership

import (
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openroster/rosterd/pkg/permission"
)

// cacheEntry memoizes one user's resolution. The permission tree is built
// lazily from the group map and lives in the same entry so both are dropped
// together on invalidation.
type cacheEntry struct {
	groups map[int64]*ResolvedMembership
	perms  *permission.Tree

	// nextTransition is the earliest future instant at which some resolved
	// window opens or closes, making the cached Active flags stale. Nil when
	// no window ever transitions.
	nextTransition *int64
}

// userCache memoizes resolutions per user id with LRU bounds. Entries are
// only ever replaced or dropped whole; mutation operations invalidate, they
// never patch.
type userCache struct {
	mu  sync.Mutex
	lru *lru.Cache[int64, *cacheEntry]
}

func newUserCache(size int) (*userCache, error) {
	c, err := lru.New[int64, *cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &userCache{lru: c}, nil
}

func (c *userCache) groups(userID int64) (map[int64]*ResolvedMembership, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(userID)
	if !ok {
		return nil, false
	}
	return entry.groups, true
}

func (c *userCache) putGroups(userID int64, groups map[int64]*ResolvedMembership, nextTransition *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(userID, &cacheEntry{groups: groups, nextTransition: nextTransition})
}

func (c *userCache) permissions(userID int64) (*permission.Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(userID)
	if !ok || entry.perms == nil {
		return nil, false
	}
	return entry.perms, true
}

// putPermissions attaches a compiled tree to the user's existing entry. A
// no-op when the group map has been invalidated since the tree was built.
func (c *userCache) putPermissions(userID int64, groups map[int64]*ResolvedMembership, tree *permission.Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Peek(userID)
	if !ok || !sameGroups(entry.groups, groups) {
		return
	}
	entry.perms = tree
}

func (c *userCache) invalidate(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(userID)
}

func (c *userCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// evictStale drops entries whose next window transition has passed, so the
// following resolution recomputes Active flags. Returns the eviction count.
func (c *userCache) evictStale(now int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted int
	for _, userID := range c.lru.Keys() {
		entry, ok := c.lru.Peek(userID)
		if !ok || entry.nextTransition == nil {
			continue
		}
		if *entry.nextTransition <= now {
			c.lru.Remove(userID)
			evicted++
		}
	}
	return evicted
}

// sameGroups reports whether two group maps are the same object, not merely
// equal. A tree built against a since-replaced map must never attach, even
// when both maps are empty.
func sameGroups(a, b map[int64]*ResolvedMembership) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// nextTransition computes the earliest future boundary among the resolved
// windows: a From that has not yet opened or a To that has not yet closed.
func nextTransition(groups map[int64]*ResolvedMembership, now int64) *int64 {
	var next *int64
	consider := func(t int64) {
		if t <= now {
			return
		}
		if next == nil || t < *next {
			v := t
			next = &v
		}
	}
	for _, m := range groups {
		consider(m.TimeFrom)
		if m.TimeTo != nil {
			// The window closes the instant after TimeTo.
			consider(*m.TimeTo + 1)
		}
	}
	return next
}
