package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/rosterd/pkg/membership"
)

// countingRepo stands in for the Postgres store and counts round trips.
type countingRepo struct {
	groups      map[int64]*membership.Group
	memberships map[int64][]membership.MembershipRow
	groupPerms  map[int64][]string
	userPerms   map[int64][]string

	directCalls int
	groupCalls  int
	permCalls   int
}

func (r *countingRepo) DirectMemberships(ctx context.Context, userID int64) ([]membership.MembershipRow, error) {
	r.directCalls++
	return r.memberships[userID], nil
}

func (r *countingRepo) GroupsByIDs(ctx context.Context, ids []int64) ([]*membership.Group, error) {
	r.groupCalls++
	var out []*membership.Group
	for _, id := range ids {
		if g, ok := r.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *countingRepo) PermissionsForGroups(ctx context.Context, ids []int64) ([]string, error) {
	r.permCalls++
	var out []string
	for _, id := range ids {
		out = append(out, r.groupPerms[id]...)
	}
	return out, nil
}

func (r *countingRepo) PermissionsForUser(ctx context.Context, userID int64) ([]string, error) {
	r.permCalls++
	return r.userPerms[userID], nil
}

func (r *countingRepo) InsertMembership(ctx context.Context, row membership.MembershipRow) error {
	r.memberships[row.UserID] = append(r.memberships[row.UserID], row)
	return nil
}

func (r *countingRepo) EndMemberships(ctx context.Context, userID, groupID, endTime int64) (int64, error) {
	var n int64
	rows := r.memberships[userID]
	for i, row := range rows {
		if row.GroupID == groupID && row.TimeTo == nil {
			to := endTime
			rows[i].TimeTo = &to
			n++
		}
	}
	return n, nil
}

func newTestCache(t *testing.T) (*RedisCache, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := &countingRepo{
		groups:      make(map[int64]*membership.Group),
		memberships: make(map[int64][]membership.MembershipRow),
		groupPerms:  make(map[int64][]string),
		userPerms:   make(map[int64][]string),
	}
	cache, err := NewRedisCache(repo, client)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, repo, mr
}

func TestRedisCache_DirectMemberships(t *testing.T) {
	cache, repo, _ := newTestCache(t)
	ctx := context.Background()

	repo.memberships[1] = []membership.MembershipRow{
		{UserID: 1, GroupID: 5, TimeFrom: 1000},
	}

	first, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.directCalls, "second read served from Redis")
}

func TestRedisCache_GroupsByIDs_PartialHit(t *testing.T) {
	cache, repo, _ := newTestCache(t)
	ctx := context.Background()

	repo.groups[5] = &membership.Group{ID: 5, NameBase: "Board"}
	repo.groups[7] = &membership.Group{ID: 7, NameBase: "Committee"}

	// Warm group 5 only.
	out, err := cache.GroupsByIDs(ctx, []int64{5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, repo.groupCalls)

	// Mixed request: 5 comes from Redis, 7 from the repo in one batch.
	out, err = cache.GroupsByIDs(ctx, []int64{5, 7})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2, repo.groupCalls)

	names := []string{out[0].NameBase, out[1].NameBase}
	assert.ElementsMatch(t, []string{"Board", "Committee"}, names)

	// Fully warm now.
	_, err = cache.GroupsByIDs(ctx, []int64{5, 7})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.groupCalls)
}

func TestRedisCache_PermissionsForGroups_KeyOrderInsensitive(t *testing.T) {
	cache, repo, _ := newTestCache(t)
	ctx := context.Background()

	repo.groupPerms[5] = []string{"reports.view"}

	first, err := cache.PermissionsForGroups(ctx, []int64{5, 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"reports.view"}, first)

	// Same set in a different order hits the same key.
	second, err := cache.PermissionsForGroups(ctx, []int64{7, 5})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.permCalls)
}

func TestRedisCache_InsertInvalidatesUser(t *testing.T) {
	cache, repo, _ := newTestCache(t)
	ctx := context.Background()

	repo.memberships[1] = []membership.MembershipRow{
		{UserID: 1, GroupID: 5, TimeFrom: 1000},
	}
	_, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)

	err = cache.InsertMembership(ctx, membership.MembershipRow{UserID: 1, GroupID: 7, TimeFrom: 2000})
	require.NoError(t, err)

	rows, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "stale cached rows dropped on write")
	assert.Equal(t, 2, repo.directCalls)
}

func TestRedisCache_EndInvalidatesUser(t *testing.T) {
	cache, repo, _ := newTestCache(t)
	ctx := context.Background()

	repo.memberships[1] = []membership.MembershipRow{
		{UserID: 1, GroupID: 5, TimeFrom: 1000},
	}
	_, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)

	n, err := cache.EndMemberships(ctx, 1, 5, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].TimeTo)
	assert.Equal(t, int64(2500), *rows[0].TimeTo)
}

func TestRedisCache_EndWithoutRowsKeepsCache(t *testing.T) {
	cache, repo, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)

	n, err := cache.EndMemberships(ctx, 1, 99, 2500)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.directCalls, "no-op end leaves the cache warm")
}

func TestRedisCache_SurvivesRedisFlush(t *testing.T) {
	cache, repo, mr := newTestCache(t)
	ctx := context.Background()

	repo.memberships[1] = []membership.MembershipRow{
		{UserID: 1, GroupID: 5, TimeFrom: 1000},
	}
	_, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)

	mr.FlushAll()

	rows, err := cache.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, repo.directCalls)
}
