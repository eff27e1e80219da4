package membership

import (
	"context"
	"io"
	"testing"

	"github.com/openroster/rosterd/pkg/observability"
)

// fakeRepo is an in-memory Repository that records its batched lookups.
type fakeRepo struct {
	groups      map[int64]*Group
	memberships map[int64][]MembershipRow
	groupPerms  map[int64][]string
	userPerms   map[int64][]string

	directCalls int
	groupCalls  [][]int64
	err         error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		groups:      make(map[int64]*Group),
		memberships: make(map[int64][]MembershipRow),
		groupPerms:  make(map[int64][]string),
		userPerms:   make(map[int64][]string),
	}
}

func (r *fakeRepo) DirectMemberships(ctx context.Context, userID int64) ([]MembershipRow, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.directCalls++
	return r.memberships[userID], nil
}

func (r *fakeRepo) GroupsByIDs(ctx context.Context, ids []int64) ([]*Group, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.groupCalls = append(r.groupCalls, ids)
	var out []*Group
	for _, id := range ids {
		if g, ok := r.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepo) PermissionsForGroups(ctx context.Context, ids []int64) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		for _, p := range r.groupPerms[id] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) PermissionsForUser(ctx context.Context, userID int64) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.userPerms[userID], nil
}

func (r *fakeRepo) InsertMembership(ctx context.Context, row MembershipRow) error {
	if r.err != nil {
		return r.err
	}
	r.memberships[row.UserID] = append(r.memberships[row.UserID], row)
	return nil
}

func (r *fakeRepo) EndMemberships(ctx context.Context, userID, groupID, endTime int64) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	rows := r.memberships[userID]
	for i, row := range rows {
		if row.GroupID != groupID {
			continue
		}
		if row.TimeTo != nil && *row.TimeTo <= endTime {
			continue
		}
		to := endTime
		rows[i].TimeTo = &to
		n++
	}
	return n, nil
}

func newTestService(t *testing.T, repo Repository, now int64) *Service {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc, err := NewService(repo, logger, 16, nil)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	svc.now = func() int64 { return now }
	return svc
}

func ptr(v int64) *int64 {
	return &v
}
