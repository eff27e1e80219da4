package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/rosterd/pkg/observability"
)

func TestNewJanitor_BadSchedule(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), 1000)
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	_, err := NewJanitor(svc, "not a cron spec", logger)
	require.Error(t, err)
}

func TestJanitorSweep(t *testing.T) {
	repo := newFakeRepo()
	repo.groups[5] = &Group{ID: 5, NameBase: "Board", MembersAllowed: true}
	repo.memberships[1] = []MembershipRow{
		{UserID: 1, GroupID: 5, TimeFrom: 1000, TimeTo: ptr(2000)},
	}
	svc := newTestService(t, repo, 1500)

	_, err := svc.ResolveGroups(context.Background(), 1)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	j, err := NewJanitor(svc, "@every 1m", logger)
	require.NoError(t, err)

	// Nothing stale yet.
	j.sweep()
	assert.Equal(t, 1, repo.directCalls)

	// Cross the window boundary and sweep again.
	svc.now = func() int64 { return 2001 }
	j.sweep()

	groups, err := svc.ResolveGroups(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, groups[5].Active)
	assert.Equal(t, 2, repo.directCalls, "sweep forced a fresh expansion")
}
