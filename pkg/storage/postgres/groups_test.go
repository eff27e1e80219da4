package postgres

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/rosterd/pkg/membership"
)

// newSQLiteStore backs the store with in-memory SQLite. The group
// administration queries use no Postgres-only constructs, so the same SQL
// runs on both engines. The schema mirrors the production referential
// actions, with FK enforcement on, so delete semantics are covered here.
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_fk=1")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name_base TEXT NOT NULL,
			name_display TEXT NOT NULL DEFAULT '',
			parent_id INTEGER REFERENCES groups(id) ON DELETE SET NULL,
			members_allowed BOOLEAN NOT NULL DEFAULT TRUE,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			searchable BOOLEAN NOT NULL DEFAULT FALSE,
			arg_names TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			group_id INTEGER NOT NULL,
			args TEXT NOT NULL DEFAULT '',
			time_from INTEGER NOT NULL,
			time_to INTEGER
		)`,
		`CREATE TABLE group_permissions (
			group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			PRIMARY KEY (group_id, permission)
		)`,
		`CREATE TABLE user_permissions (
			user_id INTEGER NOT NULL,
			permission TEXT NOT NULL,
			PRIMARY KEY (user_id, permission)
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return NewStore(db)
}

func TestGroupCRUD(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	parent := &membership.Group{NameBase: "Board", Searchable: true}
	require.NoError(t, store.CreateGroup(ctx, parent))
	assert.NotZero(t, parent.ID)

	child := &membership.Group{
		NameBase:       "Committee",
		NameDisplay:    "$1 committee",
		ParentID:       &parent.ID,
		MembersAllowed: true,
		ArgNames:       []string{"role"},
	}
	require.NoError(t, store.CreateGroup(ctx, child))

	got, err := store.GetGroup(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "Committee", got.NameBase)
	assert.Equal(t, "$1 committee", got.NameDisplay)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, parent.ID, *got.ParentID)
	assert.True(t, got.MembersAllowed)
	assert.Equal(t, []string{"role"}, got.ArgNames)

	got.NameBase = "Budget committee"
	got.Searchable = true
	require.NoError(t, store.UpdateGroup(ctx, got))
	updated, err := store.GetGroup(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "Budget committee", updated.NameBase)
	assert.True(t, updated.Searchable)

	require.NoError(t, store.DeleteGroup(ctx, child.ID))
	_, err = store.GetGroup(ctx, child.ID)
	assert.ErrorIs(t, err, membership.ErrGroupNotFound)
}

func TestDeleteGroup_ReferencedRows(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	parent := &membership.Group{NameBase: "Board", MembersAllowed: true}
	require.NoError(t, store.CreateGroup(ctx, parent))
	child := &membership.Group{NameBase: "Committee", ParentID: &parent.ID}
	require.NoError(t, store.CreateGroup(ctx, child))
	require.NoError(t, store.GrantGroupPermission(ctx, parent.ID, "reports.view"))
	require.NoError(t, store.InsertMembership(ctx, membership.MembershipRow{
		UserID: 1, GroupID: parent.ID, TimeFrom: 1000,
	}))

	// Deleting a group with children, grants and membership history must
	// succeed: grants cascade, children are orphaned, history is kept.
	require.NoError(t, store.DeleteGroup(ctx, parent.ID))

	orphan, err := store.GetGroup(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan.ParentID)

	var grants int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_permissions WHERE group_id = $1`, parent.ID).Scan(&grants))
	assert.Zero(t, grants)

	rows, err := store.DirectMemberships(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, parent.ID, rows[0].GroupID, "membership rows outlive the group")
}

func TestGetGroup_NotFound(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.GetGroup(context.Background(), 404)
	assert.ErrorIs(t, err, membership.ErrGroupNotFound)
}

func TestUpdateGroup_NotFound(t *testing.T) {
	store := newSQLiteStore(t)
	err := store.UpdateGroup(context.Background(), &membership.Group{ID: 404, NameBase: "x"})
	assert.ErrorIs(t, err, membership.ErrGroupNotFound)
}

func TestDeleteGroup_NotFound(t *testing.T) {
	store := newSQLiteStore(t)
	err := store.DeleteGroup(context.Background(), 404)
	assert.ErrorIs(t, err, membership.ErrGroupNotFound)
}

func TestListGroups(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGroup(ctx, &membership.Group{NameBase: "Visible", Searchable: true}))
	require.NoError(t, store.CreateGroup(ctx, &membership.Group{NameBase: "Hidden"}))

	all, err := store.ListGroups(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	searchable, err := store.ListGroups(ctx, true)
	require.NoError(t, err)
	require.Len(t, searchable, 1)
	assert.Equal(t, "Visible", searchable[0].NameBase)
}

func TestGroupPermissionGrants(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	g := &membership.Group{NameBase: "Board"}
	require.NoError(t, store.CreateGroup(ctx, g))

	require.NoError(t, store.GrantGroupPermission(ctx, g.ID, "reports.view"))
	// Granting twice is a no-op, not an error.
	require.NoError(t, store.GrantGroupPermission(ctx, g.ID, "reports.view"))

	// The batched lookup uses ANY(), which SQLite lacks; count directly.
	countPerms := func() int {
		var n int
		require.NoError(t, store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM group_permissions WHERE group_id = $1`, g.ID).Scan(&n))
		return n
	}
	assert.Equal(t, 1, countPerms())

	require.NoError(t, store.RevokeGroupPermission(ctx, g.ID, "reports.view"))
	require.NoError(t, store.RevokeGroupPermission(ctx, g.ID, "reports.view"))
	assert.Zero(t, countPerms())
}

func TestUserPermissionGrants(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.GrantUserPermission(ctx, 9, "profile.edit"))
	require.NoError(t, store.GrantUserPermission(ctx, 9, "profile.edit"))

	perms, err := store.PermissionsForUser(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{"profile.edit"}, perms)

	require.NoError(t, store.RevokeUserPermission(ctx, 9, "profile.edit"))
	perms, err = store.PermissionsForUser(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, perms)
}
