package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/openroster/rosterd/pkg/membership"
)

// Store implements the membership repository and the group administration
// operations over PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DirectMemberships returns every stored membership row for the user,
// including ended and not-yet-started ones.
func (s *Store) DirectMemberships(ctx context.Context, userID int64) ([]membership.MembershipRow, error) {
	query := `
		SELECT user_id, group_id, args, time_from, time_to
		FROM memberships
		WHERE user_id = $1
		ORDER BY time_from ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []membership.MembershipRow
	for rows.Next() {
		var row membership.MembershipRow
		var timeTo sql.NullInt64
		if err := rows.Scan(&row.UserID, &row.GroupID, &row.RawArgs, &row.TimeFrom, &timeTo); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if timeTo.Valid {
			to := timeTo.Int64
			row.TimeTo = &to
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GroupsByIDs fetches the groups in the id set with a single query. Ids
// without a matching row are absent from the result.
func (s *Store) GroupsByIDs(ctx context.Context, ids []int64) ([]*membership.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, name_base, name_display, parent_id, members_allowed, is_public, searchable, arg_names
		FROM groups
		WHERE id = ANY($1)
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}
	defer rows.Close()

	var out []*membership.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PermissionsForGroups returns the distinct permission strings granted to
// any group in the id set.
func (s *Store) PermissionsForGroups(ctx context.Context, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT permission FROM group_permissions WHERE group_id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group permissions: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// PermissionsForUser returns permission strings granted to the user
// individually.
func (s *Store) PermissionsForUser(ctx context.Context, userID int64) ([]string, error) {
	query := `SELECT permission FROM user_permissions WHERE user_id = $1`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user permissions: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// InsertMembership stores a new direct membership row.
func (s *Store) InsertMembership(ctx context.Context, row membership.MembershipRow) error {
	query := `
		INSERT INTO memberships (user_id, group_id, args, time_from, time_to)
		VALUES ($1, $2, $3, $4, $5)
	`
	var timeTo interface{}
	if row.TimeTo != nil {
		timeTo = *row.TimeTo
	}
	if _, err := s.db.ExecContext(ctx, query, row.UserID, row.GroupID, row.RawArgs, row.TimeFrom, timeTo); err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

// EndMemberships stamps endTime on the user's open memberships in the
// group. Rows are kept for history, never deleted.
func (s *Store) EndMemberships(ctx context.Context, userID, groupID, endTime int64) (int64, error) {
	query := `
		UPDATE memberships
		SET time_to = $3
		WHERE user_id = $1 AND group_id = $2 AND (time_to IS NULL OR time_to > $3)
	`
	result, err := s.db.ExecContext(ctx, query, userID, groupID, endTime)
	if err != nil {
		return 0, fmt.Errorf("failed to end memberships: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanGroup(scanner interface {
	Scan(dest ...interface{}) error
}) (*membership.Group, error) {
	var g membership.Group
	var parentID sql.NullInt64
	var argNamesJSON string

	err := scanner.Scan(
		&g.ID,
		&g.NameBase,
		&g.NameDisplay,
		&parentID,
		&g.MembersAllowed,
		&g.IsPublic,
		&g.Searchable,
		&argNamesJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}

	if parentID.Valid {
		id := parentID.Int64
		g.ParentID = &id
	}
	if argNamesJSON != "" {
		if err := json.Unmarshal([]byte(argNamesJSON), &g.ArgNames); err != nil {
			g.ArgNames = nil
		}
	}
	return &g, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
