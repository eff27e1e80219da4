package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openroster/rosterd/pkg/membership"
)

// CreateGroup creates a new group
func (s *Store) CreateGroup(ctx context.Context, g *membership.Group) error {
	argNames, err := json.Marshal(g.ArgNames)
	if err != nil {
		return fmt.Errorf("failed to marshal arg names: %w", err)
	}
	query := `
		INSERT INTO groups (name_base, name_display, parent_id, members_allowed, is_public, searchable, arg_names)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		g.NameBase,
		g.NameDisplay,
		g.ParentID,
		g.MembersAllowed,
		g.IsPublic,
		g.Searchable,
		string(argNames),
	).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, id int64) (*membership.Group, error) {
	query := `
		SELECT id, name_base, name_display, parent_id, members_allowed, is_public, searchable, arg_names
		FROM groups
		WHERE id = $1
	`
	g, err := scanGroup(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, membership.ErrGroupNotFound
		}
		return nil, err
	}
	return g, nil
}

// UpdateGroup updates a group's fields
func (s *Store) UpdateGroup(ctx context.Context, g *membership.Group) error {
	argNames, err := json.Marshal(g.ArgNames)
	if err != nil {
		return fmt.Errorf("failed to marshal arg names: %w", err)
	}
	query := `
		UPDATE groups
		SET name_base = $1, name_display = $2, parent_id = $3, members_allowed = $4, is_public = $5, searchable = $6, arg_names = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		g.NameBase,
		g.NameDisplay,
		g.ParentID,
		g.MembersAllowed,
		g.IsPublic,
		g.Searchable,
		string(argNames),
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return membership.ErrGroupNotFound
	}
	return nil
}

// DeleteGroup deletes a group. Its grants cascade away and child groups
// become roots; membership rows referencing it are kept for history, and
// the resolver skips rows whose group is gone.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return membership.ErrGroupNotFound
	}
	return nil
}

// ListGroups lists groups, optionally restricted to searchable ones.
func (s *Store) ListGroups(ctx context.Context, onlySearchable bool) ([]*membership.Group, error) {
	query := `
		SELECT id, name_base, name_display, parent_id, members_allowed, is_public, searchable, arg_names
		FROM groups
	`
	if onlySearchable {
		query += ` WHERE searchable = TRUE`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
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

// GrantGroupPermission grants a permission string to a group
func (s *Store) GrantGroupPermission(ctx context.Context, groupID int64, perm string) error {
	query := `
		INSERT INTO group_permissions (group_id, permission)
		VALUES ($1, $2)
		ON CONFLICT (group_id, permission) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, groupID, perm); err != nil {
		return fmt.Errorf("failed to grant group permission: %w", err)
	}
	return nil
}

// RevokeGroupPermission revokes a permission string from a group
func (s *Store) RevokeGroupPermission(ctx context.Context, groupID int64, perm string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM group_permissions WHERE group_id = $1 AND permission = $2`, groupID, perm); err != nil {
		return fmt.Errorf("failed to revoke group permission: %w", err)
	}
	return nil
}

// GrantUserPermission grants an individual permission string to a user
func (s *Store) GrantUserPermission(ctx context.Context, userID int64, perm string) error {
	query := `
		INSERT INTO user_permissions (user_id, permission)
		VALUES ($1, $2)
		ON CONFLICT (user_id, permission) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, perm); err != nil {
		return fmt.Errorf("failed to grant user permission: %w", err)
	}
	return nil
}

// RevokeUserPermission revokes an individual permission string from a user
func (s *Store) RevokeUserPermission(ctx context.Context, userID int64, perm string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission = $2`, userID, perm); err != nil {
		return fmt.Errorf("failed to revoke user permission: %w", err)
	}
	return nil
}
