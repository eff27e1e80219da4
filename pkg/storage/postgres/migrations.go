package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the rosterd tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id BIGSERIAL PRIMARY KEY,
			name_base TEXT NOT NULL,
			name_display TEXT NOT NULL DEFAULT '',
			parent_id BIGINT REFERENCES groups(id) ON DELETE SET NULL,
			members_allowed BOOLEAN NOT NULL DEFAULT TRUE,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			searchable BOOLEAN NOT NULL DEFAULT FALSE,
			arg_names TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			-- No FK on group_id: membership rows are history and must
			-- outlive their group; the resolver skips rows whose group is
			-- gone.
			group_id BIGINT NOT NULL,
			args TEXT NOT NULL DEFAULT '',
			time_from BIGINT NOT NULL,
			time_to BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id)`,
		`CREATE TABLE IF NOT EXISTS group_permissions (
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			PRIMARY KEY (group_id, permission)
		)`,
		`CREATE TABLE IF NOT EXISTS user_permissions (
			user_id BIGINT NOT NULL,
			permission TEXT NOT NULL,
			PRIMARY KEY (user_id, permission)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
