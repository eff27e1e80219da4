package membership

import "context"

// Repository supplies the raw rows the resolver works from. Lookups by id
// set must be batched; the resolver never issues one query per group.
// Implementations own their retry policy; I/O failures propagate to the
// caller unretried.
type Repository interface {
	// DirectMemberships returns every stored membership row for the user,
	// including ended and not-yet-started ones.
	DirectMemberships(ctx context.Context, userID int64) ([]MembershipRow, error)

	// GroupsByIDs returns the groups whose ids are in the set. Missing ids
	// are simply absent from the result.
	GroupsByIDs(ctx context.Context, ids []int64) ([]*Group, error)

	// PermissionsForGroups returns the distinct permission strings granted
	// to any group in the id set.
	PermissionsForGroups(ctx context.Context, ids []int64) ([]string, error)

	// PermissionsForUser returns permission strings granted to the user
	// individually.
	PermissionsForUser(ctx context.Context, userID int64) ([]string, error)

	// InsertMembership stores a new direct membership row.
	InsertMembership(ctx context.Context, row MembershipRow) error

	// EndMemberships stamps endTime on the user's open memberships in the
	// group and reports how many rows were affected.
	EndMemberships(ctx context.Context, userID, groupID, endTime int64) (int64, error)
}
