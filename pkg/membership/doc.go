// Package membership resolves a user's group memberships and permissions.
//
// Users hold direct memberships in groups; groups form a parent hierarchy.
// Resolution expands the direct memberships breadth-first through ancestor
// groups with one batched lookup per level, merges time-bounded validity
// windows across all contributing paths, renders parameterized display
// names, and aggregates the permissions of every currently active group
// into a wildcard-aware tree. Results are memoized per user and invalidated
// wholesale when a membership is added or ended.
package membership
