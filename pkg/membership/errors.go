package membership

import "errors"

var (
	// ErrGroupNotJoinable is the refusal returned by AddToGroup when the
	// target group does not permit direct members.
	ErrGroupNotJoinable = errors.New("group does not accept direct members")

	// ErrGroupNotFound is returned when an operation names a group id that
	// does not exist.
	ErrGroupNotFound = errors.New("group not found")
)
