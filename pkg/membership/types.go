package membership

// Group is a node in the group hierarchy. Groups are administered outside
// the resolution engine and are read-only from its perspective.
type Group struct {
	ID          int64  `json:"id"`
	NameBase    string `json:"name_base"`
	NameDisplay string `json:"name_display,omitempty"` // template with $1..$N placeholders
	ParentID    *int64 `json:"parent_id,omitempty"`

	// MembersAllowed gates direct joins; inherited reachability is not
	// affected by it.
	MembersAllowed bool `json:"members_allowed"`
	IsPublic       bool `json:"is_public"`
	Searchable     bool `json:"searchable"`

	// ArgNames labels the positional arguments of NameDisplay. Metadata
	// only; rendering goes purely by position.
	ArgNames []string `json:"arg_names,omitempty"`
}

// MembershipRow is a raw user-to-group edge as stored. Memberships are
// never deleted; ending one stamps TimeTo and keeps the row for history.
type MembershipRow struct {
	UserID   int64
	GroupID  int64
	TimeFrom int64  // epoch seconds
	TimeTo   *int64 // epoch seconds, nil means no expiry
	RawArgs  string // CSV-encoded positional argument values
}

// Window is a membership validity interval. A nil To means no expiry.
type Window struct {
	From int64
	To   *int64
}

// ResolvedMembership is one reachable group for one user, derived from the
// stored rows. There is at most one per group per user: multiple paths into
// the same group merge into a single entry.
type ResolvedMembership struct {
	Group    *Group `json:"group"`
	TimeFrom int64  `json:"time_from"`
	TimeTo   *int64 `json:"time_to,omitempty"`
	Active   bool   `json:"active"`
	Direct   bool   `json:"direct"`

	// Children lists the ids of the groups that led to this entry during
	// expansion. Nil for directly held groups.
	Children []int64 `json:"children,omitempty"`

	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}
