package membership

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openroster/rosterd/pkg/observability"
	"github.com/openroster/rosterd/pkg/permission"
)

// DefaultCacheSize bounds the number of users whose resolutions are held in
// memory at once.
const DefaultCacheSize = 4096

// Service is the membership and permission resolution engine. All state
// shared across users lives behind the Repository; the per-user cache is
// the only in-process state and is safe for concurrent use.
type Service struct {
	repo    Repository
	cache   *userCache
	logger  *observability.Logger
	metrics *observability.Metrics
	flight  singleflight.Group

	// now is the clock used for Active computation; replaced in tests.
	now func() int64
}

// NewService creates a resolution service over the repository. metrics may
// be nil.
func NewService(repo Repository, logger *observability.Logger, cacheSize int, metrics *observability.Metrics) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := newUserCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership cache: %w", err)
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		now:     func() int64 { return time.Now().Unix() },
	}, nil
}

// ResolveGroups returns the user's full resolved membership map, one entry
// per reachable group, expanding through ancestor groups as needed. Repeat
// calls return the cached map until a membership mutation invalidates it;
// callers must not modify the result.
func (s *Service) ResolveGroups(ctx context.Context, userID int64) (map[int64]*ResolvedMembership, error) {
	if groups, ok := s.cache.groups(userID); ok {
		s.countCache(true)
		return groups, nil
	}
	s.countCache(false)

	// Concurrent first calls for the same user collapse into one expansion.
	v, err, _ := s.flight.Do(fmt.Sprintf("groups:%d", userID), func() (interface{}, error) {
		if groups, ok := s.cache.groups(userID); ok {
			return groups, nil
		}
		start := time.Now()
		rows, err := s.repo.DirectMemberships(ctx, userID)
		if err != nil {
			s.countRepoError("direct_memberships")
			return nil, fmt.Errorf("failed to load direct memberships: %w", err)
		}
		groups, err := s.expand(ctx, rows)
		if err != nil {
			return nil, err
		}
		// Cache only on full success; an abandoned expansion leaves no
		// partial state behind.
		s.cache.putGroups(userID, groups, nextTransition(groups, s.now()))
		s.observeResolution("groups", time.Since(start))
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]*ResolvedMembership), nil
}

// ResolvePermissions compiles the permission tree for the user: every
// permission string granted to a currently active reachable group, plus the
// user's individual grants.
func (s *Service) ResolvePermissions(ctx context.Context, userID int64) (*permission.Tree, error) {
	if tree, ok := s.cache.permissions(userID); ok {
		s.countCache(true)
		return tree, nil
	}
	s.countCache(false)

	v, err, _ := s.flight.Do(fmt.Sprintf("perms:%d", userID), func() (interface{}, error) {
		if tree, ok := s.cache.permissions(userID); ok {
			return tree, nil
		}
		groups, err := s.ResolveGroups(ctx, userID)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		var activeIDs []int64
		for id, m := range groups {
			if m.Active {
				activeIDs = append(activeIDs, id)
			}
		}

		tree := permission.NewTree()
		if len(activeIDs) > 0 {
			perms, err := s.repo.PermissionsForGroups(ctx, activeIDs)
			if err != nil {
				s.countRepoError("permissions_for_groups")
				return nil, fmt.Errorf("failed to load group permissions: %w", err)
			}
			for _, p := range perms {
				tree.Grant(p)
			}
		}
		userPerms, err := s.repo.PermissionsForUser(ctx, userID)
		if err != nil {
			s.countRepoError("permissions_for_user")
			return nil, fmt.Errorf("failed to load user permissions: %w", err)
		}
		for _, p := range userPerms {
			tree.Grant(p)
		}

		s.cache.putPermissions(userID, groups, tree)
		s.observeResolution("permissions", time.Since(start))
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*permission.Tree), nil
}

// HasPermission checks the user's resolved permission tree against a dotted
// permission path.
func (s *Service) HasPermission(ctx context.Context, userID int64, path string) (bool, error) {
	tree, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return tree.Has(path), nil
}

// AddToGroup adds the user to the group identified by id. The zero From
// means "now"; a nil To means no expiry. Returns ErrGroupNotFound for an
// unknown id and ErrGroupNotJoinable when the group has no direct members.
func (s *Service) AddToGroup(ctx context.Context, userID, groupID int64, args []string, from int64, to *int64) (*ResolvedMembership, error) {
	groups, err := s.repo.GroupsByIDs(ctx, []int64{groupID})
	if err != nil {
		s.countRepoError("groups_by_ids")
		return nil, fmt.Errorf("failed to fetch group %d: %w", groupID, err)
	}
	if len(groups) == 0 {
		return nil, ErrGroupNotFound
	}
	return s.AddToGroupRef(ctx, userID, groups[0], args, from, to)
}

// AddToGroupRef is AddToGroup for callers that already hold the group
// record.
func (s *Service) AddToGroupRef(ctx context.Context, userID int64, g *Group, args []string, from int64, to *int64) (*ResolvedMembership, error) {
	if !g.MembersAllowed {
		return nil, ErrGroupNotJoinable
	}
	if from == 0 {
		from = s.now()
	}
	row := MembershipRow{
		UserID:   userID,
		GroupID:  g.ID,
		TimeFrom: from,
		TimeTo:   to,
		RawArgs:  EncodeArgs(args),
	}
	if err := s.repo.InsertMembership(ctx, row); err != nil {
		s.countRepoError("insert_membership")
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}

	// A new membership can change ancestor windows transitively, so the
	// whole cached resolution is dropped rather than patched.
	s.cache.invalidate(userID)

	groups, err := s.ResolveGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	return groups[g.ID], nil
}

// EndMembership soft-ends the user's membership in the group by stamping
// its expiry, keeping the rows for history. Returns false when the user
// holds no open membership in the group.
func (s *Service) EndMembership(ctx context.Context, userID, groupID int64) (bool, error) {
	n, err := s.repo.EndMemberships(ctx, userID, groupID, s.now())
	if err != nil {
		s.countRepoError("end_memberships")
		return false, fmt.Errorf("failed to end membership: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.cache.invalidate(userID)
	return true, nil
}

// EndMembershipRef is EndMembership for callers that already hold the group
// record.
func (s *Service) EndMembershipRef(ctx context.Context, userID int64, g *Group) (bool, error) {
	return s.EndMembership(ctx, userID, g.ID)
}

// Invalidate drops the user's cached resolution, forcing a fresh expansion
// on the next call. Used by administrative flows that change a user's
// individual permission grants.
func (s *Service) Invalidate(userID int64) {
	s.cache.invalidate(userID)
}

// InvalidateAll clears every cached resolution. Used after group-level
// permission changes, which can affect any number of users.
func (s *Service) InvalidateAll() {
	s.cache.purge()
}

// EvictStale drops cached resolutions whose membership windows have crossed
// a boundary since they were built. Called by the janitor.
func (s *Service) EvictStale() int {
	n := s.cache.evictStale(s.now())
	if n > 0 && s.metrics != nil {
		s.metrics.CacheEvictionsTotal.Add(float64(n))
	}
	return n
}

func (s *Service) countRepoError(op string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RepositoryErrorsTotal.WithLabelValues(op).Inc()
}

func (s *Service) countCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHitsTotal.Inc()
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}
}

func (s *Service) observeResolution(op string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ResolutionsTotal.WithLabelValues(op).Inc()
	s.metrics.ResolutionDuration.WithLabelValues(op).Observe(d.Seconds())
}
