package membership

import (
	"context"
	"fmt"
)

// expand walks the parent chain of the user's direct membership rows
// breadth-first, producing one ResolvedMembership per reachable group. Each
// level's ancestor groups are fetched in a single batched lookup. A group
// already present in the accumulated map is merged instead of re-expanded,
// which also bounds the walk on cyclic parent data.
func (s *Service) expand(ctx context.Context, rows []MembershipRow) (map[int64]*ResolvedMembership, error) {
	now := s.now()
	resolved := make(map[int64]*ResolvedMembership)

	level, err := s.expandDirect(ctx, rows, resolved, now)
	if err != nil {
		return nil, err
	}

	for len(level) > 0 {
		// Collect the parent ids this level needs, remembering which child
		// entries reach each parent. Parents already resolved through
		// another path are merged in place and not looked up again.
		wanted := make(map[int64][]*ResolvedMembership)
		var order []int64
		for _, child := range level {
			if child.Group.ParentID == nil {
				continue
			}
			pid := *child.Group.ParentID
			if pid == child.Group.ID {
				s.logger.WithField("group_id", pid).Warn("group is its own parent, ignoring")
				continue
			}
			if existing, ok := resolved[pid]; ok {
				s.mergePath(resolved, existing, child, now)
				continue
			}
			if _, ok := wanted[pid]; !ok {
				order = append(order, pid)
			}
			wanted[pid] = append(wanted[pid], child)
		}
		if len(order) == 0 {
			break
		}

		groups, err := s.repo.GroupsByIDs(ctx, order)
		if err != nil {
			s.countRepoError("groups_by_ids")
			return nil, fmt.Errorf("failed to fetch ancestor groups: %w", err)
		}
		byID := groupsByID(groups)

		next := make([]*ResolvedMembership, 0, len(order))
		for _, pid := range order {
			g, ok := byID[pid]
			if !ok {
				s.logger.WithField("group_id", pid).Warn("parent pointer references missing group, skipping")
				continue
			}
			children := wanted[pid]
			win := children[0].window()
			childIDs := []int64{children[0].Group.ID}
			for _, c := range children[1:] {
				win = win.merge(c.window())
				childIDs = append(childIDs, c.Group.ID)
			}
			entry := &ResolvedMembership{
				Group:    g,
				TimeFrom: win.From,
				TimeTo:   win.To,
				Active:   win.activeAt(now),
				Direct:   false,
				Children: childIDs,
				Name:     RenderDisplayName(g, nil),
			}
			resolved[pid] = entry
			next = append(next, entry)
		}
		level = next
	}

	return resolved, nil
}

// expandDirect resolves level zero: the user's own membership rows, grouped
// by group id with windows merged across rows for the same group. Returns
// the entries that seed the ancestor walk.
func (s *Service) expandDirect(ctx context.Context, rows []MembershipRow, resolved map[int64]*ResolvedMembership, now int64) ([]*ResolvedMembership, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	byGroup := make(map[int64][]MembershipRow, len(rows))
	var order []int64
	for _, row := range rows {
		if _, ok := byGroup[row.GroupID]; !ok {
			order = append(order, row.GroupID)
		}
		byGroup[row.GroupID] = append(byGroup[row.GroupID], row)
	}

	groups, err := s.repo.GroupsByIDs(ctx, order)
	if err != nil {
		s.countRepoError("groups_by_ids")
		return nil, fmt.Errorf("failed to fetch direct groups: %w", err)
	}
	byID := groupsByID(groups)

	level := make([]*ResolvedMembership, 0, len(order))
	for _, gid := range order {
		g, ok := byID[gid]
		if !ok {
			// Historical rows may reference deleted groups.
			s.logger.WithField("group_id", gid).Warn("membership references missing group, skipping")
			continue
		}
		grouped := byGroup[gid]
		win := Window{From: grouped[0].TimeFrom, To: grouped[0].TimeTo}
		latest := grouped[0]
		for _, row := range grouped[1:] {
			win = win.merge(Window{From: row.TimeFrom, To: row.TimeTo})
			if row.TimeFrom > latest.TimeFrom {
				latest = row
			}
		}
		// The most recently started row supplies the display arguments.
		args := ParseArgs(latest.RawArgs)
		entry := &ResolvedMembership{
			Group:    g,
			TimeFrom: win.From,
			TimeTo:   win.To,
			Active:   win.activeAt(now),
			Direct:   true,
			Name:     RenderDisplayName(g, args),
			Args:     args,
		}
		resolved[gid] = entry
		level = append(level, entry)
	}
	return level, nil
}

// mergePath folds another contributing path into an already-resolved group
// instead of expanding it again. Direct entries keep their nil Children. A
// revisit whose child already descends from dst is a cycle in the parent
// data, not a diamond, and gets a consistency warning.
func (s *Service) mergePath(resolved map[int64]*ResolvedMembership, dst, child *ResolvedMembership, now int64) {
	if descendsFrom(resolved, child, dst.Group.ID) {
		s.logger.WithField("group_id", dst.Group.ID).Warn("cycle in group hierarchy, merging instead of re-expanding")
	}
	win := dst.window().merge(child.window())
	dst.TimeFrom = win.From
	dst.TimeTo = win.To
	dst.Active = win.activeAt(now)
	if dst.Direct {
		return
	}
	for _, id := range dst.Children {
		if id == child.Group.ID {
			return
		}
	}
	dst.Children = append(dst.Children, child.Group.ID)
}

// descendsFrom reports whether target appears below m when walking Children
// links through the resolved entries.
func descendsFrom(resolved map[int64]*ResolvedMembership, m *ResolvedMembership, target int64) bool {
	seen := make(map[int64]bool)
	stack := append([]int64(nil), m.Children...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if entry, ok := resolved[id]; ok {
			stack = append(stack, entry.Children...)
		}
	}
	return false
}

func groupsByID(groups []*Group) map[int64]*Group {
	byID := make(map[int64]*Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	return byID
}
