package membership

// merge combines validity windows from two paths into the same group. The
// earliest start wins, and the latest expiry wins unless either path has no
// expiry at all, in which case the merged window has none. A user retains
// inherited access to a group for as long as any contributing path is valid.
func (w Window) merge(other Window) Window {
	out := Window{From: w.From}
	if other.From < out.From {
		out.From = other.From
	}
	if w.To != nil && other.To != nil {
		to := *w.To
		if *other.To > to {
			to = *other.To
		}
		out.To = &to
	}
	return out
}

// activeAt reports whether the window covers the given time.
func (w Window) activeAt(now int64) bool {
	if w.From > now {
		return false
	}
	if w.To != nil && *w.To < now {
		return false
	}
	return true
}

func (m *ResolvedMembership) window() Window {
	return Window{From: m.TimeFrom, To: m.TimeTo}
}
