package gate

// InWindow reports whether hour falls inside the inclusive [start, end] window.
// A window with start > end wraps past midnight (22-2 covers 22, 23, 0, 1, 2).
func InWindow(hour, start, end int) bool {
	if start <= end {
		return start <= hour && hour <= end
	}
	return hour >= start || hour <= end
}
