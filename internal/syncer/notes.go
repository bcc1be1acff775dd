package syncer

import "strings"

// NoteDelta extracts what was added to a notes field between previous and
// current. ServiceNow prepends new journal entries, so the usual case is a
// current value ending with previous. Appended growth is handled too. Any
// other change (no growth, truncation, concurrent edits) yields ok=false and
// nothing is pushed.
func NoteDelta(previous, current string) (delta string, ok bool) {
	if previous == "" {
		delta = strings.TrimSpace(current)
		return delta, delta != ""
	}
	if len(current) <= len(previous) {
		return "", false
	}
	switch {
	case strings.HasSuffix(current, previous):
		delta = current[:len(current)-len(previous)]
	case strings.HasPrefix(current, previous):
		delta = current[len(previous):]
	default:
		return "", false
	}
	delta = strings.TrimSpace(delta)
	return delta, delta != ""
}
