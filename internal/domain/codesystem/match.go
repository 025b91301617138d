package codesystem

import "strings"

// MatchClass orders text matches from strongest to weakest.
type MatchClass int

const (
	MatchExact MatchClass = iota
	MatchPrefix
	MatchSubstring
)

// Fold normalizes text for case-insensitive matching. Whitespace is kept.
func Fold(s string) string {
	return strings.ToLower(s)
}

// Classify reports whether folded display text contains the folded filter
// and how strongly it matches. An empty filter matches everything as a
// substring.
func Classify(display, filter string) (MatchClass, bool) {
	if filter == "" {
		return MatchSubstring, true
	}
	i := strings.Index(display, filter)
	switch {
	case i < 0:
		return 0, false
	case display == filter:
		return MatchExact, true
	case i == 0:
		return MatchPrefix, true
	default:
		return MatchSubstring, true
	}
}
