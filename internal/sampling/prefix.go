package sampling

import "strings"

// advance returns the part of remaining still owed after a token with the
// given text is emitted, and whether the token was consistent with it.
//
// A token that starts with remaining covers it. Otherwise the shortest split
// of remaining that accounts for the whole token is taken, which is only
// possible when the token text is itself a prefix of remaining.
func advance(remaining, text string) (string, bool) {
	switch {
	case remaining == "":
		return "", true
	case strings.HasPrefix(text, remaining):
		return "", true
	case text != "" && strings.HasPrefix(remaining, text):
		return remaining[len(text):], true
	default:
		return remaining, false
	}
}

// stopIndex returns the index of the first stop sequence that ends past
// prefixLen bytes of text, or -1. Sequences lying wholly inside the
// requested prefix do not count.
func stopIndex(text string, prefixLen int, stops []string) int {
	for i, stop := range stops {
		lo := max(0, prefixLen-len(stop)+1)
		if lo > len(text) {
			continue
		}
		if strings.Contains(text[lo:], stop) {
			return i
		}
	}
	return -1
}
