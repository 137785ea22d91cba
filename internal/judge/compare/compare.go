// Package compare implements the judge output normalization and comparison rules.
package compare

import "strings"

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize canonicalizes program output: line endings become \n, every line
// is trimmed, blank lines are dropped and the rest is joined with \n.
func Normalize(s string) string {
	s = strings.TrimSpace(lineEndings.Replace(s))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Matches reports whether actual equals expected after normalization.
func Matches(expected, actual string) bool {
	return Normalize(expected) == Normalize(actual)
}
