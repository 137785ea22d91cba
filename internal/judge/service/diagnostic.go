package service

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxDiagnosticRunes = 500
	truncatedSuffix    = "... (truncated)"
	workdirToken       = "<workdir>"
)

// containerWorkDir matches the sandbox mount point at a path boundary.
var containerWorkDir = regexp.MustCompile(`(^|[\s'"(=:])/work(/|\b)`)

type diagnosticSanitizer struct {
	jobDir *regexp.Regexp
	base   string
}

func newDiagnosticSanitizer(baseDir string) *diagnosticSanitizer {
	s := &diagnosticSanitizer{}
	if baseDir == "" {
		return s
	}
	s.base = filepath.Clean(baseDir)
	s.jobDir = regexp.MustCompile(regexp.QuoteMeta(s.base) + `/[0-9a-fA-F-]{36}`)
	return s
}

// clean hides host and sandbox paths and bounds the length for display.
func (s *diagnosticSanitizer) clean(text string) string {
	if text == "" {
		return ""
	}
	if s.jobDir != nil {
		text = s.jobDir.ReplaceAllString(text, workdirToken)
		text = strings.ReplaceAll(text, s.base, workdirToken)
	}
	text = containerWorkDir.ReplaceAllString(text, "${1}"+workdirToken+"${2}")
	return truncate(text, maxDiagnosticRunes)
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + truncatedSuffix
}
