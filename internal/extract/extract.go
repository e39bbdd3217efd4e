// Package extract derives summaries, keyword matches, and vulnerability
// identifiers from fetched page text. Every function is pure.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default limits applied to change records.
const (
	DefaultSummaryLength = 500
	DefaultDetailLength  = 5000
)

const ellipsis = "..."

var whitespaceRun = regexp.MustCompile(`\s+`)

// MatchKeywords returns the patterns that match text. Each pattern is tried as
// a case-insensitive regular expression; patterns that do not compile fall
// back to a case-insensitive substring test. Input order is preserved and a
// pattern appears at most once.
func MatchKeywords(text string, patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	lowered := strings.ToLower(text)
	seen := make(map[string]struct{}, len(patterns))
	var matched []string
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		if _, dup := seen[pattern]; dup {
			continue
		}
		if !matchPattern(text, lowered, pattern) {
			continue
		}
		seen[pattern] = struct{}{}
		matched = append(matched, pattern)
	}
	return matched
}

func matchPattern(text, lowered, pattern string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return strings.Contains(lowered, strings.ToLower(pattern))
	}
	return re.MatchString(text)
}

// Summarize collapses whitespace runs to single spaces, trims, and truncates
// to maxLen characters with a trailing ellipsis. A non-positive maxLen uses
// DefaultSummaryLength.
func Summarize(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSummaryLength
	}
	summary := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(summary) <= maxLen {
		return summary
	}
	return truncateRunes(summary, maxLen) + ellipsis
}

// Detail caps text to maxLen characters without splitting a rune.
func Detail(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultDetailLength
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	return truncateRunes(text, maxLen)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
