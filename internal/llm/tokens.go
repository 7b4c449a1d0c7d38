package llm

import (
	"regexp"
	"strings"
)

// CountTokens approximates token usage by counting whitespace separated words.
// It is only used for upstreams that report no usage of their own.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

var tokenPattern = regexp.MustCompile(`\s+|\S+`)

// SplitTokens cuts text into alternating runs of whitespace and non-whitespace.
// Joining the result gives back text exactly.
func SplitTokens(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}
