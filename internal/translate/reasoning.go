package translate

import (
	"regexp"
	"strings"
)

// Reasoning models wrap their chain of thought in <think> blocks. Some emit a
// malformed closing tag with a backslash, so both forms are removed.
var (
	thinkBlock          = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkBlockBackslash = regexp.MustCompile(`(?s)<think>.*?<\\think>`)
)

// StripReasoning removes every reasoning block from s and trims surrounding
// whitespace. Blocks may span lines; text between two blocks is kept.
func StripReasoning(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = thinkBlockBackslash.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
