// Package parser extracts usable payloads from raw model replies.
package parser

import (
	"regexp"
	"strings"
)

var (
	thinkingBlock = regexp.MustCompile(`(?s)<(thinking|think)>.*?</(thinking|think)>`)
	fencedBlock   = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n(.*?)```")
)

// StripThinking removes <thinking> and <think> blocks some models emit
// before their answer.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkingBlock.ReplaceAllString(s, ""))
}

// ExtractFenced returns the body of the first fenced code block, or the
// trimmed input when there is none.
func ExtractFenced(s string) string {
	s = StripThinking(s)
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the outermost {...} span of s, or s when no
// braces are present.
func ExtractJSONObject(s string) string {
	s = ExtractFenced(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}
