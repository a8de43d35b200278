package core

import (
	"regexp"
	"strings"
)

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)

// ExtractMentions returns every @token in body without the @ prefix.
// Order follows first occurrence in the text and duplicates are kept.
func ExtractMentions(body string) []string {
	matches := mentionRe.FindAllStringSubmatch(body, -1)
	mentions := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		mentions = append(mentions, match[1])
	}
	return mentions
}

// MentionedIn returns the names that appear in body as "@name".
// This is a plain substring check, compared without regard to case, and
// does not consult presence.
func MentionedIn(body string, names []string) []string {
	lowered := strings.ToLower(body)
	mentioned := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if strings.Contains(lowered, "@"+strings.ToLower(name)) {
			mentioned = append(mentioned, name)
		}
	}
	return mentioned
}

// ContainsName reports whether names contains value exactly.
func ContainsName(names []string, value string) bool {
	for _, name := range names {
		if name == value {
			return true
		}
	}
	return false
}
