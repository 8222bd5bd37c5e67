package mentions

import (
	"regexp"

	"github.com/talenthq/huddle/internal/directory"
)

// tagPattern accepts word characters plus the '.', '@' and '-' that occur in
// email-style handles.
var tagPattern = regexp.MustCompile(`@([\w.@-]+)`)

// Resolve scans the text for @-tag tokens and resolves each against the
// directory snapshot. A tag resolves only on exact match of a display name or
// email; prefix and fuzzy matches are deliberately not attempted, and
// unresolved tokens are dropped silently. Each user resolves at most once, in
// order of first appearance.
func Resolve(text string, entries []directory.Entry) []directory.Entry {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var resolved []directory.Entry
	for _, match := range matches {
		tag := match[1]
		for _, entry := range entries {
			if entry.DisplayName != tag && entry.Email != tag {
				continue
			}
			if _, already := seen[entry.UID]; already {
				break
			}
			seen[entry.UID] = struct{}{}
			resolved = append(resolved, entry)
			break
		}
	}
	return resolved
}
