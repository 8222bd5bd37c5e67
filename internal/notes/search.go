package notes

import "strings"

// Filter returns the subsequence of notes whose text contains the query,
// case-insensitively, preserving the input order. An empty or whitespace-only
// query returns the input unmodified. Filter is a pure projection and never
// mutates the feed.
func Filter(notes []Note, query string) []Note {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return notes
	}
	needle := strings.ToLower(trimmed)
	var matched []Note
	for _, note := range notes {
		if strings.Contains(strings.ToLower(note.Text), needle) {
			matched = append(matched, note)
		}
	}
	return matched
}
