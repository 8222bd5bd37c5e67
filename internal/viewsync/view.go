package viewsync

import (
	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/presence"
)

// View is the derived, consistent local state of one subject's collaboration
// session. It is rebuilt wholesale from the latest snapshots on every change;
// nothing in it is hand-patched.
type View struct {
	Candidate candidates.Candidate
	// Notes is the canonical feed in ascending creation order.
	Notes []notes.Note
	// Threads maps roots to replies; orphaned replies stay reachable.
	Threads *notes.ThreadIndex
	// Reactions tallies note id → emoji → reacting user ids.
	Reactions map[string]map[string][]string
	// Starred holds the note ids the session user has starred.
	Starred map[string]bool
	// Present lists users active within the presence TTL.
	Present []presence.Record
	// Typing lists users currently typing, excluding the session user.
	Typing []presence.Signal
	// Directory is the user listing cached for mention resolution and
	// avatar display.
	Directory []directory.Entry
	// Pending holds the session user's notifications not yet acknowledged
	// in this session. A new session re-fetches the full stream, so
	// delivery is at-least-once per subscription lifetime.
	Pending []mentions.Notification
}
