package notes

import "sort"

// ThreadIndex derives the parent→replies mapping from a note listing. It is
// rebuilt on every change batch and never persisted. Reply order follows the
// listing order, which is chronological.
type ThreadIndex struct {
	replies map[string][]Note
	known   map[string]struct{}
}

// NewThreadIndex builds the index in a single pass over the notes.
func NewThreadIndex(notes []Note) *ThreadIndex {
	index := &ThreadIndex{
		replies: make(map[string][]Note),
		known:   make(map[string]struct{}, len(notes)),
	}
	for _, note := range notes {
		index.known[note.ID] = struct{}{}
	}
	for _, note := range notes {
		if note.ReplyTo == "" {
			continue
		}
		index.replies[note.ReplyTo] = append(index.replies[note.ReplyTo], note)
	}
	return index
}

// RepliesOf returns the direct replies to the given root, in creation order.
func (idx *ThreadIndex) RepliesOf(rootID string) []Note {
	replies := idx.replies[rootID]
	out := make([]Note, len(replies))
	copy(out, replies)
	return out
}

// Orphans returns replies whose root is not present in the listing, either
// because the root was deleted or has not arrived yet. Callers render these
// under a "deleted message" placeholder rather than hiding them.
func (idx *ThreadIndex) Orphans() []Note {
	var orphans []Note
	for rootID, replies := range idx.replies {
		if _, ok := idx.known[rootID]; ok {
			continue
		}
		orphans = append(orphans, replies...)
	}
	sort.SliceStable(orphans, func(i, j int) bool {
		if orphans[i].CreatedAtSeconds != orphans[j].CreatedAtSeconds {
			return orphans[i].CreatedAtSeconds < orphans[j].CreatedAtSeconds
		}
		return orphans[i].Seq < orphans[j].Seq
	})
	return orphans
}
