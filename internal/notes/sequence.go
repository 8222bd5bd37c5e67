package notes

import (
	"sort"
	"sync"

	"github.com/talenthq/huddle/internal/store"
)

// Sequence is the local, ordered view of one subject's note feed. It is a
// read-through cache rebuilt wholesale from each remote snapshot, never
// patched incrementally, so duplicate or out-of-order snapshot delivery
// cannot corrupt it.
type Sequence struct {
	mu    sync.RWMutex
	notes []Note
	byID  map[string]Note
}

// NewSequence returns an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{byID: make(map[string]Note)}
}

// ApplyRemoteBatch replaces the sequence with the snapshot contents.
// Re-applying the same snapshot produces identical state.
func (s *Sequence) ApplyRemoteBatch(documents []store.Document) error {
	rebuilt := make([]Note, 0, len(documents))
	index := make(map[string]Note, len(documents))
	for _, document := range documents {
		note, err := DecodeNote(document)
		if err != nil {
			return err
		}
		rebuilt = append(rebuilt, note)
		index[note.ID] = note
	}
	sort.SliceStable(rebuilt, func(i, j int) bool {
		if rebuilt[i].CreatedAtSeconds != rebuilt[j].CreatedAtSeconds {
			return rebuilt[i].CreatedAtSeconds < rebuilt[j].CreatedAtSeconds
		}
		return rebuilt[i].Seq < rebuilt[j].Seq
	})

	s.mu.Lock()
	s.notes = rebuilt
	s.byID = index
	s.mu.Unlock()
	return nil
}

// Notes returns the notes in ascending creation order.
func (s *Sequence) Notes() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Note, len(s.notes))
	copy(out, s.notes)
	return out
}

// Get looks a note up by id.
func (s *Sequence) Get(noteID string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.byID[noteID]
	return note, ok
}

// Pinned returns the pinned notes in creation order.
func (s *Sequence) Pinned() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pinned []Note
	for _, note := range s.notes {
		if note.Pinned {
			pinned = append(pinned, note)
		}
	}
	return pinned
}

// Len reports the number of notes currently cached.
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}
