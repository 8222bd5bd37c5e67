package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/store"
)

// ErrInvalidEmoji indicates an empty emoji symbol.
var ErrInvalidEmoji = errors.New("notes: invalid emoji")

// Reaction is one user's reaction with one emoji on one note. Reactions are
// stored as independent documents keyed by (note, user, emoji), so concurrent
// togglers never race on a shared map; the per-emoji user sets are derived.
type Reaction struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// ReactionLedgerConfig describes the dependencies of the reaction ledger.
type ReactionLedgerConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// ReactionLedger toggles and tallies per-note emoji reactions.
type ReactionLedger struct {
	store  store.Store
	logger *zap.Logger
}

// NewReactionLedger constructs a ReactionLedger.
func NewReactionLedger(cfg ReactionLedgerConfig) (*ReactionLedger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notes: %w", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ReactionLedger{store: cfg.Store, logger: logger}, nil
}

// Toggle adds the reaction if absent and removes it if present. Toggling the
// same (note, user, emoji) twice restores the prior state. A user may hold
// reactions with several emoji on the same note; toggling one never clears
// another.
func (l *ReactionLedger) Toggle(ctx context.Context, subjectID, noteID, userID, emoji string) error {
	if err := validateIdentifier(subjectID, ErrInvalidSubjectID); err != nil {
		return err
	}
	if err := validateIdentifier(noteID, ErrInvalidNoteID); err != nil {
		return err
	}
	if err := validateIdentifier(userID, ErrInvalidAuthorID); err != nil {
		return err
	}
	if emoji == "" {
		return ErrInvalidEmoji
	}

	path := ReactionsPath(subjectID)
	docID := reactionDocID(noteID, userID, emoji)

	_, err := l.store.Get(ctx, path, docID)
	if err == nil {
		return l.store.Delete(ctx, path, docID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("notes: reaction lookup: %w", err)
	}

	payload, err := json.Marshal(Reaction{NoteID: noteID, UserID: userID, Emoji: emoji})
	if err != nil {
		return fmt.Errorf("notes: encode reaction: %w", err)
	}
	return l.store.Set(ctx, path, docID, payload)
}

// DecodeReactions materializes reaction records from a collection snapshot,
// skipping documents that fail to decode.
func DecodeReactions(documents []store.Document) []Reaction {
	reactions := make([]Reaction, 0, len(documents))
	for _, document := range documents {
		var reaction Reaction
		if err := json.Unmarshal(document.Data, &reaction); err != nil {
			continue
		}
		reactions = append(reactions, reaction)
	}
	return reactions
}

// TallyReactions groups reactions per note as emoji → reacting user ids, in
// commit order.
func TallyReactions(reactions []Reaction) map[string]map[string][]string {
	tally := make(map[string]map[string][]string)
	for _, reaction := range reactions {
		perNote := tally[reaction.NoteID]
		if perNote == nil {
			perNote = make(map[string][]string)
			tally[reaction.NoteID] = perNote
		}
		perNote[reaction.Emoji] = append(perNote[reaction.Emoji], reaction.UserID)
	}
	return tally
}

func reactionDocID(noteID, userID, emoji string) string {
	return noteID + "|" + userID + "|" + emoji
}
