package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/store"
)

// Star marks a note as starred by one user. Existence of the record is the
// whole state: present means starred.
type Star struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
}

// StarLedgerConfig describes the dependencies of the star ledger.
type StarLedgerConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// StarLedger toggles per-(note, user) star records. Each writer touches a
// distinct key, so toggles never race across users.
type StarLedger struct {
	store  store.Store
	logger *zap.Logger
}

// NewStarLedger constructs a StarLedger.
func NewStarLedger(cfg StarLedgerConfig) (*StarLedger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notes: %w", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &StarLedger{store: cfg.Store, logger: logger}, nil
}

// Toggle stars the note for the user if unstarred, and unstars it otherwise.
func (l *StarLedger) Toggle(ctx context.Context, subjectID, noteID, userID string) error {
	if err := validateIdentifier(subjectID, ErrInvalidSubjectID); err != nil {
		return err
	}
	if err := validateIdentifier(noteID, ErrInvalidNoteID); err != nil {
		return err
	}
	if err := validateIdentifier(userID, ErrInvalidAuthorID); err != nil {
		return err
	}

	path := StarsPath(subjectID)
	docID := starDocID(noteID, userID)

	_, err := l.store.Get(ctx, path, docID)
	if err == nil {
		return l.store.Delete(ctx, path, docID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("notes: star lookup: %w", err)
	}

	payload, err := json.Marshal(Star{NoteID: noteID, UserID: userID})
	if err != nil {
		return fmt.Errorf("notes: encode star: %w", err)
	}
	return l.store.Set(ctx, path, docID, payload)
}

// DecodeStars materializes star records from a collection snapshot.
func DecodeStars(documents []store.Document) []Star {
	stars := make([]Star, 0, len(documents))
	for _, document := range documents {
		var star Star
		if err := json.Unmarshal(document.Data, &star); err != nil {
			continue
		}
		stars = append(stars, star)
	}
	return stars
}

// StarredNoteIDs returns the set of note ids the given user has starred.
func StarredNoteIDs(stars []Star, userID string) map[string]bool {
	starred := make(map[string]bool)
	for _, star := range stars {
		if star.UserID == userID {
			starred[star.NoteID] = true
		}
	}
	return starred
}

func starDocID(noteID, userID string) string {
	return noteID + "|" + userID
}
