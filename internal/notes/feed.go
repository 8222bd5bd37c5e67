package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/store"
)

var (
	errMissingStore = errors.New("document store is required")
	noOpLogger      = zap.NewNop()
)

// Notifier receives every successfully committed note so mention fan-out can
// run. Fan-out is deliberately not transactional with the note write: a note
// can land with its notifications missing, never the other way around.
type Notifier interface {
	NoteSent(ctx context.Context, note Note)
}

// FeedConfig describes the dependencies of the note feed.
type FeedConfig struct {
	Store    store.Store
	Logger   *zap.Logger
	Notifier Notifier
}

// Feed performs the remote write operations of a subject's note sequence.
// Reads go through Sequence, which is fed from the store subscription.
type Feed struct {
	store    store.Store
	logger   *zap.Logger
	notifier Notifier
}

// NewFeed constructs a Feed.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notes: %w", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Feed{store: cfg.Store, logger: logger, notifier: cfg.Notifier}, nil
}

// Append validates and commits a new note, then hands it to the notifier for
// mention fan-out. The returned id is server-assigned.
func (f *Feed) Append(ctx context.Context, subjectID string, draft Draft) (string, error) {
	if err := validateIdentifier(subjectID, ErrInvalidSubjectID); err != nil {
		return "", err
	}
	if err := draft.validate(); err != nil {
		return "", err
	}

	note := Note{
		SubjectID:     subjectID,
		AuthorID:      draft.AuthorID,
		Text:          draft.Text,
		ReplyTo:       draft.ReplyTo,
		AttachmentURL: draft.AttachmentURL,
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return "", fmt.Errorf("notes: encode draft: %w", err)
	}

	noteID, err := f.store.Put(ctx, FeedPath(subjectID), payload)
	if err != nil {
		return "", fmt.Errorf("notes: append: %w", err)
	}
	note.ID = noteID

	if f.notifier != nil {
		f.notifier.NoteSent(ctx, note)
	}
	return noteID, nil
}

// Edit replaces the note text. Only the author may edit.
func (f *Feed) Edit(ctx context.Context, subjectID, noteID, actorID, newText string) error {
	if len([]rune(newText)) == 0 {
		return ErrEmptyText
	}
	note, err := f.load(ctx, subjectID, noteID)
	if err != nil {
		return err
	}
	if note.AuthorID != actorID {
		return ErrNotAuthor
	}
	if err := f.store.Update(ctx, FeedPath(subjectID), noteID, map[string]any{"text": newText}); err != nil {
		return fmt.Errorf("notes: edit: %w", err)
	}
	return nil
}

// Delete removes the note. Only the author may delete. Replies to the deleted
// note are left in place with a now-dangling reply_to; the thread index
// surfaces them as orphans.
func (f *Feed) Delete(ctx context.Context, subjectID, noteID, actorID string) error {
	note, err := f.load(ctx, subjectID, noteID)
	if err != nil {
		return err
	}
	if note.AuthorID != actorID {
		return ErrNotAuthor
	}
	if err := f.store.Delete(ctx, FeedPath(subjectID), noteID); err != nil {
		return fmt.Errorf("notes: delete: %w", err)
	}
	return nil
}

// TogglePin flips the pinned flag. Any participant may pin; this is a
// read-modify-write against a shared field and concurrent togglers race with
// last-writer-wins, which is acceptable for a moderation affordance.
func (f *Feed) TogglePin(ctx context.Context, subjectID, noteID string) error {
	note, err := f.load(ctx, subjectID, noteID)
	if err != nil {
		return err
	}
	if err := f.store.Update(ctx, FeedPath(subjectID), noteID, map[string]any{"pinned": !note.Pinned}); err != nil {
		return fmt.Errorf("notes: toggle pin: %w", err)
	}
	return nil
}

// Forward copies a note into another subject's feed as a fresh root note.
// Mentions in the copied text do not fan out again.
func (f *Feed) Forward(ctx context.Context, subjectID, noteID, targetSubjectID, actorID string) (string, error) {
	if err := validateIdentifier(targetSubjectID, ErrInvalidSubjectID); err != nil {
		return "", err
	}
	if err := validateIdentifier(actorID, ErrInvalidAuthorID); err != nil {
		return "", err
	}
	source, err := f.load(ctx, subjectID, noteID)
	if err != nil {
		return "", err
	}

	copied := Note{
		SubjectID:     targetSubjectID,
		AuthorID:      actorID,
		Text:          source.Text,
		AttachmentURL: source.AttachmentURL,
	}
	payload, err := json.Marshal(copied)
	if err != nil {
		return "", fmt.Errorf("notes: encode forward: %w", err)
	}
	forwardedID, err := f.store.Put(ctx, FeedPath(targetSubjectID), payload)
	if err != nil {
		return "", fmt.Errorf("notes: forward: %w", err)
	}
	return forwardedID, nil
}

func (f *Feed) load(ctx context.Context, subjectID, noteID string) (Note, error) {
	if err := validateIdentifier(subjectID, ErrInvalidSubjectID); err != nil {
		return Note{}, err
	}
	if err := validateIdentifier(noteID, ErrInvalidNoteID); err != nil {
		return Note{}, err
	}
	document, err := f.store.Get(ctx, FeedPath(subjectID), noteID)
	if err != nil {
		return Note{}, err
	}
	return DecodeNote(document)
}

// DecodeNote materializes a Note from its stored document, taking identity
// and ordering metadata from the document rather than the payload.
func DecodeNote(document store.Document) (Note, error) {
	var note Note
	if err := json.Unmarshal(document.Data, &note); err != nil {
		return Note{}, fmt.Errorf("notes: decode note %s: %w", document.ID, err)
	}
	note.ID = document.ID
	note.CreatedAtSeconds = document.CommittedAtSeconds
	note.Seq = document.CommitSeq
	return note, nil
}
