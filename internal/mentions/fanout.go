package mentions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/store"
)

// CollectionPath is the store collection holding notification records.
const CollectionPath = "notifications"

var (
	errMissingStore     = errors.New("document store is required")
	errMissingDirectory = errors.New("directory service is required")
	errMissingIDs       = errors.New("id provider is required")
	noOpLogger          = zap.NewNop()
)

// Notification is an immutable mention record. Exactly one is created per
// (note, mentioned user) pair at send time. Recipients subscribe to the full
// notification stream and filter locally to their own uid.
type Notification struct {
	ID              string `json:"id"`
	RecipientUserID string `json:"recipient_user_id"`
	SubjectID       string `json:"subject_id"`
	SubjectName     string `json:"subject_name,omitempty"`
	Message         string `json:"message"`
	NoteID          string `json:"note_id"`

	CreatedAtSeconds int64 `json:"-"`
}

// FanoutConfig describes the dependencies of the notification fan-out.
type FanoutConfig struct {
	Store      store.Store
	Directory  *directory.Service
	Candidates *candidates.Service
	IDs        store.IDProvider
	Logger     *zap.Logger
	// CreatedObserver, when set, is invoked once per created notification.
	CreatedObserver func()
}

// Fanout resolves mentions on sent notes and emits one notification per
// mentioned user. It satisfies the note feed's Notifier contract.
type Fanout struct {
	store      store.Store
	directory  *directory.Service
	candidates *candidates.Service
	ids        store.IDProvider
	logger     *zap.Logger
	observer   func()
}

// NewFanout constructs a Fanout.
func NewFanout(cfg FanoutConfig) (*Fanout, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("mentions: %w", errMissingStore)
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("mentions: %w", errMissingDirectory)
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("mentions: %w", errMissingIDs)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Fanout{
		store:      cfg.Store,
		directory:  cfg.Directory,
		candidates: cfg.Candidates,
		ids:        cfg.IDs,
		logger:     logger,
		observer:   cfg.CreatedObserver,
	}, nil
}

// NoteSent resolves mentions against the directory snapshot current at send
// time and writes one notification per resolved user. Failures here never
// fail the note itself; a note with missing notifications is an accepted,
// logged inconsistency.
func (f *Fanout) NoteSent(ctx context.Context, note notes.Note) {
	snapshot, err := f.directory.Snapshot(ctx)
	if err != nil {
		f.logger.Error("mention fan-out skipped, directory unavailable",
			zap.String("note_id", note.ID), zap.Error(err))
		return
	}

	mentioned := Resolve(note.Text, snapshot)
	if len(mentioned) == 0 {
		return
	}

	subjectName := ""
	if f.candidates != nil {
		if candidate, err := f.candidates.Get(ctx, note.SubjectID); err == nil {
			subjectName = candidate.Name
		}
	}

	for _, entry := range mentioned {
		if err := f.emit(ctx, note, entry, subjectName); err != nil {
			f.logger.Error("notification create failed",
				zap.String("note_id", note.ID),
				zap.String("recipient", entry.UID),
				zap.Error(err))
		}
	}
}

func (f *Fanout) emit(ctx context.Context, note notes.Note, entry directory.Entry, subjectName string) error {
	notificationID, err := f.ids.NewID()
	if err != nil {
		return fmt.Errorf("mentions: assign notification id: %w", err)
	}
	notification := Notification{
		ID:              notificationID,
		RecipientUserID: entry.UID,
		SubjectID:       note.SubjectID,
		SubjectName:     subjectName,
		Message:         note.Text,
		NoteID:          note.ID,
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("mentions: encode notification: %w", err)
	}
	if err := f.store.Set(ctx, CollectionPath, notificationID, payload); err != nil {
		return err
	}
	if f.observer != nil {
		f.observer()
	}
	return nil
}

// Decode materializes notifications from a collection snapshot.
func Decode(documents []store.Document) []Notification {
	notifications := make([]Notification, 0, len(documents))
	for _, document := range documents {
		var notification Notification
		if err := json.Unmarshal(document.Data, &notification); err != nil {
			continue
		}
		notification.ID = document.ID
		notification.CreatedAtSeconds = document.CommittedAtSeconds
		notifications = append(notifications, notification)
	}
	return notifications
}

// For filters a decoded stream down to one recipient's notifications.
func For(notifications []Notification, recipientUserID string) []Notification {
	var own []Notification
	for _, notification := range notifications {
		if notification.RecipientUserID == recipientUserID {
			own = append(own, notification)
		}
	}
	return own
}
