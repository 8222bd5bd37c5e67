package mentions_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/database"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/store"
)

func newFanoutFixture(t *testing.T) (*mentions.Fanout, *store.SQLStore) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "fanout.db"), nil)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	documentStore, err := store.NewSQLStore(store.ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
		IDs: store.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	directoryService, err := directory.NewService(directory.ServiceConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	candidateService, err := candidates.NewService(candidates.ServiceConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create candidates: %v", err)
	}

	ctx := context.Background()
	for _, entry := range []directory.Entry{
		{UID: "u-alice", DisplayName: "alice", Email: "alice@example.com"},
		{UID: "u-bob", DisplayName: "bob", Email: "bob@example.com"},
	} {
		if err := directoryService.Upsert(ctx, entry); err != nil {
			t.Fatalf("failed to seed directory: %v", err)
		}
	}
	candidatePayload, _ := json.Marshal(candidates.Candidate{Name: "Dana Devlin", Email: "dana@example.com"})
	if err := documentStore.Set(ctx, candidates.CollectionPath, "c1", candidatePayload); err != nil {
		t.Fatalf("failed to seed candidate: %v", err)
	}

	fanout, err := mentions.NewFanout(mentions.FanoutConfig{
		Store:      documentStore,
		Directory:  directoryService,
		Candidates: candidateService,
		IDs:        store.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create fanout: %v", err)
	}
	return fanout, documentStore
}

func listNotifications(t *testing.T, documentStore *store.SQLStore) []mentions.Notification {
	t.Helper()
	documents, err := documentStore.List(context.Background(), mentions.CollectionPath)
	if err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	return mentions.Decode(documents)
}

func TestNoteSentEmitsOneNotificationPerMentionedUser(t *testing.T) {
	fanout, documentStore := newFanoutFixture(t)

	fanout.NoteSent(context.Background(), notes.Note{
		ID:        "n1",
		SubjectID: "c1",
		AuthorID:  "u-carol",
		Text:      "loop in @alice and @bob please",
	})

	notifications := listNotifications(t, documentStore)
	if len(notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %#v", notifications)
	}

	recipients := map[string]bool{}
	for _, notification := range notifications {
		recipients[notification.RecipientUserID] = true
		if notification.NoteID != "n1" {
			t.Fatalf("expected notification to carry note id n1, got %q", notification.NoteID)
		}
		if notification.SubjectID != "c1" {
			t.Fatalf("expected subject id c1, got %q", notification.SubjectID)
		}
		if notification.SubjectName != "Dana Devlin" {
			t.Fatalf("expected resolved subject name, got %q", notification.SubjectName)
		}
		if notification.Message != "loop in @alice and @bob please" {
			t.Fatalf("expected notification to carry the note text, got %q", notification.Message)
		}
	}
	if !recipients["u-alice"] || !recipients["u-bob"] {
		t.Fatalf("expected alice and bob as recipients, got %#v", recipients)
	}
}

func TestNoteSentDuplicateMentionNotifiesOnce(t *testing.T) {
	fanout, documentStore := newFanoutFixture(t)

	fanout.NoteSent(context.Background(), notes.Note{
		ID:        "n1",
		SubjectID: "c1",
		AuthorID:  "u-carol",
		Text:      "@alice @alice @alice",
	})

	notifications := listNotifications(t, documentStore)
	if len(notifications) != 1 || notifications[0].RecipientUserID != "u-alice" {
		t.Fatalf("expected a single notification for alice, got %#v", notifications)
	}
}

func TestNoteSentUnresolvedTagsEmitNothing(t *testing.T) {
	fanout, documentStore := newFanoutFixture(t)

	fanout.NoteSent(context.Background(), notes.Note{
		ID:        "n1",
		SubjectID: "c1",
		AuthorID:  "u-carol",
		Text:      "ping @alyce about this",
	})

	if notifications := listNotifications(t, documentStore); len(notifications) != 0 {
		t.Fatalf("expected no notifications for unresolved tag, got %#v", notifications)
	}
}

func TestForFiltersToRecipient(t *testing.T) {
	notifications := []mentions.Notification{
		{ID: "1", RecipientUserID: "u-alice"},
		{ID: "2", RecipientUserID: "u-bob"},
		{ID: "3", RecipientUserID: "u-alice"},
	}

	own := mentions.For(notifications, "u-alice")
	if len(own) != 2 || own[0].ID != "1" || own[1].ID != "3" {
		t.Fatalf("unexpected filtered notifications: %#v", own)
	}
}
