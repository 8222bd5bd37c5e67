package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talenthq/huddle/internal/attachments"
	"github.com/talenthq/huddle/internal/auth"
	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/database"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/metrics"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/presence"
	"github.com/talenthq/huddle/internal/store"
)

type routerFixture struct {
	handler http.Handler
	tokens  *auth.TokenManager
	store   *store.SQLStore
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), nil)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	documentStore, err := store.NewSQLStore(store.ServiceConfig{
		Database: db,
		IDs:      store.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	directoryService, err := directory.NewService(directory.ServiceConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	for _, entry := range []directory.Entry{
		{UID: "u-alice", DisplayName: "alice", Email: "alice@example.com"},
		{UID: "u-bob", DisplayName: "bob", Email: "bob@example.com"},
	} {
		if err := directoryService.Upsert(ctx, entry); err != nil {
			t.Fatalf("failed to seed directory: %v", err)
		}
	}

	candidateService, err := candidates.NewService(candidates.ServiceConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create candidates: %v", err)
	}
	candidatePayload, err := json.Marshal(candidates.Candidate{Name: "Dana Devlin"})
	if err != nil {
		t.Fatalf("failed to encode candidate: %v", err)
	}
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
	feed, err := notes.NewFeed(notes.FeedConfig{Store: documentStore, Notifier: fanout})
	if err != nil {
		t.Fatalf("failed to create feed: %v", err)
	}
	reactionLedger, err := notes.NewReactionLedger(notes.ReactionLedgerConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create reaction ledger: %v", err)
	}
	starLedger, err := notes.NewStarLedger(notes.StarLedgerConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create star ledger: %v", err)
	}
	tracker, err := presence.NewTracker(presence.TrackerConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	typing, err := presence.NewIndicator(presence.IndicatorConfig{Store: documentStore, QuietPeriod: time.Minute})
	if err != nil {
		t.Fatalf("failed to create typing indicator: %v", err)
	}
	t.Cleanup(typing.Close)
	attachmentStorage, err := attachments.NewStorage(attachments.StorageConfig{
		RootDir: t.TempDir(),
		BaseURL: "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("failed to create attachment storage: %v", err)
	}

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "huddle-auth",
		Audience:      "huddle-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:      tokens,
		Store:       documentStore,
		Feed:        feed,
		Reactions:   reactionLedger,
		Stars:       starLedger,
		Candidates:  candidateService,
		Directory:   directoryService,
		Presence:    tracker,
		Typing:      typing,
		Attachments: attachmentStorage,
		Metrics:     metrics.NewSet(),
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	return &routerFixture{handler: handler, tokens: tokens, store: documentStore}
}

func (fx *routerFixture) request(t *testing.T, method, target, uid, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	if uid != "" {
		token, err := fx.tokens.IssueToken(uid)
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	fx.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodGet, "/candidates", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestProtectedRoutesRejectGarbageToken(t *testing.T) {
	fx := newRouterFixture(t)

	request := httptest.NewRequest(http.MethodGet, "/candidates", nil)
	request.Header.Set("Authorization", "Bearer not.a.token")
	recorder := httptest.NewRecorder()
	fx.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodGet, "/healthz", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
}

func TestSendNoteReturnsIDAndFansOutMentions(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodPost, "/candidates/c1/notes", "u-alice", `{"text":"hello @bob"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected note id in response")
	}

	recorder = fx.request(t, http.MethodGet, "/notifications", "u-bob", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var inbox struct {
		Notifications []mentions.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &inbox); err != nil {
		t.Fatalf("failed to decode notifications: %v", err)
	}
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].NoteID != created.ID {
		t.Fatalf("expected one notification for the new note, got %#v", inbox.Notifications)
	}
}

func TestSendNoteRejectsEmptyText(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodPost, "/candidates/c1/notes", "u-alice", `{"text":"   "}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "empty_text") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestListNotesSupportsSearchQuery(t *testing.T) {
	fx := newRouterFixture(t)

	for _, text := range []string{"strong python background", "mostly frontend"} {
		recorder := fx.request(t, http.MethodPost, "/candidates/c1/notes", "u-alice", `{"text":"`+text+`"}`)
		if recorder.Code != http.StatusCreated {
			t.Fatalf("seed note failed: %d %s", recorder.Code, recorder.Body.String())
		}
	}

	recorder := fx.request(t, http.MethodGet, "/candidates/c1/notes?q=PYTHON", "u-alice", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	var listing struct {
		Notes []struct {
			Text string `json:"text"`
		} `json:"notes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Notes) != 1 || !strings.Contains(listing.Notes[0].Text, "python") {
		t.Fatalf("unexpected filtered listing: %#v", listing.Notes)
	}
}

func TestEditByNonAuthorIsForbidden(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodPost, "/candidates/c1/notes", "u-alice", `{"text":"original"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("seed note failed: %d", recorder.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	recorder = fx.request(t, http.MethodPost, "/candidates/c1/notes/"+created.ID+"/edit", "u-bob", `{"text":"hijacked"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestDeleteMissingNoteIsNotFound(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodDelete, "/candidates/c1/notes/missing", "u-alice", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestReactEndpointTogglesReaction(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodPost, "/candidates/c1/notes", "u-alice", `{"text":"react to me"}`)
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	recorder = fx.request(t, http.MethodPost, "/candidates/c1/notes/"+created.ID+"/react", "u-bob", `{"emoji":"👍"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}

	documents, err := fx.store.List(context.Background(), notes.ReactionsPath("c1"))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(documents) != 1 {
		t.Fatalf("expected one reaction record, got %d", len(documents))
	}
}

func TestSuggestUsersFiltersDirectory(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodGet, "/users/suggest?q=ali", "u-alice", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	var payload struct {
		Users []directory.Entry `json:"users"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Users) != 1 || payload.Users[0].UID != "u-alice" {
		t.Fatalf("unexpected suggestions: %#v", payload.Users)
	}
}

func TestPresenceHeartbeatThenListShowsUser(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodPost, "/candidates/c1/presence", "u-alice", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fx.request(t, http.MethodGet, "/candidates/c1/presence", "u-bob", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	var payload struct {
		Present []presence.Record `json:"present"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Present) != 1 || payload.Present[0].UID != "u-alice" {
		t.Fatalf("unexpected presence listing: %#v", payload.Present)
	}

	recorder = fx.request(t, http.MethodDelete, "/candidates/c1/presence", "u-alice", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	recorder = fx.request(t, http.MethodGet, "/candidates/c1/presence", "u-bob", "")
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Present) != 0 {
		t.Fatalf("expected empty presence after stop, got %#v", payload.Present)
	}
}

func TestSendNoteClearsTypingSignal(t *testing.T) {
	fx := newRouterFixture(t)

	recorder := fx.request(t, http.MethodPost, "/candidates/c1/typing", "u-alice", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("typing upsert failed: %d", recorder.Code)
	}
	documents, err := fx.store.List(context.Background(), presence.TypingPath("c1"))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(documents) != 1 {
		t.Fatalf("expected typing signal before send, got %d", len(documents))
	}

	recorder = fx.request(t, http.MethodPost, "/candidates/c1/notes", "u-alice", `{"text":"done typing"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("send failed: %d", recorder.Code)
	}

	documents, err = fx.store.List(context.Background(), presence.TypingPath("c1"))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(documents) != 0 {
		t.Fatalf("expected typing signal cleared on send, got %d", len(documents))
	}
}
