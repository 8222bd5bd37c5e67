package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/attachments"
	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/metrics"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/presence"
	"github.com/talenthq/huddle/internal/store"
)

const userIDContextKey = "huddle_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingStore        = errors.New("store dependency required")
	errMissingFeed         = errors.New("note feed dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenValidator validates a bearer token and returns the user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the collaboration services.
type Dependencies struct {
	Tokens      TokenValidator
	Store       store.Store
	Feed        *notes.Feed
	Reactions   *notes.ReactionLedger
	Stars       *notes.StarLedger
	Candidates  *candidates.Service
	Directory   *directory.Service
	Presence    *presence.Tracker
	Typing      *presence.Indicator
	Attachments *attachments.Storage
	Metrics     *metrics.Set
	Logger      *zap.Logger
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{deps: deps, logger: logger}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Attachments != nil {
		router.Static("/attachments", deps.Attachments.RootDir())
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/candidates", handler.handleListCandidates)
	protected.GET("/candidates/:candidateID", handler.handleGetCandidate)
	protected.GET("/candidates/:candidateID/notes", handler.handleListNotes)
	protected.POST("/candidates/:candidateID/notes", handler.handleSendNote)
	protected.POST("/candidates/:candidateID/notes/:noteID/edit", handler.handleEditNote)
	protected.DELETE("/candidates/:candidateID/notes/:noteID", handler.handleDeleteNote)
	protected.POST("/candidates/:candidateID/notes/:noteID/pin", handler.handleTogglePin)
	protected.POST("/candidates/:candidateID/notes/:noteID/star", handler.handleToggleStar)
	protected.POST("/candidates/:candidateID/notes/:noteID/react", handler.handleToggleReaction)
	protected.POST("/candidates/:candidateID/notes/:noteID/forward", handler.handleForwardNote)
	protected.GET("/candidates/:candidateID/threads/:noteID", handler.handleThread)
	protected.POST("/candidates/:candidateID/typing", handler.handleTyping)
	protected.POST("/candidates/:candidateID/presence", handler.handlePresenceHeartbeat)
	protected.DELETE("/candidates/:candidateID/presence", handler.handlePresenceStop)
	protected.GET("/candidates/:candidateID/presence", handler.handlePresenceList)
	protected.POST("/candidates/:candidateID/attachments", handler.handleAttachmentUpload)
	protected.GET("/candidates/:candidateID/stream", handler.handleStream)
	protected.GET("/users", handler.handleListUsers)
	protected.GET("/users/suggest", handler.handleSuggestUsers)
	protected.GET("/notifications", handler.handleListNotifications)

	return router, nil
}

type httpHandler struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.deps.Tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) sessionUser(c *gin.Context) (directory.Entry, bool) {
	uid := c.GetString(userIDContextKey)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return directory.Entry{}, false
	}
	entry := directory.Entry{UID: uid}
	if h.deps.Directory != nil {
		snapshot, err := h.deps.Directory.Snapshot(c.Request.Context())
		if err == nil {
			for _, candidate := range snapshot {
				if candidate.UID == uid {
					entry = candidate
					break
				}
			}
		}
	}
	return entry, true
}

func (h *httpHandler) handleListCandidates(c *gin.Context) {
	listing, err := h.deps.Candidates.List(c.Request.Context())
	if err != nil {
		h.logger.Error("candidate listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "candidates_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": listing})
}

func (h *httpHandler) handleGetCandidate(c *gin.Context) {
	candidate, err := h.deps.Candidates.Get(c.Request.Context(), c.Param("candidateID"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "candidate_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("candidate lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "candidates_unavailable"})
		return
	}
	c.JSON(http.StatusOK, candidate)
}

type notePayload struct {
	ID               string `json:"id"`
	AuthorID         string `json:"author_id"`
	Text             string `json:"text"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	ReplyTo          string `json:"reply_to,omitempty"`
	AttachmentURL    string `json:"attachment_url,omitempty"`
	Pinned           bool   `json:"pinned"`
}

func toNotePayload(note notes.Note) notePayload {
	return notePayload{
		ID:               note.ID,
		AuthorID:         note.AuthorID,
		Text:             note.Text,
		CreatedAtSeconds: note.CreatedAtSeconds,
		ReplyTo:          note.ReplyTo,
		AttachmentURL:    note.AttachmentURL,
		Pinned:           note.Pinned,
	}
}

func (h *httpHandler) loadFeed(c *gin.Context, subjectID string) ([]notes.Note, bool) {
	documents, err := h.deps.Store.List(c.Request.Context(), notes.FeedPath(subjectID))
	if err != nil {
		h.logger.Error("note listing failed", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notes_unavailable"})
		return nil, false
	}
	sequence := notes.NewSequence()
	if err := sequence.ApplyRemoteBatch(documents); err != nil {
		h.logger.Error("note decoding failed", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notes_unavailable"})
		return nil, false
	}
	return sequence.Notes(), true
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	feed, ok := h.loadFeed(c, c.Param("candidateID"))
	if !ok {
		return
	}
	feed = notes.Filter(feed, c.Query("q"))

	payloads := make([]notePayload, 0, len(feed))
	for _, note := range feed {
		payloads = append(payloads, toNotePayload(note))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payloads})
}

type sendNoteRequest struct {
	Text          string `json:"text"`
	ReplyTo       string `json:"reply_to"`
	AttachmentURL string `json:"attachment_url"`
}

func (h *httpHandler) handleSendNote(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var request sendNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	subjectID := c.Param("candidateID")
	noteID, err := h.deps.Feed.Append(c.Request.Context(), subjectID, notes.Draft{
		AuthorID:      user.UID,
		Text:          request.Text,
		ReplyTo:       request.ReplyTo,
		AttachmentURL: request.AttachmentURL,
	})
	if errors.Is(err, notes.ErrEmptyText) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_text"})
		return
	}
	if err != nil {
		h.logger.Error("note send failed", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send_failed"})
		return
	}

	// Sending clears the author's typing signal immediately.
	if h.deps.Typing != nil {
		if err := h.deps.Typing.Clear(c.Request.Context(), subjectID, user.UID); err != nil {
			h.logger.Warn("typing clear on send failed", zap.String("uid", user.UID), zap.Error(err))
		}
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.NotesAppended.Inc()
	}
	c.JSON(http.StatusCreated, gin.H{"id": noteID})
}

type editNoteRequest struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleEditNote(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var request editNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.deps.Feed.Edit(c.Request.Context(), c.Param("candidateID"), c.Param("noteID"), user.UID, request.Text)
	if !h.writeNoteMutationError(c, err, "edit_failed") {
		c.JSON(http.StatusOK, gin.H{"status": "edited"})
	}
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	err := h.deps.Feed.Delete(c.Request.Context(), c.Param("candidateID"), c.Param("noteID"), user.UID)
	if !h.writeNoteMutationError(c, err, "delete_failed") {
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

func (h *httpHandler) handleTogglePin(c *gin.Context) {
	err := h.deps.Feed.TogglePin(c.Request.Context(), c.Param("candidateID"), c.Param("noteID"))
	if !h.writeNoteMutationError(c, err, "pin_failed") {
		c.JSON(http.StatusOK, gin.H{"status": "toggled"})
	}
}

func (h *httpHandler) handleToggleStar(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	err := h.deps.Stars.Toggle(c.Request.Context(), c.Param("candidateID"), c.Param("noteID"), user.UID)
	if !h.writeNoteMutationError(c, err, "star_failed") {
		c.JSON(http.StatusOK, gin.H{"status": "toggled"})
	}
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

func (h *httpHandler) handleToggleReaction(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var request reactRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Emoji == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.deps.Reactions.Toggle(c.Request.Context(), c.Param("candidateID"), c.Param("noteID"), user.UID, request.Emoji)
	if !h.writeNoteMutationError(c, err, "react_failed") {
		c.JSON(http.StatusOK, gin.H{"status": "toggled"})
	}
}

type forwardRequest struct {
	TargetCandidateID string `json:"target_candidate_id"`
}

func (h *httpHandler) handleForwardNote(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var request forwardRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.TargetCandidateID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	forwardedID, err := h.deps.Feed.Forward(
		c.Request.Context(), c.Param("candidateID"), c.Param("noteID"),
		request.TargetCandidateID, user.UID)
	if h.writeNoteMutationError(c, err, "forward_failed") {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": forwardedID})
}

func (h *httpHandler) handleThread(c *gin.Context) {
	feed, ok := h.loadFeed(c, c.Param("candidateID"))
	if !ok {
		return
	}
	index := notes.NewThreadIndex(feed)
	replies := index.RepliesOf(c.Param("noteID"))

	payloads := make([]notePayload, 0, len(replies))
	for _, note := range replies {
		payloads = append(payloads, toNotePayload(note))
	}
	c.JSON(http.StatusOK, gin.H{"replies": payloads})
}

func (h *httpHandler) handleTyping(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	if err := h.deps.Typing.OnKeystroke(c.Request.Context(), c.Param("candidateID"), user); err != nil {
		h.logger.Error("typing upsert failed", zap.String("uid", user.UID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "typing_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "typing"})
}

func (h *httpHandler) handlePresenceHeartbeat(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	if err := h.deps.Presence.Heartbeat(c.Request.Context(), c.Param("candidateID"), user); err != nil {
		h.logger.Error("presence heartbeat failed", zap.String("uid", user.UID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "present"})
}

func (h *httpHandler) handlePresenceStop(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	if err := h.deps.Presence.Stop(c.Request.Context(), c.Param("candidateID"), user.UID); err != nil {
		h.logger.Error("presence stop failed", zap.String("uid", user.UID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *httpHandler) handlePresenceList(c *gin.Context) {
	documents, err := h.deps.Store.List(c.Request.Context(), presence.Path(c.Param("candidateID")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence_unavailable"})
		return
	}
	active := h.deps.Presence.Active(presence.DecodeRecords(documents), time.Now())
	c.JSON(http.StatusOK, gin.H{"present": active})
}

func (h *httpHandler) handleAttachmentUpload(c *gin.Context) {
	if _, ok := h.sessionUser(c); !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	url, err := h.deps.Attachments.Save(c.Param("candidateID"), fileHeader.Filename, file)
	if errors.Is(err, attachments.ErrInvalidFilename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filename"})
		return
	}
	if err != nil {
		h.logger.Error("attachment upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	snapshot, err := h.deps.Directory.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "directory_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": snapshot})
}

func (h *httpHandler) handleSuggestUsers(c *gin.Context) {
	snapshot, err := h.deps.Directory.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "directory_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": directory.Suggest(snapshot, c.Query("q"))})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	documents, err := h.deps.Store.List(c.Request.Context(), mentions.CollectionPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notifications_unavailable"})
		return
	}
	own := mentions.For(mentions.Decode(documents), user.UID)
	c.JSON(http.StatusOK, gin.H{"notifications": own})
}

// writeNoteMutationError maps domain errors onto distinguishable HTTP
// failures and reports whether a response was written.
func (h *httpHandler) writeNoteMutationError(c *gin.Context, err error, code string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, notes.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_author"})
	case errors.Is(err, notes.ErrEmptyText):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_text"})
	case errors.Is(err, notes.ErrInvalidEmoji):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_emoji"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrInvalidNoteID), errors.Is(err, notes.ErrInvalidSubjectID), errors.Is(err, notes.ErrInvalidAuthorID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("note mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": code})
	}
	return true
}
