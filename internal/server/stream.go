package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/presence"
	"github.com/talenthq/huddle/internal/store"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The REST surface already allows any origin; the stream matches it.
	CheckOrigin: func(*http.Request) bool { return true },
}

type streamEvent struct {
	Collection string           `json:"collection"`
	Path       string           `json:"path"`
	Seq        int64            `json:"seq"`
	Documents  []streamDocument `json:"documents"`
}

type streamDocument struct {
	ID                 string          `json:"id"`
	Data               json.RawMessage `json:"data"`
	CommitSeq          int64           `json:"commit_seq"`
	CommittedAtSeconds int64           `json:"committed_at_s"`
}

// handleStream upgrades to a websocket and pushes full-collection snapshots
// for everything a subject view depends on: notes, reactions, stars,
// presence, typing, and the notification stream. Each event carries the whole
// current listing, so a client can apply it idempotently at any time.
func (h *httpHandler) handleStream(c *gin.Context) {
	subjectID := c.Param("candidateID")

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", zap.String("subject_id", subjectID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sources := []struct {
		collection string
		path       string
	}{
		{"notes", notes.FeedPath(subjectID)},
		{"reactions", notes.ReactionsPath(subjectID)},
		{"stars", notes.StarsPath(subjectID)},
		{"presence", presence.Path(subjectID)},
		{"typing", presence.TypingPath(subjectID)},
		{"notifications", mentions.CollectionPath},
	}

	merged := make(chan streamEvent, 32)
	for _, source := range sources {
		snapshots, cleanup := h.deps.Store.Subscribe(ctx, source.path)
		defer cleanup()
		go func(collection string, snapshots <-chan store.Snapshot) {
			for {
				select {
				case <-ctx.Done():
					return
				case snapshot, ok := <-snapshots:
					if !ok {
						return
					}
					select {
					case merged <- toStreamEvent(collection, snapshot):
					case <-ctx.Done():
						return
					}
				}
			}
		}(source.collection, snapshots)
	}

	// Reader exists only to observe the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(streamPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-merged:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("stream write failed", zap.String("subject_id", subjectID), zap.Error(err))
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toStreamEvent(collection string, snapshot store.Snapshot) streamEvent {
	event := streamEvent{
		Collection: collection,
		Path:       snapshot.Path,
		Seq:        snapshot.Seq,
		Documents:  make([]streamDocument, 0, len(snapshot.Docs)),
	}
	for _, document := range snapshot.Docs {
		event.Documents = append(event.Documents, streamDocument{
			ID:                 document.ID,
			Data:               document.Data,
			CommitSeq:          document.CommitSeq,
			CommittedAtSeconds: document.CommittedAtSeconds,
		})
	}
	return event
}
