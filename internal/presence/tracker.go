package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/store"
)

const (
	// DefaultHeartbeatInterval is how often a viewing client re-upserts its
	// presence record.
	DefaultHeartbeatInterval = 10 * time.Second
	// staleMultiplier bounds how long a record counts as present after its
	// last heartbeat. Delete-on-exit is best-effort only; a crashed client
	// leaves its record behind, so readers must expire by age.
	staleMultiplier = 3
)

var (
	errMissingStore = errors.New("document store is required")
	noOpLogger      = zap.NewNop()
)

// Record is one user's presence on one subject, upserted per heartbeat.
type Record struct {
	UID                 string `json:"uid"`
	DisplayName         string `json:"display_name"`
	LastActiveAtSeconds int64  `json:"last_active_s"`
}

// Path returns the presence collection for a subject.
func Path(subjectID string) string {
	return "candidates/" + subjectID + "/presence"
}

// TrackerConfig describes the dependencies of the presence tracker.
type TrackerConfig struct {
	Store             store.Store
	Clock             func() time.Time
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	// HeartbeatObserver, when set, is invoked once per heartbeat upsert.
	HeartbeatObserver func()
}

// Tracker maintains per-subject presence records via periodic heartbeats.
type Tracker struct {
	store    store.Store
	clock    func() time.Time
	logger   *zap.Logger
	interval time.Duration
	observer func()
}

// NewTracker constructs a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("presence: %w", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Tracker{
		store:    cfg.Store,
		clock:    clock,
		logger:   logger,
		interval: interval,
		observer: cfg.HeartbeatObserver,
	}, nil
}

// Interval reports the configured heartbeat interval.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Heartbeat upserts the user's presence record with the current time.
func (t *Tracker) Heartbeat(ctx context.Context, subjectID string, user directory.Entry) error {
	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Email
	}
	record := Record{
		UID:                 user.UID,
		DisplayName:         displayName,
		LastActiveAtSeconds: t.clock().UTC().Unix(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("presence: encode record: %w", err)
	}
	if err := t.store.Set(ctx, Path(subjectID), user.UID, payload); err != nil {
		return fmt.Errorf("presence: heartbeat: %w", err)
	}
	if t.observer != nil {
		t.observer()
	}
	return nil
}

// Stop removes the user's presence record. Called on view exit; a process
// that dies without calling Stop is expired by readers via IsActive.
func (t *Tracker) Stop(ctx context.Context, subjectID, uid string) error {
	if err := t.store.Delete(ctx, Path(subjectID), uid); err != nil {
		return fmt.Errorf("presence: stop: %w", err)
	}
	return nil
}

// Run heartbeats immediately and then on every interval until ctx is
// cancelled, at which point it deletes the record best-effort.
func (t *Tracker) Run(ctx context.Context, subjectID string, user directory.Entry) {
	if err := t.Heartbeat(ctx, subjectID, user); err != nil {
		t.logger.Warn("initial presence heartbeat failed",
			zap.String("subject_id", subjectID), zap.String("uid", user.UID), zap.Error(err))
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.Heartbeat(ctx, subjectID, user); err != nil {
				t.logger.Warn("presence heartbeat failed",
					zap.String("subject_id", subjectID), zap.String("uid", user.UID), zap.Error(err))
			}
		case <-ctx.Done():
			// ctx is already cancelled; the delete needs its own deadline.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := t.Stop(cleanupCtx, subjectID, user.UID); err != nil {
				t.logger.Warn("presence cleanup failed",
					zap.String("subject_id", subjectID), zap.String("uid", user.UID), zap.Error(err))
			}
			return
		}
	}
}

// Active filters records down to those whose last heartbeat is within three
// heartbeat intervals of now, expiring crashed clients' ghosts.
func (t *Tracker) Active(records []Record, now time.Time) []Record {
	ttl := time.Duration(staleMultiplier) * t.interval
	var active []Record
	for _, record := range records {
		age := now.Sub(time.Unix(record.LastActiveAtSeconds, 0))
		if age < ttl {
			active = append(active, record)
		}
	}
	return active
}

// DecodeRecords materializes presence records from a collection snapshot.
func DecodeRecords(documents []store.Document) []Record {
	records := make([]Record, 0, len(documents))
	for _, document := range documents {
		var record Record
		if err := json.Unmarshal(document.Data, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records
}
