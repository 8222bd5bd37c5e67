package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/store"
)

// DefaultQuietPeriod is how long after the last keystroke a typing signal
// survives before the indicator deletes it.
const DefaultQuietPeriod = 2 * time.Second

// Signal is one user's ephemeral typing marker on one subject.
type Signal struct {
	UID              string `json:"uid"`
	DisplayName      string `json:"display_name"`
	TimestampSeconds int64  `json:"timestamp_s"`
}

// TypingPath returns the typing collection for a subject.
func TypingPath(subjectID string) string {
	return "candidates/" + subjectID + "/typing"
}

// IndicatorConfig describes the dependencies of the typing indicator.
type IndicatorConfig struct {
	Store       store.Store
	Clock       func() time.Time
	Logger      *zap.Logger
	QuietPeriod time.Duration
}

// Indicator maintains short-TTL typing signals. One expiry timer exists per
// (subject, user): a new keystroke restarts the pending deletion instead of
// stacking timers.
type Indicator struct {
	store  store.Store
	clock  func() time.Time
	logger *zap.Logger
	quiet  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewIndicator constructs an Indicator.
func NewIndicator(cfg IndicatorConfig) (*Indicator, error) {
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
	quiet := cfg.QuietPeriod
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Indicator{
		store:  cfg.Store,
		clock:  clock,
		logger: logger,
		quiet:  quiet,
		timers: make(map[string]*time.Timer),
	}, nil
}

// OnKeystroke upserts the typing signal and (re)starts the quiet-period timer
// that deletes it if no further keystroke arrives.
func (i *Indicator) OnKeystroke(ctx context.Context, subjectID string, user directory.Entry) error {
	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Email
	}
	signal := Signal{
		UID:              user.UID,
		DisplayName:      displayName,
		TimestampSeconds: i.clock().UTC().Unix(),
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("presence: encode typing signal: %w", err)
	}
	if err := i.store.Set(ctx, TypingPath(subjectID), user.UID, payload); err != nil {
		return fmt.Errorf("presence: typing upsert: %w", err)
	}

	i.scheduleExpiry(subjectID, user.UID)
	return nil
}

// Clear cancels any pending expiry and deletes the signal immediately.
// Sending a message calls this.
func (i *Indicator) Clear(ctx context.Context, subjectID, uid string) error {
	i.cancelTimer(timerKey(subjectID, uid))
	if err := i.store.Delete(ctx, TypingPath(subjectID), uid); err != nil {
		return fmt.Errorf("presence: typing clear: %w", err)
	}
	return nil
}

// Close cancels every pending expiry timer. It must run on view teardown so
// stale deletes cannot fire against a torn-down subject.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for key, timer := range i.timers {
		timer.Stop()
		delete(i.timers, key)
	}
}

func (i *Indicator) scheduleExpiry(subjectID, uid string) {
	key := timerKey(subjectID, uid)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if existing, ok := i.timers[key]; ok {
		existing.Stop()
	}
	i.timers[key] = time.AfterFunc(i.quiet, func() {
		i.mu.Lock()
		delete(i.timers, key)
		i.mu.Unlock()

		expireCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := i.store.Delete(expireCtx, TypingPath(subjectID), uid); err != nil {
			i.logger.Warn("typing signal expiry failed",
				zap.String("subject_id", subjectID), zap.String("uid", uid), zap.Error(err))
		}
	})
}

func (i *Indicator) cancelTimer(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if timer, ok := i.timers[key]; ok {
		timer.Stop()
		delete(i.timers, key)
	}
}

func timerKey(subjectID, uid string) string {
	return subjectID + "|" + uid
}

// DecodeSignals materializes typing signals from a collection snapshot.
func DecodeSignals(documents []store.Document) []Signal {
	signals := make([]Signal, 0, len(documents))
	for _, document := range documents {
		var signal Signal
		if err := json.Unmarshal(document.Data, &signal); err != nil {
			continue
		}
		signals = append(signals, signal)
	}
	return signals
}
