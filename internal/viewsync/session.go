package viewsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/presence"
	"github.com/talenthq/huddle/internal/store"
)

var (
	errMissingStore   = errors.New("document store is required")
	errMissingSubject = errors.New("subject id is required")
	errMissingUser    = errors.New("session user is required")
	noOpLogger        = zap.NewNop()
)

// SessionConfig describes one user's live view onto one subject.
type SessionConfig struct {
	Store     store.Store
	SubjectID string
	User      directory.Entry
	Logger    *zap.Logger
	Clock     func() time.Time
	// Presence, when set, heartbeats for the session user while the session
	// is open and removes the record on Close.
	Presence *presence.Tracker
}

// Session subscribes to every remote collection a subject view depends on
// and rebuilds the derived View on each incoming snapshot. All mutation of
// session state happens on one goroutine; the collections arrive on
// independent subscriptions and are not causally linked beyond shared ids.
type Session struct {
	store     store.Store
	subjectID string
	user      directory.Entry
	logger    *zap.Logger
	clock     func() time.Time
	tracker   *presence.Tracker

	cancel   context.CancelFunc
	cleanups []func()
	wg       sync.WaitGroup

	sequence *notes.Sequence

	mu            sync.RWMutex
	view          View
	acked         map[string]struct{}
	candidateDocs []store.Document
	reactionDocs  []store.Document
	starDocs      []store.Document
	presenceDocs  []store.Document
	typingDocs    []store.Document
	directoryDocs []store.Document
	inboxDocs     []store.Document

	updates chan struct{}
}

// NewSession validates the configuration. Open starts the subscriptions.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("viewsync: %w", errMissingStore)
	}
	if cfg.SubjectID == "" {
		return nil, fmt.Errorf("viewsync: %w", errMissingSubject)
	}
	if cfg.User.UID == "" {
		return nil, fmt.Errorf("viewsync: %w", errMissingUser)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		store:     cfg.Store,
		subjectID: cfg.SubjectID,
		user:      cfg.User,
		logger:    logger,
		clock:     clock,
		tracker:   cfg.Presence,
		sequence:  notes.NewSequence(),
		acked:     make(map[string]struct{}),
		updates:   make(chan struct{}, 1),
	}, nil
}

// Open subscribes to the subject's collections and starts the sync loop.
func (s *Session) Open(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	noteCh, cancelNotes := s.store.Subscribe(loopCtx, notes.FeedPath(s.subjectID))
	reactionCh, cancelReactions := s.store.Subscribe(loopCtx, notes.ReactionsPath(s.subjectID))
	starCh, cancelStars := s.store.Subscribe(loopCtx, notes.StarsPath(s.subjectID))
	presenceCh, cancelPresence := s.store.Subscribe(loopCtx, presence.Path(s.subjectID))
	typingCh, cancelTyping := s.store.Subscribe(loopCtx, presence.TypingPath(s.subjectID))
	candidateCh, cancelCandidates := s.store.Subscribe(loopCtx, candidates.CollectionPath)
	directoryCh, cancelDirectory := s.store.Subscribe(loopCtx, directory.CollectionPath)
	inboxCh, cancelInbox := s.store.Subscribe(loopCtx, mentions.CollectionPath)

	s.cleanups = []func(){
		cancelNotes, cancelReactions, cancelStars, cancelPresence,
		cancelTyping, cancelCandidates, cancelDirectory, cancelInbox,
	}

	if s.tracker != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tracker.Run(loopCtx, s.subjectID, s.user)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx, noteCh, reactionCh, starCh, presenceCh, typingCh, candidateCh, directoryCh, inboxCh)
	}()
	return nil
}

// Close tears down every subscription and waits for the loop and the
// presence heartbeat to finish.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, cleanup := range s.cleanups {
		cleanup()
	}
	s.wg.Wait()
}

// View returns the current derived state.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Updates signals (coalesced) whenever the view has been rebuilt.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Ack marks a notification as delivered for the remainder of this session.
// The record itself is immutable and will reappear in a fresh session.
func (s *Session) Ack(notificationID string) {
	s.mu.Lock()
	s.acked[notificationID] = struct{}{}
	s.rebuildLocked()
	s.mu.Unlock()
	s.signal()
}

func (s *Session) loop(
	ctx context.Context,
	noteCh, reactionCh, starCh, presenceCh, typingCh, candidateCh, directoryCh, inboxCh <-chan store.Snapshot,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-noteCh:
			if !ok {
				return
			}
			if err := s.sequence.ApplyRemoteBatch(snapshot.Docs); err != nil {
				s.logger.Error("note snapshot rejected", zap.String("subject_id", s.subjectID), zap.Error(err))
				continue
			}
			s.apply(func() {})
		case snapshot, ok := <-reactionCh:
			if !ok {
				return
			}
			s.apply(func() { s.reactionDocs = snapshot.Docs })
		case snapshot, ok := <-starCh:
			if !ok {
				return
			}
			s.apply(func() { s.starDocs = snapshot.Docs })
		case snapshot, ok := <-presenceCh:
			if !ok {
				return
			}
			s.apply(func() { s.presenceDocs = snapshot.Docs })
		case snapshot, ok := <-typingCh:
			if !ok {
				return
			}
			s.apply(func() { s.typingDocs = snapshot.Docs })
		case snapshot, ok := <-candidateCh:
			if !ok {
				return
			}
			s.apply(func() { s.candidateDocs = snapshot.Docs })
		case snapshot, ok := <-directoryCh:
			if !ok {
				return
			}
			s.apply(func() { s.directoryDocs = snapshot.Docs })
		case snapshot, ok := <-inboxCh:
			if !ok {
				return
			}
			s.apply(func() { s.inboxDocs = snapshot.Docs })
		}
	}
}

func (s *Session) apply(mutate func()) {
	s.mu.Lock()
	mutate()
	s.rebuildLocked()
	s.mu.Unlock()
	s.signal()
}

func (s *Session) rebuildLocked() {
	feed := s.sequence.Notes()

	view := View{
		Notes:     feed,
		Threads:   notes.NewThreadIndex(feed),
		Reactions: notes.TallyReactions(notes.DecodeReactions(s.reactionDocs)),
		Starred:   notes.StarredNoteIDs(notes.DecodeStars(s.starDocs), s.user.UID),
		Directory: directory.Decode(s.directoryDocs),
	}

	if candidate, ok := candidates.Find(s.candidateDocs, s.subjectID); ok {
		view.Candidate = candidate
	}

	records := presence.DecodeRecords(s.presenceDocs)
	if s.tracker != nil {
		view.Present = s.tracker.Active(records, s.clock())
	} else {
		view.Present = records
	}

	for _, signal := range presence.DecodeSignals(s.typingDocs) {
		if signal.UID == s.user.UID {
			continue
		}
		view.Typing = append(view.Typing, signal)
	}

	for _, notification := range mentions.For(mentions.Decode(s.inboxDocs), s.user.UID) {
		if _, delivered := s.acked[notification.ID]; delivered {
			continue
		}
		view.Pending = append(view.Pending, notification)
	}

	s.view = view
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
