package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPathLength = 190

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the SQL-backed store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	IDs      IDProvider
	Logger   *zap.Logger
	// PublishObserver, when set, is invoked once per published snapshot.
	PublishObserver func(path string)
}

// SQLStore implements Store on a gorm database. Commit sequence numbers are
// issued under a lock, so ordering is total even when wall clocks repeat.
type SQLStore struct {
	db       *gorm.DB
	clock    func() time.Time
	ids      IDProvider
	logger   *zap.Logger
	observer func(path string)

	dispatcher *snapshotDispatcher

	seqMu sync.Mutex
	seq   int64
}

// NewSQLStore constructs the store and primes the commit sequence from the
// highest persisted value.
func NewSQLStore(cfg ServiceConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("store: %w", errMissingDatabase)
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("store: %w", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	var highest int64
	if err := cfg.Database.Model(&DocumentRecord{}).
		Select("COALESCE(MAX(commit_seq), 0)").
		Scan(&highest).Error; err != nil {
		return nil, fmt.Errorf("store: prime commit sequence: %w", err)
	}

	return &SQLStore{
		db:         cfg.Database,
		clock:      clock,
		ids:        cfg.IDs,
		logger:     logger,
		observer:   cfg.PublishObserver,
		dispatcher: newSnapshotDispatcher(),
		seq:        highest,
	}, nil
}

func (s *SQLStore) Put(ctx context.Context, path string, data json.RawMessage) (string, error) {
	docID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("store: assign document id: %w", err)
	}
	if err := s.Set(ctx, path, docID, data); err != nil {
		return "", err
	}
	return docID, nil
}

func (s *SQLStore) Set(ctx context.Context, path, docID string, data json.RawMessage) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := validateDocID(docID); err != nil {
		return err
	}

	now := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DocumentRecord
		lookupErr := tx.Where("collection = ? AND doc_id = ?", path, docID).Take(&existing).Error
		if lookupErr == nil {
			return tx.Model(&DocumentRecord{}).
				Where("collection = ? AND doc_id = ?", path, docID).
				Updates(map[string]any{
					"data_json":    string(data),
					"updated_at_s": now,
				}).Error
		}
		if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}
		record := DocumentRecord{
			Collection:         path,
			DocID:              docID,
			DataJSON:           string(data),
			CommitSeq:          s.nextCommitSeq(),
			CommittedAtSeconds: now,
			UpdatedAtSeconds:   now,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		s.logger.Error("store set failed", zap.String("path", path), zap.String("doc_id", docID), zap.Error(err))
		return fmt.Errorf("store: set %s/%s: %w", path, docID, err)
	}

	s.publishSnapshot(ctx, path)
	return nil
}

func (s *SQLStore) Update(ctx context.Context, path, docID string, fields map[string]any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := validateDocID(docID); err != nil {
		return err
	}

	now := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DocumentRecord
		if err := tx.Where("collection = ? AND doc_id = ?", path, docID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		payload := map[string]any{}
		if existing.DataJSON != "" {
			if err := json.Unmarshal([]byte(existing.DataJSON), &payload); err != nil {
				return fmt.Errorf("decode stored payload: %w", err)
			}
		}
		for key, value := range fields {
			payload[key] = value
		}
		merged, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode merged payload: %w", err)
		}

		return tx.Model(&DocumentRecord{}).
			Where("collection = ? AND doc_id = ?", path, docID).
			Updates(map[string]any{
				"data_json":    string(merged),
				"updated_at_s": now,
			}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		s.logger.Error("store update failed", zap.String("path", path), zap.String("doc_id", docID), zap.Error(err))
		return fmt.Errorf("store: update %s/%s: %w", path, docID, err)
	}

	s.publishSnapshot(ctx, path)
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, path, docID string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := validateDocID(docID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", path, docID).
		Delete(&DocumentRecord{})
	if result.Error != nil {
		s.logger.Error("store delete failed", zap.String("path", path), zap.String("doc_id", docID), zap.Error(result.Error))
		return fmt.Errorf("store: delete %s/%s: %w", path, docID, result.Error)
	}
	if result.RowsAffected > 0 {
		s.publishSnapshot(ctx, path)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, path, docID string) (Document, error) {
	if err := validatePath(path); err != nil {
		return Document{}, err
	}
	if err := validateDocID(docID); err != nil {
		return Document{}, err
	}

	var record DocumentRecord
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", path, docID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get %s/%s: %w", path, docID, err)
	}
	return recordToDocument(record), nil
}

func (s *SQLStore) List(ctx context.Context, path string) ([]Document, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	var records []DocumentRecord
	if err := s.db.WithContext(ctx).
		Where("collection = ?", path).
		Order("commit_seq ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("store: list %s: %w", path, err)
	}

	documents := make([]Document, 0, len(records))
	for _, record := range records {
		documents = append(documents, recordToDocument(record))
	}
	return documents, nil
}

func (s *SQLStore) Subscribe(ctx context.Context, path string) (<-chan Snapshot, func()) {
	stream, cleanup := s.dispatcher.subscribe(ctx, path)

	initial, err := s.snapshotOf(ctx, path)
	if err != nil {
		s.logger.Warn("initial snapshot unavailable", zap.String("path", path), zap.Error(err))
	} else {
		select {
		case stream <- initial:
		default:
		}
	}
	return stream, cleanup
}

func (s *SQLStore) nextCommitSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *SQLStore) currentCommitSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.seq
}

func (s *SQLStore) snapshotOf(ctx context.Context, path string) (Snapshot, error) {
	documents, err := s.List(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Seq: s.currentCommitSeq(), Docs: documents}, nil
}

func (s *SQLStore) publishSnapshot(ctx context.Context, path string) {
	snapshot, err := s.snapshotOf(ctx, path)
	if err != nil {
		s.logger.Error("snapshot publish failed", zap.String("path", path), zap.Error(err))
		return
	}
	s.dispatcher.publish(snapshot)
	if s.observer != nil {
		s.observer(path)
	}
}

func recordToDocument(record DocumentRecord) Document {
	return Document{
		ID:                 record.DocID,
		Data:               json.RawMessage(record.DataJSON),
		CommitSeq:          record.CommitSeq,
		CommittedAtSeconds: record.CommittedAtSeconds,
		UpdatedAtSeconds:   record.UpdatedAtSeconds,
	}
}

func validatePath(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed != path {
		return ErrInvalidPath
	}
	if len(path) > maxPathLength {
		return ErrInvalidPath
	}
	return nil
}

func validateDocID(docID string) error {
	trimmed := strings.TrimSpace(docID)
	if trimmed == "" || trimmed != docID {
		return ErrInvalidDocID
	}
	if len(docID) > maxPathLength {
		return ErrInvalidDocID
	}
	return nil
}
