package candidates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/store"
)

// CollectionPath is the store collection holding candidate records.
const CollectionPath = "candidates"

var (
	errMissingStore = errors.New("document store is required")
	noOpLogger      = zap.NewNop()
)

// Candidate is the subject a note thread is attached to. The collaboration
// core reads candidates; creation and profile edits happen elsewhere.
type Candidate struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar,omitempty"`
}

// ServiceConfig describes the dependencies of the candidate reader.
type ServiceConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// Service reads candidate records.
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService constructs the candidate reader.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("candidates: %w", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// Get returns one candidate by id.
func (s *Service) Get(ctx context.Context, candidateID string) (Candidate, error) {
	document, err := s.store.Get(ctx, CollectionPath, candidateID)
	if err != nil {
		return Candidate{}, err
	}
	return decode(document)
}

// List returns all candidates in creation order.
func (s *Service) List(ctx context.Context) ([]Candidate, error) {
	documents, err := s.store.List(ctx, CollectionPath)
	if err != nil {
		return nil, fmt.Errorf("candidates: list: %w", err)
	}
	candidates := make([]Candidate, 0, len(documents))
	for _, document := range documents {
		candidate, err := decode(document)
		if err != nil {
			s.logger.Warn("skipping undecodable candidate", zap.String("doc_id", document.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// Find locates a candidate inside an already-fetched snapshot.
func Find(documents []store.Document, candidateID string) (Candidate, bool) {
	for _, document := range documents {
		if document.ID != candidateID {
			continue
		}
		candidate, err := decode(document)
		if err != nil {
			return Candidate{}, false
		}
		return candidate, true
	}
	return Candidate{}, false
}

func decode(document store.Document) (Candidate, error) {
	var candidate Candidate
	if err := json.Unmarshal(document.Data, &candidate); err != nil {
		return Candidate{}, fmt.Errorf("candidates: decode %s: %w", document.ID, err)
	}
	candidate.ID = document.ID
	return candidate, nil
}
