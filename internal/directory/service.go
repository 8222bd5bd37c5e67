package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/store"
)

// CollectionPath is the store collection holding directory entries.
const CollectionPath = "users"

var (
	errMissingStore = errors.New("document store is required")
	// ErrInvalidEntry indicates an entry without a usable uid.
	ErrInvalidEntry = errors.New("directory: invalid entry")
	noOpLogger      = zap.NewNop()
)

// Entry is one directory listing used for mention resolution and avatar
// rendering.
type Entry struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar,omitempty"`
}

// ServiceConfig describes the dependencies of the directory service.
type ServiceConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// Service reads the user directory. The directory is read-only from the
// collaboration core's perspective; Upsert exists for provisioning.
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("directory: %w", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// Snapshot returns the current directory listing. Mention resolution uses
// whatever snapshot is cached at send time; it can race directory updates and
// is best-effort by design.
func (s *Service) Snapshot(ctx context.Context) ([]Entry, error) {
	documents, err := s.store.List(ctx, CollectionPath)
	if err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	return Decode(documents), nil
}

// Upsert stores a directory entry keyed by uid.
func (s *Service) Upsert(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.UID) == "" {
		return ErrInvalidEntry
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("directory: encode entry: %w", err)
	}
	return s.store.Set(ctx, CollectionPath, entry.UID, payload)
}

// Decode materializes directory entries from a collection snapshot.
func Decode(documents []store.Document) []Entry {
	entries := make([]Entry, 0, len(documents))
	for _, document := range documents {
		var entry Entry
		if err := json.Unmarshal(document.Data, &entry); err != nil {
			continue
		}
		if entry.UID == "" {
			entry.UID = document.ID
		}
		entries = append(entries, entry)
	}
	return entries
}

// Suggest returns entries whose display name contains the query,
// case-insensitively, for mention autocomplete. An empty query suggests
// nothing.
func Suggest(entries []Entry, query string) []Entry {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	var matched []Entry
	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry.DisplayName), needle) {
			matched = append(matched, entry)
		}
	}
	return matched
}
