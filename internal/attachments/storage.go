package attachments

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidFilename indicates a filename that is empty or escapes the
	// storage root.
	ErrInvalidFilename = errors.New("attachments: invalid filename")
	errMissingRootDir  = errors.New("root directory is required")
	noOpLogger         = zap.NewNop()
)

// StorageConfig describes the dependencies of the attachment store.
type StorageConfig struct {
	RootDir string
	// BaseURL prefixes the returned fetch URLs, e.g. "http://host:8080".
	BaseURL string
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Storage persists attachment blobs keyed by (subject, timestamp, filename)
// and returns durable fetch URLs. The collaboration core only ever stores and
// displays the URL, never the bytes.
type Storage struct {
	rootDir string
	baseURL string
	clock   func() time.Time
	logger  *zap.Logger
}

// NewStorage constructs the attachment store and ensures the root exists.
func NewStorage(cfg StorageConfig) (*Storage, error) {
	if strings.TrimSpace(cfg.RootDir) == "" {
		return nil, fmt.Errorf("attachments: %w", errMissingRootDir)
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: create root: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Storage{
		rootDir: cfg.RootDir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		clock:   clock,
		logger:  logger,
	}, nil
}

// Save writes the blob under <root>/<subject>/<timestamp>_<filename> and
// returns its fetch URL.
func (s *Storage) Save(subjectID, filename string, blob io.Reader) (string, error) {
	cleaned, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(subjectID) == "" {
		return "", fmt.Errorf("attachments: subject id is required")
	}

	subjectDir := filepath.Join(s.rootDir, subjectID)
	if err := os.MkdirAll(subjectDir, 0o755); err != nil {
		return "", fmt.Errorf("attachments: create subject dir: %w", err)
	}

	stored := fmt.Sprintf("%d_%s", s.clock().UTC().UnixMilli(), cleaned)
	target := filepath.Join(subjectDir, stored)

	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("attachments: create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, blob); err != nil {
		return "", fmt.Errorf("attachments: write blob: %w", err)
	}

	url := fmt.Sprintf("%s/attachments/%s/%s", s.baseURL, subjectID, stored)
	s.logger.Info("attachment stored", zap.String("subject_id", subjectID), zap.String("file", stored))
	return url, nil
}

// RootDir exposes the storage root so the HTTP layer can serve it.
func (s *Storage) RootDir() string {
	return s.rootDir
}

func sanitizeFilename(filename string) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", ErrInvalidFilename
	}
	if strings.ContainsAny(base, "\x00") {
		return "", ErrInvalidFilename
	}
	return base, nil
}
