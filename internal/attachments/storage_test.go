package attachments_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talenthq/huddle/internal/attachments"
)

func mustStorage(t *testing.T) *attachments.Storage {
	t.Helper()
	storage, err := attachments.NewStorage(attachments.StorageConfig{
		RootDir: t.TempDir(),
		BaseURL: "http://localhost:8080/",
		Clock: func() time.Time {
			return time.UnixMilli(1700000000000)
		},
	})
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func TestSaveWritesBlobAndReturnsURL(t *testing.T) {
	storage := mustStorage(t)

	url, err := storage.Save("c1", "resume.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if url != "http://localhost:8080/attachments/c1/1700000000000_resume.pdf" {
		t.Fatalf("unexpected url %q", url)
	}

	stored, err := os.ReadFile(filepath.Join(storage.RootDir(), "c1", "1700000000000_resume.pdf"))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(stored) != "pdf-bytes" {
		t.Fatalf("unexpected stored content %q", stored)
	}
}

func TestSaveStripsDirectoryComponents(t *testing.T) {
	storage := mustStorage(t)

	url, err := storage.Save("c1", "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasSuffix(url, "/attachments/c1/1700000000000_passwd") {
		t.Fatalf("expected traversal components stripped, got %q", url)
	}
	if _, err := os.Stat(filepath.Join(storage.RootDir(), "c1", "1700000000000_passwd")); err != nil {
		t.Fatalf("expected sanitized file inside root: %v", err)
	}
}

func TestSaveRejectsUnusableFilename(t *testing.T) {
	storage := mustStorage(t)

	if _, err := storage.Save("c1", "   ", strings.NewReader("x")); !errors.Is(err, attachments.ErrInvalidFilename) {
		t.Fatalf("expected ErrInvalidFilename, got %v", err)
	}
}

func TestSaveRequiresSubjectID(t *testing.T) {
	storage := mustStorage(t)

	if _, err := storage.Save("", "file.txt", strings.NewReader("x")); err == nil {
		t.Fatalf("expected error for missing subject id")
	}
}
