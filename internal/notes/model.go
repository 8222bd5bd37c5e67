package notes

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidSubjectID indicates that a subject identifier is empty or exceeds storage bounds.
	ErrInvalidSubjectID = errors.New("notes: invalid subject id")
	// ErrInvalidAuthorID indicates that an author identifier is empty or exceeds storage bounds.
	ErrInvalidAuthorID = errors.New("notes: invalid author id")
	// ErrEmptyText indicates a draft or edit with no usable text.
	ErrEmptyText = errors.New("notes: empty text")
	// ErrNotAuthor indicates an edit or delete attempted by someone other than the note author.
	ErrNotAuthor = errors.New("notes: actor is not the author")
)

// Note is one entry of a subject's annotation feed. CreatedAtSeconds and Seq
// are server-assigned at commit time and never carried in the stored payload,
// so ordering stays consistent across clients with skewed clocks.
type Note struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subject_id"`
	AuthorID      string `json:"author_id"`
	Text          string `json:"text"`
	ReplyTo       string `json:"reply_to,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	Pinned        bool   `json:"pinned"`

	CreatedAtSeconds int64 `json:"-"`
	Seq              int64 `json:"-"`
}

// Draft is the client-supplied input for a new note.
type Draft struct {
	AuthorID      string
	Text          string
	ReplyTo       string
	AttachmentURL string
}

func (d Draft) validate() error {
	if err := validateIdentifier(d.AuthorID, ErrInvalidAuthorID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// FeedPath returns the collection holding a subject's notes.
func FeedPath(subjectID string) string {
	return "candidates/" + subjectID + "/notes"
}

// ReactionsPath returns the collection holding a subject's reaction records.
func ReactionsPath(subjectID string) string {
	return "candidates/" + subjectID + "/reactions"
}

// StarsPath returns the collection holding a subject's star records.
func StarsPath(subjectID string) string {
	return "candidates/" + subjectID + "/stars"
}

func validateIdentifier(value string, sentinel error) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) != len(value) {
		return fmt.Errorf("%w: surrounding whitespace", sentinel)
	}
	if len(value) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return nil
}
