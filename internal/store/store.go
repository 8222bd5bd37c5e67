package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrInvalidPath indicates an empty or oversized collection path.
	ErrInvalidPath = errors.New("store: invalid collection path")
	// ErrInvalidDocID indicates an empty or oversized document key.
	ErrInvalidDocID = errors.New("store: invalid document id")
)

// Document is the stored unit of a collection. CommitSeq is assigned by the
// store at creation time and is monotonic across the whole store, so listing a
// collection by CommitSeq yields a consistent total order regardless of client
// clock skew. Upserts and field updates preserve the original CommitSeq.
type Document struct {
	ID                 string
	Data               json.RawMessage
	CommitSeq          int64
	CommittedAtSeconds int64
	UpdatedAtSeconds   int64
}

// Snapshot carries the full current listing of one collection. Subscribers
// always receive complete listings, never diffs, so re-applying a snapshot is
// idempotent by construction.
type Snapshot struct {
	Path string
	Seq  int64
	Docs []Document
}

// Store exposes ordered, subscribable document collections keyed by composite
// paths. All writes are atomic per document.
type Store interface {
	// Put creates a document under a server-assigned key and returns it.
	Put(ctx context.Context, path string, data json.RawMessage) (string, error)
	// Set upserts the document under the caller-supplied key.
	Set(ctx context.Context, path, docID string, data json.RawMessage) error
	// Update merges the provided fields into the document payload.
	Update(ctx context.Context, path, docID string, fields map[string]any) error
	// Delete removes the document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, path, docID string) error
	Get(ctx context.Context, path, docID string) (Document, error)
	List(ctx context.Context, path string) ([]Document, error)
	// Subscribe delivers the current snapshot immediately and a fresh snapshot
	// after every subsequent change to the collection. The returned cancel
	// func tears the subscription down; cancelling ctx does the same.
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, func())
}
