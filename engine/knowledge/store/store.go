// Package store persists documents and chunks and answers similarity
// queries over chunk embeddings.
package store

import (
	"context"
	"time"
)

// SourceKind tags where a document's text came from.
type SourceKind string

const (
	SourceText     SourceKind = "text"
	SourceMarkdown SourceKind = "markdown"
	SourcePDF      SourceKind = "pdf"
)

type Document struct {
	ID          int64          `db:"id"`
	Title       string         `db:"title"`
	SourcePath  string         `db:"source_path"`
	SourceKind  SourceKind     `db:"source_type"`
	RawText     string         `db:"raw_content"`
	Fingerprint string         `db:"content_hash"`
	Metadata    map[string]any `db:"metadata"`
	IngestedAt  time.Time      `db:"ingested_at"`
}

// NewDocument is the insert shape; the store assigns ID and IngestedAt.
type NewDocument struct {
	Title       string
	SourcePath  string
	SourceKind  SourceKind
	RawText     string
	Fingerprint string
	Metadata    map[string]any
}

type Chunk struct {
	ID          int64
	DocumentID  int64
	Index       int
	TotalChunks int
	Text        string
	Fingerprint string
	Embedding   []float32
	CreatedAt   time.Time
}

type NewChunk struct {
	DocumentID  int64
	Index       int
	TotalChunks int
	Text        string
	Fingerprint string
	Embedding   []float32
}

// SearchQuery asks for the Limit chunks closest to Vector. A nil MinScore
// disables threshold filtering.
type SearchQuery struct {
	Vector   []float32
	MinScore *float64
	Limit    int
}

// SearchResult joins a chunk with its document and the cosine similarity.
type SearchResult struct {
	ChunkID     int64      `db:"chunk_id"`
	DocumentID  int64      `db:"document_id"`
	ChunkIndex  int        `db:"chunk_index"`
	TotalChunks int        `db:"total_chunks"`
	Content     string     `db:"content"`
	Fingerprint string     `db:"content_hash"`
	CreatedAt   time.Time  `db:"created_at"`
	Title       string     `db:"title"`
	SourcePath  string     `db:"source_path"`
	SourceKind  SourceKind `db:"source_type"`
	Score       float64    `db:"score"`
}

type Stats struct {
	Documents      int64 `db:"documents"`
	Chunks         int64 `db:"chunks"`
	EmbeddedChunks int64 `db:"embedded_chunks"`
}

// Store is the persistence contract used by ingestion and retrieval.
// Unique violations surface as core.ErrDuplicate, missing rows as
// core.ErrNotFound and every other failure as *core.StoreError.
type Store interface {
	DocumentExists(ctx context.Context, fingerprint string) (bool, error)
	GetDocumentByFingerprint(ctx context.Context, fingerprint string) (*Document, error)
	InsertDocument(ctx context.Context, doc NewDocument) (int64, error)
	InsertChunk(ctx context.Context, chunk NewChunk) (int64, error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetChunks(ctx context.Context, documentID int64) ([]Chunk, error)
	SimilaritySearch(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	DropAll(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
}
