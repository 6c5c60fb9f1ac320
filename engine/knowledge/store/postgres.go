package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/compozy/knowledgebase/engine/core"
)

const (
	documentsTable = "knowledge_base_documents"
	chunksTable    = "knowledge_base_chunks"
)

var documentColumns = []string{
	"id",
	"COALESCE(title, '') AS title",
	"COALESCE(source_path, '') AS source_path",
	"COALESCE(source_type, '') AS source_type",
	"raw_content",
	"content_hash",
	"metadata",
	"ingested_at",
}

var chunkColumns = []string{
	"id", "document_id", "chunk_index", "total_chunks", "content", "content_hash", "embedding", "created_at",
}

// DB is the subset of pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on the knowledge base schema with pgvector.
type Postgres struct {
	db        DB
	opTimeout time.Duration
}

// NewPostgres returns a store over db. A positive opTimeout bounds every operation.
func NewPostgres(db DB, opTimeout time.Duration) *Postgres {
	return &Postgres{db: db, opTimeout: opTimeout}
}

type chunkRow struct {
	ID          int64            `db:"id"`
	DocumentID  int64            `db:"document_id"`
	Index       int              `db:"chunk_index"`
	TotalChunks int              `db:"total_chunks"`
	Text        string           `db:"content"`
	Fingerprint string           `db:"content_hash"`
	Embedding   *pgvector.Vector `db:"embedding"`
	CreatedAt   time.Time        `db:"created_at"`
}

func (r *chunkRow) toChunk() Chunk {
	c := Chunk{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		Index:       r.Index,
		TotalChunks: r.TotalChunks,
		Text:        r.Text,
		Fingerprint: r.Fingerprint,
		CreatedAt:   r.CreatedAt,
	}
	if r.Embedding != nil {
		c.Embedding = r.Embedding.Slice()
	}
	return c
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opTimeout)
}

// classify maps driver errors onto the store taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, pgErr.ConstraintName)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	return core.NewStoreError(op, err)
}

func (p *Postgres) DocumentExists(ctx context.Context, fingerprint string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	query, args, err := sq.Select("1").
		From(documentsTable).
		Where(sq.Eq{"content_hash": fingerprint}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, core.NewStoreError("document exists", err)
	}
	var exists bool
	if err := p.db.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, classify("document exists", err)
	}
	return exists, nil
}

func (p *Postgres) GetDocumentByFingerprint(ctx context.Context, fingerprint string) (*Document, error) {
	return p.getDocument(ctx, "get document by fingerprint", sq.Eq{"content_hash": fingerprint})
}

func (p *Postgres) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return p.getDocument(ctx, "get document", sq.Eq{"id": id})
}

func (p *Postgres) getDocument(ctx context.Context, op string, where sq.Eq) (*Document, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	query, args, err := sq.Select(documentColumns...).
		From(documentsTable).
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, core.NewStoreError(op, err)
	}
	var doc Document
	if err := pgxscan.Get(ctx, p.db, &doc, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, core.ErrNotFound
		}
		return nil, classify(op, err)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	return &doc, nil
}

// InsertDocument persists doc and returns its id.
func (p *Postgres) InsertDocument(ctx context.Context, doc NewDocument) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	query, args, err := sq.Insert(documentsTable).
		Columns("title", "source_path", "source_type", "raw_content", "content_hash", "metadata").
		Values(nullable(doc.Title), nullable(doc.SourcePath), nullable(string(doc.SourceKind)),
			doc.RawText, doc.Fingerprint, metadata).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, core.NewStoreError("insert document", err)
	}
	var id int64
	if err := p.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, classify("insert document", err)
	}
	return id, nil
}

// InsertChunk persists one chunk. A nil embedding is stored as NULL.
func (p *Postgres) InsertChunk(ctx context.Context, chunk NewChunk) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var vec *pgvector.Vector
	if chunk.Embedding != nil {
		v := pgvector.NewVector(chunk.Embedding)
		vec = &v
	}
	query, args, err := sq.Insert(chunksTable).
		Columns("document_id", "chunk_index", "total_chunks", "content", "content_hash", "embedding").
		Values(chunk.DocumentID, chunk.Index, chunk.TotalChunks, chunk.Text, chunk.Fingerprint, vec).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, core.NewStoreError("insert chunk", err)
	}
	var id int64
	if err := p.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, classify("insert chunk", err)
	}
	return id, nil
}

// GetChunks returns the chunks of a document ordered by index.
func (p *Postgres) GetChunks(ctx context.Context, documentID int64) ([]Chunk, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	query, args, err := sq.Select(chunkColumns...).
		From(chunksTable).
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("chunk_index ASC", "id ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, core.NewStoreError("get chunks", err)
	}
	var rows []*chunkRow
	if err := pgxscan.Select(ctx, p.db, &rows, query, args...); err != nil {
		return nil, classify("get chunks", err)
	}
	out := make([]Chunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toChunk())
	}
	return out, nil
}

// SimilaritySearch ranks embedded chunks by cosine similarity, ties broken by
// chunk id. The inner query orders by distance alone so the HNSW index can
// serve it; the outer query applies the tie-break to the limited set.
func (p *Postgres) SimilaritySearch(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	vec := pgvector.NewVector(q.Vector)
	nearest := sq.Select(
		"c.id AS chunk_id",
		"c.document_id",
		"c.chunk_index",
		"c.total_chunks",
		"c.content",
		"c.content_hash",
		"c.created_at",
		"COALESCE(d.title, '') AS title",
		"COALESCE(d.source_path, '') AS source_path",
		"COALESCE(d.source_type, '') AS source_type",
	).
		Column(sq.Expr("c.embedding <=> ? AS distance", vec)).
		From(chunksTable + " c").
		Join(documentsTable + " d ON d.id = c.document_id").
		Where("c.embedding IS NOT NULL")
	if q.MinScore != nil {
		nearest = nearest.Where(sq.Expr("1 - (c.embedding <=> ?) >= ?", vec, *q.MinScore))
	}
	nearest = nearest.
		OrderByClause("c.embedding <=> ? ASC", vec).
		Limit(uint64(q.Limit))
	query, args, err := sq.Select(
		"chunk_id", "document_id", "chunk_index", "total_chunks", "content", "content_hash",
		"created_at", "title", "source_path", "source_type", "1 - distance AS score",
	).
		FromSelect(nearest, "ranked").
		OrderBy("distance ASC", "chunk_id ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, core.NewStoreError("similarity search", err)
	}
	results := make([]SearchResult, 0, q.Limit)
	if err := pgxscan.Select(ctx, p.db, &results, query, args...); err != nil {
		return nil, classify("similarity search", err)
	}
	return results, nil
}

// DropAll removes every document and, by cascade, every chunk.
func (p *Postgres) DropAll(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	query := fmt.Sprintf("TRUNCATE TABLE %s, %s RESTART IDENTITY CASCADE",
		pgx.Identifier{chunksTable}.Sanitize(), pgx.Identifier{documentsTable}.Sanitize())
	if _, err := p.db.Exec(ctx, query); err != nil {
		return classify("drop all", err)
	}
	return nil
}

func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	query, args, err := sq.Select(
		"(SELECT count(*) FROM "+documentsTable+") AS documents",
		"(SELECT count(*) FROM "+chunksTable+") AS chunks",
		"(SELECT count(*) FROM "+chunksTable+" WHERE embedding IS NOT NULL) AS embedded_chunks",
	).ToSql()
	if err != nil {
		return nil, core.NewStoreError("stats", err)
	}
	var st Stats
	if err := pgxscan.Get(ctx, p.db, &st, query, args...); err != nil {
		return nil, classify("stats", err)
	}
	return &st, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (q SearchQuery) validate() error {
	if len(q.Vector) == 0 {
		return core.InvalidInputf("search vector must not be empty")
	}
	if q.Limit <= 0 {
		return core.InvalidInputf("search limit must be positive, got %d", q.Limit)
	}
	return nil
}
