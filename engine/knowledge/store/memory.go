package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
)

// Memory is an in-process Store with the same contract as Postgres.
type Memory struct {
	mu        sync.RWMutex
	nextDoc   int64
	nextChunk int64
	docs      map[int64]*Document
	docByFP   map[string]int64
	chunks    map[int64]*Chunk
	chunkFP   map[string]struct{}
	now       func() time.Time
}

func NewMemory() *Memory {
	m := &Memory{now: time.Now}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.nextDoc, m.nextChunk = 0, 0
	m.docs = make(map[int64]*Document)
	m.docByFP = make(map[string]int64)
	m.chunks = make(map[int64]*Chunk)
	m.chunkFP = make(map[string]struct{})
}

func (m *Memory) DocumentExists(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, core.NewStoreError("document exists", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docByFP[fingerprint]
	return ok, nil
}

func (m *Memory) GetDocumentByFingerprint(ctx context.Context, fingerprint string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("get document by fingerprint", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.docByFP[fingerprint]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyDocument(m.docs[id]), nil
}

func (m *Memory) InsertDocument(ctx context.Context, doc NewDocument) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, core.NewStoreError("insert document", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docByFP[doc.Fingerprint]; ok {
		return 0, fmt.Errorf("%w: document fingerprint %s", core.ErrDuplicate, doc.Fingerprint)
	}
	m.nextDoc++
	d := &Document{
		ID:          m.nextDoc,
		Title:       doc.Title,
		SourcePath:  doc.SourcePath,
		SourceKind:  doc.SourceKind,
		RawText:     doc.RawText,
		Fingerprint: doc.Fingerprint,
		Metadata:    core.CloneMap(doc.Metadata),
		IngestedAt:  m.now().UTC(),
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	m.docs[d.ID] = d
	m.docByFP[d.Fingerprint] = d.ID
	return d.ID, nil
}

func (m *Memory) InsertChunk(ctx context.Context, chunk NewChunk) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, core.NewStoreError("insert chunk", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[chunk.DocumentID]; !ok {
		return 0, core.NewStoreError("insert chunk", fmt.Errorf("document %d does not exist", chunk.DocumentID))
	}
	if _, ok := m.chunkFP[chunk.Fingerprint]; ok {
		return 0, fmt.Errorf("%w: chunk fingerprint %s", core.ErrDuplicate, chunk.Fingerprint)
	}
	m.nextChunk++
	c := &Chunk{
		ID:          m.nextChunk,
		DocumentID:  chunk.DocumentID,
		Index:       chunk.Index,
		TotalChunks: chunk.TotalChunks,
		Text:        chunk.Text,
		Fingerprint: chunk.Fingerprint,
		Embedding:   embedding.CloneVector(chunk.Embedding),
		CreatedAt:   m.now().UTC(),
	}
	m.chunks[c.ID] = c
	m.chunkFP[c.Fingerprint] = struct{}{}
	return c.ID, nil
}

func (m *Memory) GetDocument(ctx context.Context, id int64) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("get document", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyDocument(d), nil
}

func (m *Memory) GetChunks(ctx context.Context, documentID int64) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("get chunks", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Chunk, 0)
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			cp := *c
			cp.Embedding = embedding.CloneVector(c.Embedding)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SimilaritySearch scans every embedded chunk. Chunks whose dimension differs
// from the query are ignored.
func (m *Memory) SimilaritySearch(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("similarity search", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]SearchResult, 0)
	for _, c := range m.chunks {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(q.Vector) {
			continue
		}
		score, err := embedding.CosineSimilarity(q.Vector, c.Embedding)
		if err != nil {
			continue
		}
		if q.MinScore != nil && score < *q.MinScore {
			continue
		}
		d := m.docs[c.DocumentID]
		results = append(results, SearchResult{
			ChunkID:     c.ID,
			DocumentID:  c.DocumentID,
			ChunkIndex:  c.Index,
			TotalChunks: c.TotalChunks,
			Content:     c.Text,
			Fingerprint: c.Fingerprint,
			CreatedAt:   c.CreatedAt,
			Title:       d.Title,
			SourcePath:  d.SourcePath,
			SourceKind:  d.SourceKind,
			Score:       score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (m *Memory) DropAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.NewStoreError("drop all", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *Memory) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("stats", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := &Stats{Documents: int64(len(m.docs)), Chunks: int64(len(m.chunks))}
	for _, c := range m.chunks {
		if c.Embedding != nil {
			st.EmbeddedChunks++
		}
	}
	return st, nil
}

func copyDocument(d *Document) *Document {
	cp := *d
	cp.Metadata = core.CloneMap(d.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	return &cp
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
