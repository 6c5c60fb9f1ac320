package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
)

// plane embeds a 2-D direction into the system-wide dimension.
func plane(x, y float32) []float32 {
	v := make([]float32, embedding.Dimension)
	v[0], v[1] = x, y
	return embedding.Normalize(v)
}

func seedDocument(ctx context.Context, t *testing.T, s Store, text string) int64 {
	t.Helper()
	id, err := s.InsertDocument(ctx, NewDocument{
		Title:       "doc",
		SourceKind:  SourceText,
		RawText:     text,
		Fingerprint: core.DocumentFingerprint(text),
		Metadata:    map[string]any{"filename": "doc.txt"},
	})
	require.NoError(t, err)
	return id
}

func seedChunk(ctx context.Context, t *testing.T, s Store, docID int64, idx int, text string, vec []float32) int64 {
	t.Helper()
	id, err := s.InsertChunk(ctx, NewChunk{
		DocumentID:  docID,
		Index:       idx,
		TotalChunks: 3,
		Text:        text,
		Fingerprint: core.ChunkFingerprint(core.DocumentFingerprint(text), idx, text),
		Embedding:   vec,
	})
	require.NoError(t, err)
	return id
}

// runContract exercises the behavior every Store implementation shares.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Should report duplicates for a repeated document fingerprint", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		id := seedDocument(ctx, t, s, "hello world")
		exists, err := s.DocumentExists(ctx, core.DocumentFingerprint("hello world"))
		require.NoError(t, err)
		assert.True(t, exists)
		_, err = s.InsertDocument(ctx, NewDocument{RawText: "hello world", Fingerprint: core.DocumentFingerprint("hello world")})
		assert.ErrorIs(t, err, core.ErrDuplicate)
		doc, err := s.GetDocumentByFingerprint(ctx, core.DocumentFingerprint("hello world"))
		require.NoError(t, err)
		assert.Equal(t, id, doc.ID)
		assert.Equal(t, "doc.txt", doc.Metadata["filename"])
	})
	t.Run("Should return not found for missing documents", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		_, err := s.GetDocument(ctx, 4242)
		assert.ErrorIs(t, err, core.ErrNotFound)
		exists, err := s.DocumentExists(ctx, core.DocumentFingerprint("absent"))
		require.NoError(t, err)
		assert.False(t, exists)
	})
	t.Run("Should reject a chunk fingerprint already stored", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		a := seedDocument(ctx, t, s, "first")
		b := seedDocument(ctx, t, s, "second")
		fp := core.ChunkFingerprint("shared", 0, "body")
		_, err := s.InsertChunk(ctx, NewChunk{DocumentID: a, Index: 0, TotalChunks: 1, Text: "body", Fingerprint: fp})
		require.NoError(t, err)
		_, err = s.InsertChunk(ctx, NewChunk{DocumentID: b, Index: 0, TotalChunks: 1, Text: "body", Fingerprint: fp})
		assert.ErrorIs(t, err, core.ErrDuplicate)
	})
	t.Run("Should return chunks ordered by index", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		doc := seedDocument(ctx, t, s, "ordered")
		seedChunk(ctx, t, s, doc, 2, "c", plane(0, 1))
		seedChunk(ctx, t, s, doc, 0, "a", plane(1, 0))
		seedChunk(ctx, t, s, doc, 1, "b", nil)
		chunks, err := s.GetChunks(ctx, doc)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
		assert.Nil(t, chunks[1].Embedding)
		assert.True(t, embedding.IsUnit(chunks[0].Embedding))
	})
	t.Run("Should rank by cosine similarity", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		doc := seedDocument(ctx, t, s, "ranking")
		first := seedChunk(ctx, t, s, doc, 0, "east", plane(1, 0))
		second := seedChunk(ctx, t, s, doc, 1, "north", plane(0, 1))
		third := seedChunk(ctx, t, s, doc, 2, "mostly east", plane(0.9, 0.1))
		results, err := s.SimilaritySearch(ctx, SearchQuery{Vector: plane(1, 0), Limit: 10})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, []int64{first, third, second}, []int64{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID})
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		assert.Equal(t, "doc", results[0].Title)
		assert.Equal(t, SourceText, results[0].SourceKind)
	})
	t.Run("Should filter by minimum score before the limit", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		doc := seedDocument(ctx, t, s, "threshold")
		seedChunk(ctx, t, s, doc, 0, "east", plane(1, 0))
		seedChunk(ctx, t, s, doc, 1, "north", plane(0, 1))
		seedChunk(ctx, t, s, doc, 2, "mostly east", plane(0.9, 0.1))
		minScore := 0.95
		results, err := s.SimilaritySearch(ctx, SearchQuery{Vector: plane(1, 0), MinScore: &minScore, Limit: 10})
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, minScore)
		}
	})
	t.Run("Should bound results by the limit", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		doc := seedDocument(ctx, t, s, "limit")
		seedChunk(ctx, t, s, doc, 0, "east", plane(1, 0))
		seedChunk(ctx, t, s, doc, 1, "north", plane(0, 1))
		results, err := s.SimilaritySearch(ctx, SearchQuery{Vector: plane(1, 0), Limit: 1})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
	t.Run("Should reject a non positive limit", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SimilaritySearch(t.Context(), SearchQuery{Vector: plane(1, 0)})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
	t.Run("Should drop documents and chunks", func(t *testing.T) {
		ctx := t.Context()
		s := newStore(t)
		doc := seedDocument(ctx, t, s, "dropped")
		seedChunk(ctx, t, s, doc, 0, "x", plane(1, 0))
		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.Documents)
		assert.Equal(t, int64(1), st.EmbeddedChunks)
		require.NoError(t, s.DropAll(ctx))
		st, err = s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Documents)
		assert.Zero(t, st.Chunks)
	})
}
