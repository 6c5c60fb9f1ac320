package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/engine/knowledge/chunk"
	"github.com/compozy/knowledgebase/engine/knowledge/files"
	"github.com/compozy/knowledgebase/engine/knowledge/store"
)

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, docs [][]string) ([][][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][][]float32, len(docs))
	for i, doc := range docs {
		out[i] = make([][]float32, len(doc))
		for j := range doc {
			out[i][j] = embedding.Normalize([]float32{float32(j + 1), 1, 0})
		}
	}
	return out, nil
}

// flakyStore wraps Memory and injects failures.
type flakyStore struct {
	*store.Memory
	hideExisting bool
	existsErr    error
	chunkErr     map[int]error
	onChunk      func(index int)
}

func (f *flakyStore) DocumentExists(ctx context.Context, fp string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	if f.hideExisting {
		return false, nil
	}
	return f.Memory.DocumentExists(ctx, fp)
}

func (f *flakyStore) InsertChunk(ctx context.Context, c store.NewChunk) (int64, error) {
	if f.onChunk != nil {
		f.onChunk(c.Index)
	}
	if err, ok := f.chunkErr[c.Index]; ok {
		return 0, err
	}
	return f.Memory.InsertChunk(ctx, c)
}

func newOrchestrator(t *testing.T, s store.Store, e Embedder, size, overlap int) *Orchestrator {
	t.Helper()
	c, err := chunk.NewChunker(size, overlap)
	require.NoError(t, err)
	o, err := New(s, e, c)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_Ingest(t *testing.T) {
	t.Run("Should store every chunk in index order", func(t *testing.T) {
		ctx := t.Context()
		mem := store.NewMemory()
		emb := &fakeEmbedder{}
		o := newOrchestrator(t, mem, emb, 4, 1)
		res, err := o.Ingest(ctx, Input{Text: "abcdefghij", Title: "letters", SourceKind: store.SourceText})
		require.NoError(t, err)
		assert.Equal(t, StatusIngested, res.Status)
		assert.Equal(t, 3, res.ChunksTotal)
		assert.Equal(t, 3, res.ChunksStored)
		assert.False(t, res.Partial())
		chunks, err := mem.GetChunks(ctx, res.DocumentID)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, 3, c.TotalChunks)
			assert.True(t, embedding.IsUnit(c.Embedding))
		}
		assert.Equal(t, "defg", chunks[1].Text)
	})
	t.Run("Should skip a document already ingested", func(t *testing.T) {
		ctx := t.Context()
		mem := store.NewMemory()
		emb := &fakeEmbedder{}
		o := newOrchestrator(t, mem, emb, 4, 1)
		first, err := o.Ingest(ctx, Input{Text: "repeatable text"})
		require.NoError(t, err)
		second, err := o.Ingest(ctx, Input{Text: "repeatable text"})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, second.Status)
		assert.Equal(t, first.DocumentID, second.DocumentID)
		assert.Equal(t, int32(1), emb.calls.Load())
		st, err := mem.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.Documents)
	})
	t.Run("Should keep a document that yields no chunks", func(t *testing.T) {
		ctx := t.Context()
		mem := store.NewMemory()
		emb := &fakeEmbedder{}
		o := newOrchestrator(t, mem, emb, 4, 1)
		res, err := o.Ingest(ctx, Input{Text: "   \n\t  "})
		require.NoError(t, err)
		assert.Equal(t, StatusIngested, res.Status)
		assert.NotZero(t, res.DocumentID)
		assert.Zero(t, res.ChunksTotal)
		assert.Zero(t, emb.calls.Load())
		_, err = mem.GetDocument(ctx, res.DocumentID)
		assert.NoError(t, err)
	})
	t.Run("Should abort remaining chunks after a store failure", func(t *testing.T) {
		ctx := t.Context()
		boom := core.NewStoreError("insert chunk", errors.New("connection reset"))
		var attempts []int
		s := &flakyStore{
			Memory:   store.NewMemory(),
			chunkErr: map[int]error{2: boom},
			onChunk:  func(index int) { attempts = append(attempts, index) },
		}
		o := newOrchestrator(t, s, &fakeEmbedder{}, 4, 0)
		text := "aaaabbbbccccddddeeee"
		res, err := o.Ingest(ctx, Input{Text: text})
		require.Error(t, err)
		assert.True(t, core.IsStoreError(err))
		assert.Equal(t, StatusFailed, res.Status)
		assert.NotZero(t, res.DocumentID)
		assert.Equal(t, 5, res.ChunksTotal)
		assert.Equal(t, 2, res.ChunksStored)
		assert.Equal(t, []int{2}, res.FailedIndices)
		assert.Equal(t, []int{0, 1, 2}, attempts)
		assert.True(t, res.Partial())
		chunks, err := s.GetChunks(ctx, res.DocumentID)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 0, chunks[0].Index)
		assert.Equal(t, 1, chunks[1].Index)
		again, err := o.Ingest(ctx, Input{Text: text})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, again.Status)
		assert.Equal(t, res.DocumentID, again.DocumentID)
	})
	t.Run("Should skip duplicate chunks without aborting", func(t *testing.T) {
		ctx := t.Context()
		s := &flakyStore{Memory: store.NewMemory(), chunkErr: map[int]error{1: core.ErrDuplicate}}
		o := newOrchestrator(t, s, &fakeEmbedder{}, 4, 1)
		res, err := o.Ingest(ctx, Input{Text: "abcdefghij"})
		require.NoError(t, err)
		assert.Equal(t, StatusIngested, res.Status)
		assert.Equal(t, []int{1}, res.DuplicateIndices)
		assert.Equal(t, 2, res.ChunksStored)
	})
	t.Run("Should store identical chunk text of different documents", func(t *testing.T) {
		ctx := t.Context()
		mem := store.NewMemory()
		o := newOrchestrator(t, mem, &fakeEmbedder{}, 100, 10)
		a, err := o.Ingest(ctx, Input{Text: "shared paragraph"})
		require.NoError(t, err)
		b, err := o.Ingest(ctx, Input{Text: "shared paragraph\n"})
		require.NoError(t, err)
		assert.Equal(t, StatusIngested, b.Status)
		assert.NotEqual(t, a.DocumentID, b.DocumentID)
		ca, err := mem.GetChunks(ctx, a.DocumentID)
		require.NoError(t, err)
		cb, err := mem.GetChunks(ctx, b.DocumentID)
		require.NoError(t, err)
		require.Len(t, ca, 1)
		require.Len(t, cb, 1)
		assert.Equal(t, ca[0].Text, cb[0].Text)
		assert.NotEqual(t, ca[0].Fingerprint, cb[0].Fingerprint)
	})
	t.Run("Should treat a concurrent document insert as skipped", func(t *testing.T) {
		ctx := t.Context()
		s := &flakyStore{Memory: store.NewMemory(), hideExisting: true}
		existing, err := s.InsertDocument(ctx, store.NewDocument{RawText: "raced", Fingerprint: core.DocumentFingerprint("raced")})
		require.NoError(t, err)
		emb := &fakeEmbedder{}
		o := newOrchestrator(t, s, emb, 4, 1)
		res, err := o.Ingest(ctx, Input{Text: "raced"})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, existing, res.DocumentID)
		assert.Zero(t, emb.calls.Load())
	})
	t.Run("Should fail and keep the document when embedding fails", func(t *testing.T) {
		ctx := t.Context()
		mem := store.NewMemory()
		emb := &fakeEmbedder{err: core.Unavailablef("connection refused")}
		o := newOrchestrator(t, mem, emb, 4, 1)
		res, err := o.Ingest(ctx, Input{Text: "abcdefghij"})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		assert.Equal(t, StatusFailed, res.Status)
		assert.NotEmpty(t, res.Reason)
		assert.NotZero(t, res.DocumentID)
		again, err := o.Ingest(ctx, Input{Text: "abcdefghij"})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, again.Status)
	})
	t.Run("Should fail on store errors before the document exists", func(t *testing.T) {
		s := &flakyStore{Memory: store.NewMemory(), existsErr: core.NewStoreError("document exists", errors.New("pool closed"))}
		o := newOrchestrator(t, s, &fakeEmbedder{}, 4, 1)
		res, err := o.Ingest(t.Context(), Input{Text: "abc"})
		assert.True(t, core.IsStoreError(err))
		assert.Equal(t, StatusFailed, res.Status)
		assert.Zero(t, res.DocumentID)
	})
	t.Run("Should stop inserting chunks once cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		s := &flakyStore{Memory: store.NewMemory()}
		s.onChunk = func(index int) {
			if index == 1 {
				cancel()
			}
		}
		o := newOrchestrator(t, s, &fakeEmbedder{}, 4, 0)
		res, err := o.Ingest(ctx, Input{Text: "aaaabbbbccccdddd"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, 1, res.ChunksStored)
		assert.NotZero(t, res.DocumentID)
	})
}

func TestOrchestrator_IngestFiles(t *testing.T) {
	t.Run("Should ingest files concurrently and keep input order", func(t *testing.T) {
		dir := t.TempDir()
		paths := make([]string, 0, 4)
		for _, name := range []string{"a.txt", "b.md", "c.go", "d.txt"} {
			p := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(p, []byte("content of "+name), 0o600))
			paths = append(paths, p)
		}
		paths = append(paths, filepath.Join(dir, "missing.txt"))
		mem := store.NewMemory()
		o := newOrchestrator(t, mem, &fakeEmbedder{}, 8, 2)
		results, err := o.IngestFiles(t.Context(), files.NewReader(0), paths, 2)
		require.NoError(t, err)
		require.Len(t, results, 5)
		for i, r := range results {
			assert.Equal(t, paths[i], r.Path)
		}
		assert.Equal(t, StatusIngested, results[0].Result.Status)
		assert.Equal(t, StatusIngested, results[1].Result.Status)
		assert.True(t, results[2].Unsupported)
		assert.Nil(t, results[2].Result)
		assert.Equal(t, StatusIngested, results[3].Result.Status)
		assert.Error(t, results[4].Err)
		doc, err := mem.GetDocument(t.Context(), results[1].Result.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, "b", doc.Title)
		assert.Equal(t, store.SourceMarkdown, doc.SourceKind)
	})
}
