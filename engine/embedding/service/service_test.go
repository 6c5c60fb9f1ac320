package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/engine/embedding/model"
)

type fakeModel struct {
	mu        sync.Mutex
	dimension int
	calls     [][]string
	gate      chan struct{}
	wrongDim  bool
	zeroFor   string
	err       error
	closed    atomic.Bool
}

func (f *fakeModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		dim := f.dimension
		if f.wrongDim {
			dim--
		}
		v := make([]float32, dim)
		if text == f.zeroFor {
			out[i] = v
			continue
		}
		v[0] = float32(3 * (len(text) + 1))
		v[1] = float32(4 * (len(text) + 1))
		out[i] = v
	}
	return out, nil
}

func (f *fakeModel) Dimension() int   { return f.dimension }
func (f *fakeModel) Identity() string { return "fake:model" }
func (f *fakeModel) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func loaderFor(m model.Model) model.Loader {
	return func(context.Context) (model.Model, error) { return m, nil }
}

func newTestService(t *testing.T, m model.Model, mutate func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Device:         "cpu",
		ModelPath:      "/models/fake",
		Dimension:      8,
		LockDir:        t.TempDir(),
		MaxBatchChunks: 64,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(cfg, loaderFor(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	t.Run("Should reject work before the model is loaded", func(t *testing.T) {
		svc := newTestService(t, &fakeModel{dimension: 8}, nil)
		assert.Equal(t, StateUnloaded, svc.State())
		_, err := svc.EmbedBatch(t.Context(), [][]string{{"a"}})
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		_, err = svc.EmbedQuery(t.Context(), "")
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		assert.False(t, svc.Health().Ready)
	})

	t.Run("Should become ready and report health", func(t *testing.T) {
		svc := newTestService(t, &fakeModel{dimension: 8}, nil)
		require.NoError(t, svc.Start(t.Context()))
		h := svc.Health()
		assert.Equal(t, StateReady, h.State)
		assert.True(t, h.Ready)
		assert.Equal(t, "cpu", h.Device)
		assert.Equal(t, "/models/fake", h.ModelPath)
		assert.Equal(t, "fake:model", h.Model)
		require.Error(t, svc.Start(t.Context()))
	})

	t.Run("Should enter Failed and stay there when loading fails", func(t *testing.T) {
		svc, err := New(Config{Device: "cpu", Dimension: 8, LockDir: t.TempDir()},
			func(context.Context) (model.Model, error) { return nil, errors.New("driver fault") })
		require.NoError(t, err)
		require.Error(t, svc.Start(t.Context()))
		assert.Equal(t, StateFailed, svc.State())
		assert.ErrorContains(t, svc.Health().Err, "driver fault")
		_, err = svc.EmbedBatch(t.Context(), [][]string{{"a"}})
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		require.Error(t, svc.Start(t.Context()))
		assert.Equal(t, StateFailed, svc.State())
	})

	t.Run("Should fail when the model dimension does not match", func(t *testing.T) {
		svc := newTestService(t, &fakeModel{dimension: 4}, nil)
		require.Error(t, svc.Start(t.Context()))
		assert.Equal(t, StateFailed, svc.State())
	})

	t.Run("Should hold the device exclusively until shutdown", func(t *testing.T) {
		dir := t.TempDir()
		first := newTestService(t, &fakeModel{dimension: 8}, func(c *Config) { c.LockDir = dir })
		second := newTestService(t, &fakeModel{dimension: 8}, func(c *Config) { c.LockDir = dir })
		require.NoError(t, first.Start(t.Context()))
		require.Error(t, second.Start(t.Context()))
		assert.Equal(t, StateFailed, second.State())

		require.NoError(t, first.Shutdown(t.Context()))
		assert.Equal(t, StateShuttingDown, first.State())
		_, err := first.EmbedQuery(t.Context(), "q")
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)

		third := newTestService(t, &fakeModel{dimension: 8}, func(c *Config) { c.LockDir = dir })
		require.NoError(t, third.Start(t.Context()))
	})

	t.Run("Should keep the Failed state across shutdown", func(t *testing.T) {
		svc, err := New(Config{Device: "cpu", Dimension: 8, LockDir: t.TempDir()},
			func(context.Context) (model.Model, error) { return nil, errors.New("driver fault") })
		require.NoError(t, err)
		require.Error(t, svc.Start(t.Context()))
		require.NoError(t, svc.Shutdown(t.Context()))
		assert.Equal(t, StateFailed, svc.State())
		assert.ErrorContains(t, svc.Health().Err, "driver fault")
	})

	t.Run("Should release the model and device after a shutdown timeout", func(t *testing.T) {
		dir := t.TempDir()
		fm := &fakeModel{dimension: 8, gate: make(chan struct{})}
		svc := newTestService(t, fm, func(c *Config) { c.LockDir = dir })
		require.NoError(t, svc.Start(t.Context()))
		embedDone := make(chan error, 1)
		go func() {
			_, err := svc.EmbedBatch(context.Background(), [][]string{{"a"}})
			embedDone <- err
		}()
		require.Eventually(t, func() bool { return fm.callCount() == 1 }, time.Second, 5*time.Millisecond)

		expired, cancel := context.WithCancel(t.Context())
		cancel()
		require.ErrorIs(t, svc.Shutdown(expired), context.Canceled)
		assert.False(t, fm.closed.Load())

		close(fm.gate)
		require.NoError(t, <-embedDone)
		require.Eventually(t, fm.closed.Load, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			next, err := New(Config{Device: "cpu", Dimension: 8, LockDir: dir}, loaderFor(&fakeModel{dimension: 8}))
			require.NoError(t, err)
			if err := next.Start(t.Context()); err != nil {
				return false
			}
			return next.Shutdown(t.Context()) == nil
		}, time.Second, 10*time.Millisecond)
	})
}

func TestService_Embed(t *testing.T) {
	t.Run("Should return unit vectors per chunk per document", func(t *testing.T) {
		fm := &fakeModel{dimension: 8}
		svc := newTestService(t, fm, nil)
		require.NoError(t, svc.Start(t.Context()))
		out, err := svc.EmbedBatch(t.Context(), [][]string{{"a", "bb"}, {"ccc"}})
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Len(t, out[0], 2)
		require.Len(t, out[1], 1)
		for _, doc := range out {
			for _, v := range doc {
				assert.Len(t, v, 8)
				assert.InDelta(t, 1.0, embedding.L2Norm(v), embedding.NormTolerance)
			}
		}
		assert.InDelta(t, 0.6, out[0][0][0], 1e-6)
		assert.InDelta(t, 0.8, out[0][0][1], 1e-6)
		assert.Equal(t, 1, fm.callCount())
	})

	t.Run("Should reject the whole batch before calling the model", func(t *testing.T) {
		fm := &fakeModel{dimension: 8}
		svc := newTestService(t, fm, nil)
		require.NoError(t, svc.Start(t.Context()))
		_, err := svc.EmbedBatch(t.Context(), [][]string{{"a"}, {}, {"b"}})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.ErrorContains(t, err, "index 1")
		_, err = svc.EmbedBatch(t.Context(), nil)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.Equal(t, 0, fm.callCount())
	})

	t.Run("Should route queries through the batch path", func(t *testing.T) {
		fm := &fakeModel{dimension: 8}
		svc := newTestService(t, fm, nil)
		require.NoError(t, svc.Start(t.Context()))
		_, err := svc.EmbedQuery(t.Context(), "  \t ")
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		q, err := svc.EmbedQuery(t.Context(), "hello")
		require.NoError(t, err)
		batch, err := svc.EmbedBatch(t.Context(), [][]string{{"hello"}})
		require.NoError(t, err)
		assert.Equal(t, batch[0][0], q)
		assert.InDelta(t, 1.0, embedding.L2Norm(q), embedding.NormTolerance)
	})

	t.Run("Should surface model output with the wrong width", func(t *testing.T) {
		svc := newTestService(t, &fakeModel{dimension: 8, wrongDim: true}, nil)
		require.NoError(t, svc.Start(t.Context()))
		_, err := svc.EmbedBatch(t.Context(), [][]string{{"a"}})
		assert.ErrorContains(t, err, "dimension")
	})

	t.Run("Should reject a zero vector from the model", func(t *testing.T) {
		svc := newTestService(t, &fakeModel{dimension: 8, zeroFor: "---"}, nil)
		require.NoError(t, svc.Start(t.Context()))
		_, err := svc.EmbedBatch(t.Context(), [][]string{{"---", "words"}})
		assert.ErrorContains(t, err, "cannot be normalized")
		assert.Equal(t, StateReady, svc.State())
	})

	t.Run("Should return unit vectors for punctuation-only text with the hashing model", func(t *testing.T) {
		svc := newTestService(t, model.NewHashing(8), nil)
		require.NoError(t, svc.Start(t.Context()))
		out, err := svc.EmbedBatch(t.Context(), [][]string{{"--- * ---", "real words"}})
		require.NoError(t, err)
		for _, v := range out[0] {
			assert.InDelta(t, 1.0, embedding.L2Norm(v), embedding.NormTolerance)
		}
		q, err := svc.EmbedQuery(t.Context(), "?!")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, embedding.L2Norm(q), embedding.NormTolerance)
	})

	t.Run("Should surface model failures", func(t *testing.T) {
		svc := newTestService(t, &fakeModel{dimension: 8, err: errors.New("oom")}, nil)
		require.NoError(t, svc.Start(t.Context()))
		_, err := svc.EmbedBatch(t.Context(), [][]string{{"a"}})
		assert.ErrorContains(t, err, "oom")
		assert.Equal(t, StateReady, svc.State())
	})
}

func TestService_Batching(t *testing.T) {
	t.Run("Should coalesce queued jobs into one model call", func(t *testing.T) {
		gate := make(chan struct{})
		fm := &fakeModel{dimension: 8, gate: gate}
		svc := newTestService(t, fm, nil)
		require.NoError(t, svc.Start(t.Context()))

		var wg sync.WaitGroup
		results := make([][][][]float32, 4)
		errs := make([]error, 4)
		submit := func(i int, docs [][]string) {
			defer wg.Done()
			results[i], errs[i] = svc.EmbedBatch(context.Background(), docs)
		}
		wg.Add(1)
		go submit(0, [][]string{{"first"}})
		require.Eventually(t, func() bool { return fm.callCount() == 1 }, time.Second, 5*time.Millisecond)
		for i := 1; i < 4; i++ {
			wg.Add(1)
			go submit(i, [][]string{{"x"}, {"yy", "zzz"}})
		}
		require.Eventually(t, func() bool { return len(svc.jobs) == 3 }, time.Second, 5*time.Millisecond)
		close(gate)
		wg.Wait()

		for i := range errs {
			require.NoError(t, errs[i])
		}
		assert.Equal(t, 2, fm.callCount())
		assert.Len(t, fm.calls[1], 9)
		for i := 1; i < 4; i++ {
			require.Len(t, results[i], 2)
			assert.Len(t, results[i][1], 2)
		}
	})

	t.Run("Should respect the chunk budget per model call", func(t *testing.T) {
		gate := make(chan struct{})
		fm := &fakeModel{dimension: 8, gate: gate}
		svc := newTestService(t, fm, func(c *Config) { c.MaxBatchChunks = 2 })
		require.NoError(t, svc.Start(t.Context()))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.EmbedBatch(context.Background(), [][]string{{"warmup"}})
		}()
		require.Eventually(t, func() bool { return fm.callCount() == 1 }, time.Second, 5*time.Millisecond)
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.EmbedBatch(context.Background(), [][]string{{"a", "b"}})
				assert.NoError(t, err)
			}()
		}
		require.Eventually(t, func() bool { return len(svc.jobs) == 3 }, time.Second, 5*time.Millisecond)
		close(gate)
		wg.Wait()
		assert.Equal(t, 4, fm.callCount())
	})

	t.Run("Should let a waiting caller give up on cancellation", func(t *testing.T) {
		gate := make(chan struct{})
		fm := &fakeModel{dimension: 8, gate: gate}
		svc := newTestService(t, fm, nil)
		require.NoError(t, svc.Start(t.Context()))
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		_, err := svc.EmbedBatch(ctx, [][]string{{"slow"}})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(gate)
		out, err := svc.EmbedBatch(t.Context(), [][]string{{"next"}})
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})
}
