package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/engine/embedding/model"
	"github.com/compozy/knowledgebase/pkg/logger"
)

// run is the only goroutine that touches the model.
func (s *Service) run(m model.Model) {
	defer close(s.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		first := s.pending
		s.pending = nil
		if first == nil {
			select {
			case <-s.stop:
				s.drain()
				return
			case first = <-s.jobs:
			}
		}
		s.process(ctx, m, s.collect(first))
	}
}

// collect coalesces queued jobs behind first until the chunk budget or the
// batch window is exhausted. A job that would overflow the budget is kept
// for the next round.
func (s *Service) collect(first *job) []*job {
	batch := []*job{first}
	total := first.chunks
	if s.cfg.BatchWindow <= 0 || total >= s.cfg.MaxBatchChunks {
		return s.collectQueued(batch, total)
	}
	timer := time.NewTimer(s.cfg.BatchWindow)
	defer timer.Stop()
	for total < s.cfg.MaxBatchChunks {
		select {
		case j := <-s.jobs:
			if total+j.chunks > s.cfg.MaxBatchChunks {
				s.pending = j
				return batch
			}
			batch = append(batch, j)
			total += j.chunks
		case <-timer.C:
			return batch
		case <-s.stop:
			return batch
		}
	}
	return batch
}

// collectQueued takes only what is already queued, without waiting.
func (s *Service) collectQueued(batch []*job, total int) []*job {
	for total < s.cfg.MaxBatchChunks {
		select {
		case j := <-s.jobs:
			if total+j.chunks > s.cfg.MaxBatchChunks {
				s.pending = j
				return batch
			}
			batch = append(batch, j)
			total += j.chunks
		default:
			return batch
		}
	}
	return batch
}

func (s *Service) process(ctx context.Context, m model.Model, batch []*job) {
	live := batch[:0]
	texts := make([]string, 0)
	for _, j := range batch {
		if err := j.ctx.Err(); err != nil {
			j.result <- jobResult{err: err}
			continue
		}
		live = append(live, j)
		for _, doc := range j.docs {
			texts = append(texts, doc...)
		}
	}
	if len(live) == 0 {
		return
	}
	start := time.Now()
	vectors, err := m.Embed(ctx, texts)
	if err == nil {
		err = s.checkOutput(vectors, len(texts))
	}
	s.metrics.record(ctx, len(texts), start, err)
	if err != nil {
		logger.FromContext(ctx).Error("Embedding batch failed", "jobs", len(live), "chunks", len(texts), "error", err)
		for _, j := range live {
			j.result <- jobResult{err: err}
		}
		return
	}
	offset := 0
	for _, j := range live {
		out := make([][][]float32, len(j.docs))
		for d, doc := range j.docs {
			out[d] = make([][]float32, len(doc))
			for c := range doc {
				out[d][c] = embedding.Normalize(vectors[offset])
				offset++
			}
		}
		j.result <- jobResult{vectors: out}
	}
}

func (s *Service) checkOutput(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("service: model returned %d embeddings for %d chunks", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != s.cfg.Dimension {
			return fmt.Errorf("service: embedding %d has dimension %d, want %d", i, len(v), s.cfg.Dimension)
		}
		// a zero or non-finite vector cannot be normalized to unit length
		if norm := embedding.L2Norm(v); norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return fmt.Errorf("service: embedding %d has norm %v and cannot be normalized", i, norm)
		}
	}
	return nil
}

// drain fails every job still queued at shutdown.
func (s *Service) drain() {
	if s.pending != nil {
		s.pending.result <- jobResult{err: core.Unavailablef("service is shutting down")}
		s.pending = nil
	}
	for {
		select {
		case j := <-s.jobs:
			j.result <- jobResult{err: core.Unavailablef("service is shutting down")}
		default:
			return
		}
	}
}
