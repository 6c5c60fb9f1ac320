// Package service runs the embedding model behind a Ready-gated state machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/engine/embedding/model"
	"github.com/compozy/knowledgebase/pkg/logger"
)

const (
	defaultMaxBatchChunks = 256
	defaultQueueSize      = 64
)

// Config describes the device and batching behaviour of the service.
type Config struct {
	Device         string
	ModelPath      string
	Dimension      int
	LockDir        string
	BatchWindow    time.Duration
	MaxBatchChunks int
	QueueSize      int
	Meter          metric.Meter
}

// Health is a side-effect-free status snapshot.
type Health struct {
	State     State
	Ready     bool
	Device    string
	ModelPath string
	Model     string
	Err       error
}

// Service owns one loaded model on one device. All model calls happen on the
// batch loop goroutine; callers only enqueue jobs.
type Service struct {
	cfg     Config
	loader  model.Loader
	metrics *metrics

	state stateBox

	mu       sync.RWMutex
	model    model.Model
	claim    *deviceClaim
	loadErr  error
	identity string

	jobs    chan *job
	stop    chan struct{}
	done    chan struct{}
	pending *job
}

type job struct {
	ctx    context.Context
	docs   [][]string
	chunks int
	result chan jobResult
}

type jobResult struct {
	vectors [][][]float32
	err     error
}

// New builds an Unloaded service.
func New(cfg Config, loader model.Loader) (*Service, error) {
	if loader == nil {
		return nil, errors.New("service: model loader is required")
	}
	if strings.TrimSpace(cfg.Device) == "" {
		return nil, errors.New("service: device is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = embedding.Dimension
	}
	if cfg.MaxBatchChunks <= 0 {
		cfg.MaxBatchChunks = defaultMaxBatchChunks
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Service{
		cfg:     cfg,
		loader:  loader,
		metrics: newMetrics(cfg.Meter),
		jobs:    make(chan *job, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return s.state.load()
}

// Start claims the device and loads the model. It is valid only from
// Unloaded; a failed load leaves the service Failed until it is recreated.
func (s *Service) Start(ctx context.Context) error {
	if !s.state.transition(StateUnloaded, StateLoading) {
		return fmt.Errorf("service: cannot start from state %s", s.State())
	}
	log := logger.FromContext(ctx).With("device", s.cfg.Device)
	log.Info("Loading embedding model", "model_path", s.cfg.ModelPath)
	start := time.Now()
	claim, err := claimDevice(s.cfg.LockDir, s.cfg.Device)
	if err != nil {
		return s.fail(ctx, err)
	}
	m, err := s.loader(ctx)
	if err != nil {
		_ = claim.release()
		return s.fail(ctx, fmt.Errorf("service: load model: %w", err))
	}
	if m.Dimension() != s.cfg.Dimension {
		_ = m.Close()
		_ = claim.release()
		return s.fail(ctx, fmt.Errorf("service: model dimension %d does not match %d", m.Dimension(), s.cfg.Dimension))
	}
	s.mu.Lock()
	s.model = m
	s.claim = claim
	s.identity = m.Identity()
	s.mu.Unlock()
	if !s.state.transition(StateLoading, StateReady) {
		_ = m.Close()
		_ = claim.release()
		return fmt.Errorf("service: state changed during load to %s", s.State())
	}
	go s.run(m)
	log.Info("Embedding model ready", "model", m.Identity(), "duration", time.Since(start))
	return nil
}

func (s *Service) fail(ctx context.Context, err error) error {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
	s.state.store(StateFailed)
	logger.FromContext(ctx).Error("Embedding model failed to load", "device", s.cfg.Device, "error", err)
	return err
}

// Shutdown stops the batch loop, fails queued jobs and releases the device.
// A Failed service keeps its state so health still reports the load error.
// If ctx expires before the loop exits, the model and device are released
// once it does.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.state.transition(StateReady, StateShuttingDown) {
		// nothing is running outside Ready; a load in progress sees the new
		// state and closes what it acquired
		if !s.state.transition(StateUnloaded, StateShuttingDown) {
			s.state.transition(StateLoading, StateShuttingDown)
		}
		return nil
	}
	close(s.stop)
	select {
	case <-s.done:
		return s.release(ctx)
	case <-ctx.Done():
		bg := context.WithoutCancel(ctx)
		go func() {
			<-s.done
			if err := s.release(bg); err != nil {
				logger.FromContext(bg).Error("Failed to release embedding model", "device", s.cfg.Device, "error", err)
			}
		}()
		return fmt.Errorf("service: shutdown: %w", ctx.Err())
	}
}

func (s *Service) release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.model != nil {
		errs = append(errs, s.model.Close())
	}
	if s.claim != nil {
		errs = append(errs, s.claim.release())
	}
	s.model = nil
	s.claim = nil
	logger.FromContext(ctx).Info("Embedding service stopped", "device", s.cfg.Device)
	return errors.Join(errs...)
}

// Health reports readiness and the loaded model without side effects.
func (s *Service) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.State()
	modelPath := s.cfg.ModelPath
	if modelPath == "" {
		modelPath = s.identity
	}
	return Health{
		State:     st,
		Ready:     st == StateReady,
		Device:    s.cfg.Device,
		ModelPath: modelPath,
		Model:     s.identity,
		Err:       s.loadErr,
	}
}

func (s *Service) ensureReady() error {
	if st := s.State(); st != StateReady {
		return core.Unavailablef("model not loaded (state %s)", st)
	}
	return nil
}

// EmbedBatch embeds every chunk of every document. The whole batch is
// rejected if any document has no chunks.
func (s *Service) EmbedBatch(ctx context.Context, docs [][]string) ([][][]float32, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := validateBatch(docs); err != nil {
		return nil, err
	}
	return s.submit(ctx, docs)
}

// EmbedQuery embeds one query as a single-document, single-chunk batch.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.InvalidInputf("query must not be empty")
	}
	vectors, err := s.EmbedBatch(ctx, [][]string{{query}})
	if err != nil {
		return nil, err
	}
	return vectors[0][0], nil
}

func validateBatch(docs [][]string) error {
	if len(docs) == 0 {
		return core.InvalidInputf("chunks must be a non-empty list")
	}
	for i, doc := range docs {
		if len(doc) == 0 {
			return core.InvalidInputf("document at index %d has no chunks", i)
		}
	}
	return nil
}

func (s *Service) submit(ctx context.Context, docs [][]string) ([][][]float32, error) {
	j := &job{
		ctx:    ctx,
		docs:   docs,
		chunks: embedding.CountChunks(docs),
		result: make(chan jobResult, 1),
	}
	select {
	case s.jobs <- j:
	case <-s.stop:
		return nil, core.Unavailablef("service is shutting down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.result:
		return r.vectors, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case r := <-j.result:
			return r.vectors, r.err
		default:
			return nil, core.Unavailablef("service is shutting down")
		}
	}
}
