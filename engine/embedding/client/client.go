// Package client calls the embedding service over HTTP.
package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/pkg/logger"
)

const (
	defaultEmbedTimeout  = 60 * time.Second
	defaultHealthTimeout = 5 * time.Second
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultMaxDocs       = 8
	defaultMaxChunks     = 256
)

type Config struct {
	BaseURL          string
	EmbedTimeout     time.Duration
	HealthTimeout    time.Duration
	MaxRetries       uint64
	RetryBackoff     time.Duration
	RetryMaxDuration time.Duration
	MaxDocsPerCall   int
	MaxChunksPerCall int
	QueryCacheSize   int
	Dimension        int
	HTTPClient       *http.Client
}

// Client owns batching, per-call timeouts and bounded retries of
// ServiceUnavailable conditions.
type Client struct {
	cfg   Config
	http  *resty.Client
	cache *lru.Cache[string, []float32]
}

// problemBody is the RFC 7807 shape written by the service.
type problemBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Details string `json:"details"`
	Code    string `json:"code"`
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("embedding client: base url is required")
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaultEmbedTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxDocsPerCall <= 0 {
		cfg.MaxDocsPerCall = defaultMaxDocs
	}
	if cfg.MaxChunksPerCall <= 0 {
		cfg.MaxChunksPerCall = defaultMaxChunks
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = embedding.Dimension
	}
	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	c := &Client{cfg: cfg, http: rc}
	if cfg.QueryCacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.QueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedding client: init cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Embed returns one vector per chunk per document, in input order.
func (c *Client) Embed(ctx context.Context, docs [][]string) ([][][]float32, error) {
	if len(docs) == 0 {
		return [][][]float32{}, nil
	}
	for i, doc := range docs {
		if len(doc) == 0 {
			return nil, core.InvalidInputf("document at index %d has no chunks", i)
		}
	}
	log := logger.FromContext(ctx)
	out := make([][][]float32, 0, len(docs))
	spans := planBatches(docs, c.cfg.MaxDocsPerCall, c.cfg.MaxChunksPerCall)
	for i, sp := range spans {
		part := docs[sp.start:sp.end]
		var resp embedding.EmbedResponse
		err := c.do(ctx, c.cfg.EmbedTimeout, "/embed", embedding.EmbedRequest{Chunks: part}, &resp)
		if err != nil {
			return nil, err
		}
		if err := c.checkBatch(part, resp.Embeddings); err != nil {
			return nil, err
		}
		out = append(out, resp.Embeddings...)
		log.Debug("Embedded batch", "call", i+1, "calls", len(spans), "documents", len(part))
	}
	return out, nil
}

// EmbedQuery returns the vector for a single query string.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.InvalidInputf("query must not be empty")
	}
	key := cacheKey(query)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return embedding.CloneVector(v), nil
		}
	}
	var resp embedding.QueryResponse
	if err := c.do(ctx, c.cfg.EmbedTimeout, "/embed_query", embedding.QueryRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) != c.cfg.Dimension {
		return nil, fmt.Errorf("embedding client: query embedding has dimension %d, want %d", len(resp.Embedding), c.cfg.Dimension)
	}
	if c.cache != nil {
		c.cache.Add(key, embedding.CloneVector(resp.Embedding))
	}
	return resp.Embedding, nil
}

// Health fetches the service status. A not-ready service still yields a body.
func (c *Client) Health(ctx context.Context) (*embedding.HealthResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	var out embedding.HealthResponse
	resp, err := c.http.R().SetContext(callCtx).SetResult(&out).SetError(&out).Get("/health")
	if err != nil {
		return nil, core.Unavailablef("health: %v", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("embedding client: health returned status %d", resp.StatusCode())
	}
	return &out, nil
}

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.RetryBackoff)
	if c.cfg.RetryMaxDuration > 0 {
		b = retry.WithMaxDuration(c.cfg.RetryMaxDuration, b)
	}
	b = retry.WithJitter(50*time.Millisecond, b)
	return retry.WithMaxRetries(c.cfg.MaxRetries, b)
}

// do posts body with a per-attempt timeout, retrying only ServiceUnavailable.
func (c *Client) do(ctx context.Context, timeout time.Duration, path string, body, result any) error {
	attempt := 0
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		err := c.post(ctx, timeout, path, body, result)
		if err != nil && errors.Is(err, core.ErrServiceUnavailable) {
			logger.FromContext(ctx).Warn("Embedding service unavailable", "path", path, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, timeout time.Duration, path string, body, result any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var problem problemBody
	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(body).
		SetResult(result).
		SetError(&problem).
		Post(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return core.Unavailablef("%s: %v", path, err)
	}
	switch code := resp.StatusCode(); {
	case code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusServiceUnavailable:
		return core.Unavailablef("%s: %s", path, detailOf(&problem, resp))
	case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
		return core.InvalidInputf("%s: %s", path, detailOf(&problem, resp))
	default:
		return fmt.Errorf("embedding client: %s returned status %d: %s", path, code, detailOf(&problem, resp))
	}
}

func detailOf(p *problemBody, resp *resty.Response) string {
	if p.Details != "" {
		return p.Details
	}
	if p.Error != "" {
		return p.Error
	}
	return strings.TrimSpace(resp.String())
}

func (c *Client) checkBatch(docs [][]string, got [][][]float32) error {
	if len(got) != len(docs) {
		return fmt.Errorf("embedding client: received %d documents for %d", len(got), len(docs))
	}
	for i := range docs {
		if len(got[i]) != len(docs[i]) {
			return fmt.Errorf("embedding client: document %d has %d vectors for %d chunks", i, len(got[i]), len(docs[i]))
		}
		for j, v := range got[i] {
			if len(v) != c.cfg.Dimension {
				return fmt.Errorf("embedding client: document %d chunk %d has dimension %d, want %d", i, j, len(v), c.cfg.Dimension)
			}
		}
	}
	return nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
