package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/engine/knowledge/ingest"
	"github.com/compozy/knowledgebase/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "disabled"))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func healthServer(t *testing.T, status int, body embedding.HealthResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should layer the YAML file under flag overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kb.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"chunking:\n  size: 300\n  overlap: 30\nembedding_client:\n  url: http://yaml.invalid:1\n",
		), 0o600))
		out, err := execute(t, "config", "show", "--config", path, "--embedding-url", "http://127.0.0.1:9999")
		require.NoError(t, err)
		var cfg config.Config
		require.NoError(t, json.Unmarshal([]byte(out), &cfg))
		assert.Equal(t, 300, cfg.Chunking.Size)
		assert.Equal(t, 30, cfg.Chunking.Overlap)
		assert.Equal(t, "http://127.0.0.1:9999", cfg.EmbeddingClient.URL)
	})

	t.Run("Should fail on an explicit env file that does not exist", func(t *testing.T) {
		_, err := execute(t, "config", "show", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
	})

	t.Run("Should redact database credentials", func(t *testing.T) {
		out, err := execute(t, "config", "show", "--database-url", "postgres://kb:secret@db:5432/kb")
		require.NoError(t, err)
		assert.NotContains(t, out, "secret")
		assert.Contains(t, out, "postgres://kb:xxxxx@db:5432/kb")
	})
}

func TestFlagOverrides(t *testing.T) {
	t.Run("Should only include changed flags bound to a config key", func(t *testing.T) {
		cmd := SearchCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--limit", "7", "--threshold", "0.5"}))
		assert.Equal(t, map[string]any{"search.limit": "7"}, flagOverrides(cmd.Flags()))
	})
}

func TestHealthCmd(t *testing.T) {
	t.Run("Should print the service status as JSON", func(t *testing.T) {
		srv := healthServer(t, http.StatusOK, embedding.HealthResponse{
			Status: "ready", ModelLoaded: true, Device: "cpu",
		})
		out, err := execute(t, "health", "--embedding-url", srv.URL, "--format", "json")
		require.NoError(t, err)
		var got embedding.HealthResponse
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "ready", got.Status)
		assert.True(t, got.ModelLoaded)
		assert.Equal(t, "cpu", got.Device)
	})

	t.Run("Should fail when the model is not loaded", func(t *testing.T) {
		srv := healthServer(t, http.StatusServiceUnavailable, embedding.HealthResponse{
			Status: "loading", Device: "cpu",
		})
		out, err := execute(t, "health", "--embedding-url", srv.URL, "--format", "text")
		require.ErrorIs(t, err, errNotReady)
		assert.Contains(t, out, "loading")
		assert.Contains(t, out, "model loaded: false")
	})
}

func TestDropCmd(t *testing.T) {
	t.Run("Should refuse to drop without confirmation", func(t *testing.T) {
		_, err := execute(t, "drop")
		require.ErrorIs(t, err, errDropNotConfirmed)
	})
}

func TestPrinter(t *testing.T) {
	t.Run("Should fall back to JSON when output is not a terminal", func(t *testing.T) {
		cmd := RootCmd()
		cmd.SetOut(&bytes.Buffer{})
		require.NoError(t, cmd.ParseFlags(nil))
		p, err := newPrinter(cmd)
		require.NoError(t, err)
		assert.True(t, p.json)
	})

	t.Run("Should reject unknown formats", func(t *testing.T) {
		cmd := RootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--format", "yaml"}))
		_, err := newPrinter(cmd)
		require.Error(t, err)
	})

	t.Run("Should collapse whitespace and truncate previews", func(t *testing.T) {
		assert.Equal(t, "a b c", preview("a\n\n b\tc", 10))
		assert.Equal(t, "héllo...", preview("héllo world", 5))
	})
}

func TestIngestReport(t *testing.T) {
	t.Run("Should report unsupported files", func(t *testing.T) {
		r := toIngestReport(&ingest.FileResult{Path: "a.docx", Unsupported: true})
		assert.Equal(t, statusUnsupported, r.Status)
	})

	t.Run("Should report read errors as failed", func(t *testing.T) {
		r := toIngestReport(&ingest.FileResult{Path: "a.txt", Err: errors.New("permission denied")})
		assert.Equal(t, string(ingest.StatusFailed), r.Status)
		assert.Equal(t, "permission denied", r.Reason)
	})

	t.Run("Should carry partial ingestion counts", func(t *testing.T) {
		r := toIngestReport(&ingest.FileResult{Path: "a.txt", Result: &ingest.Result{
			Status:        ingest.StatusFailed,
			DocumentID:    4,
			ChunksTotal:   5,
			ChunksStored:  2,
			FailedIndices: []int{2, 3, 4},
			Reason:        "embedding failed",
		}})
		assert.Equal(t, int64(4), r.DocumentID)
		assert.Equal(t, 2, r.ChunksStored)
		assert.Equal(t, []int{2, 3, 4}, r.FailedIndices)
	})

	t.Run("Should print a summary line", func(t *testing.T) {
		var buf bytes.Buffer
		printIngestReports(&printer{w: &buf}, []ingestReport{
			{Path: "a.txt", Status: string(ingest.StatusIngested), ChunksStored: 3, ChunksTotal: 3, DocumentID: 1},
			{Path: "b.txt", Status: string(ingest.StatusSkipped), DocumentID: 1},
		})
		assert.Contains(t, buf.String(), "a.txt (chunk 3/3) id=1")
		assert.Contains(t, buf.String(), "ingested=1 skipped=1 failed=0 unsupported=0")
	})
}
