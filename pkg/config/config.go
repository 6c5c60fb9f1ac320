package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration of the knowledge base tooling.
type Config struct {
	Database        DatabaseConfig        `koanf:"database"         validate:"required"`
	EmbeddingClient EmbeddingClientConfig `koanf:"embedding_client" validate:"required"`
	EmbeddingServer EmbeddingServerConfig `koanf:"embedding_server" validate:"required"`
	Chunking        ChunkingConfig        `koanf:"chunking"         validate:"required"`
	Ingest          IngestConfig          `koanf:"ingest"           validate:"required"`
	Search          SearchConfig          `koanf:"search"           validate:"required"`
	Monitoring      MonitoringConfig      `koanf:"monitoring"`
}

// DatabaseConfig holds the Postgres (pgvector) connection settings.
type DatabaseConfig struct {
	ConnString        string          `koanf:"conn_string"         env:"KB_DATABASE_URL"`
	Host              string          `koanf:"host"                env:"KB_HOST"                validate:"required_without=ConnString"`
	Port              int             `koanf:"port"                env:"KB_PORT"                validate:"min=1,max=65535"`
	User              string          `koanf:"user"                env:"KB_USER"`
	Password          SensitiveString `koanf:"password"            env:"KB_PASSWORD"`
	DBName            string          `koanf:"dbname"              env:"KB_DATABASE"            validate:"required_without=ConnString"`
	SSLMode           string          `koanf:"sslmode"             env:"KB_SSLMODE"             validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns          int32           `koanf:"max_conns"           env:"KB_DB_MAX_CONNS"        validate:"min=1"`
	MinConns          int32           `koanf:"min_conns"           env:"KB_DB_MIN_CONNS"        validate:"min=0"`
	ConnMaxLifetime   time.Duration   `koanf:"conn_max_lifetime"   env:"KB_DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime   time.Duration   `koanf:"conn_max_idle_time"  env:"KB_DB_CONN_MAX_IDLE_TIME"`
	HealthCheckPeriod time.Duration   `koanf:"health_check_period" env:"KB_DB_HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration   `koanf:"connect_timeout"     env:"KB_DB_CONNECT_TIMEOUT"`
	OpTimeout         time.Duration   `koanf:"op_timeout"          env:"KB_DB_OP_TIMEOUT"       validate:"min=0"`
	AutoMigrate       bool            `koanf:"auto_migrate"        env:"KB_DB_AUTO_MIGRATE"`
}

// DSN returns the explicit connection string or one assembled from the parts.
func (c *DatabaseConfig) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	if c.User != "" {
		if c.Password.Value() != "" {
			u.User = url.UserPassword(c.User, c.Password.Value())
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedactDSN masks the password of a URL style connection string.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

// EmbeddingClientConfig configures calls to the embedding service.
type EmbeddingClientConfig struct {
	URL              string        `koanf:"url"                 env:"KB_EMBEDDING_SERVER_URL"    validate:"required,url"`
	EmbedTimeout     time.Duration `koanf:"embed_timeout"       env:"KB_EMBED_TIMEOUT"           validate:"min=1ms"`
	HealthTimeout    time.Duration `koanf:"health_timeout"      env:"KB_HEALTH_TIMEOUT"          validate:"min=1ms"`
	MaxRetries       uint64        `koanf:"max_retries"         env:"KB_EMBED_MAX_RETRIES"`
	RetryBackoff     time.Duration `koanf:"retry_backoff"       env:"KB_EMBED_RETRY_BACKOFF"     validate:"min=1ms"`
	RetryMaxDuration time.Duration `koanf:"retry_max_duration"  env:"KB_EMBED_RETRY_MAX_DURATION"`
	MaxDocsPerCall   int           `koanf:"max_docs_per_call"   env:"KB_EMBED_MAX_DOCS_PER_CALL" validate:"min=1"`
	MaxChunksPerCall int           `koanf:"max_chunks_per_call" env:"KB_EMBED_MAX_CHUNKS_PER_CALL" validate:"min=1"`
	QueryCacheSize   int           `koanf:"query_cache_size"    env:"KB_EMBED_QUERY_CACHE_SIZE"  validate:"min=0"`
}

// EmbeddingServerConfig configures the embedding service process.
type EmbeddingServerConfig struct {
	Host           string          `koanf:"host"             env:"KB_EMBED_HOST"           validate:"required"`
	Port           int             `koanf:"port"             env:"KB_EMBED_PORT"           validate:"min=1,max=65535"`
	Provider       string          `koanf:"provider"         env:"KB_EMBED_PROVIDER"       validate:"oneof=hashing local openai ollama"`
	Model          string          `koanf:"model"            env:"KB_EMBED_MODEL"`
	ModelPath      string          `koanf:"model_path"       env:"KB_EMBED_MODEL_PATH"`
	BaseURL        string          `koanf:"base_url"         env:"KB_EMBED_BASE_URL"`
	APIKey         SensitiveString `koanf:"api_key"          env:"KB_EMBED_API_KEY"`
	Device         string          `koanf:"device"           env:"KB_EMBED_DEVICE"         validate:"required"`
	Dimension      int             `koanf:"dimension"        env:"KB_EMBED_DIMENSION"      validate:"min=1"`
	LockDir        string          `koanf:"lock_dir"         env:"KB_EMBED_LOCK_DIR"`
	BatchWindow    time.Duration   `koanf:"batch_window"     env:"KB_EMBED_BATCH_WINDOW"   validate:"min=0"`
	MaxBatchChunks int             `koanf:"max_batch_chunks" env:"KB_EMBED_MAX_BATCH_CHUNKS" validate:"min=1"`
	QueueSize      int             `koanf:"queue_size"       env:"KB_EMBED_QUEUE_SIZE"     validate:"min=1"`
	WriteTimeout   time.Duration   `koanf:"write_timeout"    env:"KB_EMBED_WRITE_TIMEOUT"  validate:"min=0"`
}

// Address returns the host:port listen address.
func (c *EmbeddingServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ChunkingConfig struct {
	Size    int `koanf:"size"    env:"KB_CHUNK_SIZE"    validate:"min=1"`
	Overlap int `koanf:"overlap" env:"KB_CHUNK_OVERLAP" validate:"min=0,ltfield=Size"`
}

type IngestConfig struct {
	Concurrency int   `koanf:"concurrency"    env:"KB_INGEST_CONCURRENCY"    validate:"min=1"`
	MaxFileSize int64 `koanf:"max_file_size"  env:"KB_INGEST_MAX_FILE_SIZE"  validate:"min=1"`
}

type SearchConfig struct {
	Limit int `koanf:"limit" env:"KB_SEARCH_LIMIT" validate:"min=1"`
}

type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"KB_MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"KB_MONITORING_PATH"    validate:"startswith=/"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			User:              "knowledgebase",
			Password:          SensitiveString("knowledgebase"),
			DBName:            "knowledge_base",
			SSLMode:           "disable",
			MaxConns:          20,
			MinConns:          2,
			ConnMaxLifetime:   time.Hour,
			ConnMaxIdleTime:   30 * time.Minute,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    5 * time.Second,
			OpTimeout:         30 * time.Second,
			AutoMigrate:       true,
		},
		EmbeddingClient: EmbeddingClientConfig{
			URL:              "http://127.0.0.1:8765",
			EmbedTimeout:     60 * time.Second,
			HealthTimeout:    5 * time.Second,
			MaxRetries:       3,
			RetryBackoff:     500 * time.Millisecond,
			RetryMaxDuration: 2 * time.Minute,
			MaxDocsPerCall:   8,
			MaxChunksPerCall: 256,
			QueryCacheSize:   512,
		},
		EmbeddingServer: EmbeddingServerConfig{
			Host:           "127.0.0.1",
			Port:           8765,
			Provider:       "hashing",
			Model:          "BAAI/bge-large-en-v1.5",
			Device:         "cpu",
			Dimension:      1024,
			BatchWindow:    5 * time.Millisecond,
			MaxBatchChunks: 256,
			QueueSize:      64,
			WriteTimeout:   90 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 50,
		},
		Ingest: IngestConfig{
			Concurrency: 4,
			MaxFileSize: 64 << 20,
		},
		Search: SearchConfig{
			Limit: 5,
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}

// SensitiveString redacts its value when printed or serialized.
type SensitiveString string

const redacted = "[REDACTED]"

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the raw secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
