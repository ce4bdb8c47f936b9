// Package config loads and validates environment-driven configuration for
// the memory core.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/megaagent/memcore/internal/memerr"
)

// Config holds every runtime option the memory core recognizes. All values
// come from the environment; Load applies defaults and validates.
type Config struct {
	// PostgresDSN is the normalized connection string. Populated from
	// POSTGRES_DSN, falling back to DATABASE_URL.
	PostgresDSN string

	// SSLMode is forwarded to the driver when set (PGSSLMODE).
	SSLMode string

	// PoolSize is the maximum number of pooled connections (default 10).
	PoolSize int

	// MaxOverflow is the burst headroom above PoolSize (default 5). The
	// effective pool maximum is PoolSize+MaxOverflow.
	MaxOverflow int

	// PoolTimeout bounds waiting for a free connection (default 30s).
	PoolTimeout time.Duration

	// PoolRecycle is the maximum connection lifetime (default 30m).
	PoolRecycle time.Duration

	// PgBouncerMode disables prepared-statement caching for transaction-mode
	// poolers (PGBOUNCER_MODE=transaction).
	PgBouncerMode bool

	// EmbeddingsURL is the HTTP endpoint of the embedding provider.
	EmbeddingsURL string

	// EmbeddingsAPIKey authenticates embedding requests. Sent as both
	// "Authorization: Bearer" and "apikey" headers.
	EmbeddingsAPIKey string

	// EmbeddingModel is the model identifier sent to the provider
	// (default "text-embedding-3-small").
	EmbeddingModel string

	// EmbeddingDimension is the system-wide vector dimension D
	// (default 1536). Every stored embedding must have this length.
	EmbeddingDimension int

	// Namespace scopes all semantic records (default "default").
	Namespace string

	// ConsolidationInterval is the background consolidation cadence.
	// Zero disables scheduled consolidation.
	ConsolidationInterval time.Duration

	// RMTSweepInterval is the TTL sweep cadence for working-memory buffers
	// (default 10m).
	RMTSweepInterval time.Duration

	// LogLevel and LogFormat configure the structured logger.
	LogLevel  string
	LogFormat string
}

// knownModelDimensions maps model identifiers to the dimensions they emit.
// Models absent from this table accept any positive dimension.
var knownModelDimensions = map[string][]int{
	"text-embedding-3-small": {512, 1536},
	"text-embedding-3-large": {256, 1024, 3072},
	"text-embedding-ada-002": {1536},
	"nomic-embed-text":       {768},
	"mxbai-embed-large":      {1024},
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged first without overriding already-set variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function. Split out from
// Load so tests can inject an environment without mutating the process.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		SSLMode:          getenv("PGSSLMODE"),
		EmbeddingsURL:    getenv("EMBEDDINGS_URL"),
		EmbeddingsAPIKey: getenv("EMBEDDINGS_API_KEY"),
		EmbeddingModel:   envDefault(getenv, "EMBEDDING_MODEL", "text-embedding-3-small"),
		Namespace:        envDefault(getenv, "VECTOR_NAMESPACE", "default"),
		LogLevel:         envDefault(getenv, "LOG_LEVEL", "info"),
		LogFormat:        envDefault(getenv, "LOG_FORMAT", "json"),
		PgBouncerMode:    strings.EqualFold(getenv("PGBOUNCER_MODE"), "transaction"),
	}

	dsn := getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, memerr.New(memerr.KindConfig, "no database DSN: set POSTGRES_DSN or DATABASE_URL")
	}
	cfg.PostgresDSN = NormalizeDSN(dsn)

	var err error
	if cfg.PoolSize, err = envInt(getenv, "DB_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.MaxOverflow, err = envInt(getenv, "DB_MAX_OVERFLOW", 5); err != nil {
		return nil, err
	}
	if cfg.PoolTimeout, err = envSeconds(getenv, "DB_POOL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PoolRecycle, err = envSeconds(getenv, "DB_POOL_RECYCLE", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDimension, err = envInt(getenv, "EMBEDDING_DIMENSION", 1536); err != nil {
		return nil, err
	}
	if cfg.ConsolidationInterval, err = envDuration(getenv, "CONSOLIDATION_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.RMTSweepInterval, err = envDuration(getenv, "RMT_TTL_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that make the core unusable when broken.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return memerr.New(memerr.KindConfig, "empty database DSN")
	}
	if c.PoolSize <= 0 {
		return memerr.New(memerr.KindConfig, "DB_POOL_SIZE must be positive, got %d", c.PoolSize)
	}
	if c.MaxOverflow < 0 {
		return memerr.New(memerr.KindConfig, "DB_MAX_OVERFLOW must be non-negative, got %d", c.MaxOverflow)
	}
	if c.EmbeddingDimension <= 0 {
		return memerr.New(memerr.KindConfig, "EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if dims, ok := knownModelDimensions[c.EmbeddingModel]; ok {
		valid := false
		for _, d := range dims {
			if d == c.EmbeddingDimension {
				valid = true
				break
			}
		}
		if !valid {
			return memerr.New(memerr.KindConfig,
				"EMBEDDING_DIMENSION %d is not valid for model %q (expected one of %v)",
				c.EmbeddingDimension, c.EmbeddingModel, dims)
		}
	}
	return nil
}

// MaxConns returns the effective pool ceiling.
func (c *Config) MaxConns() int {
	return c.PoolSize + c.MaxOverflow
}

// NormalizeDSN rewrites SQLAlchemy-style driver prefixes to the form the
// Postgres wire driver accepts.
func NormalizeDSN(dsn string) string {
	for _, prefix := range []string{"postgresql+asyncpg://", "postgresql+psycopg://", "postgresql+psycopg2://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "postgres://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	if strings.HasPrefix(dsn, "postgresql://") {
		return "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	return dsn
}

func envDefault(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, memerr.New(memerr.KindConfig, "%s: invalid integer %q", key, v)
	}
	return n, nil
}

// envSeconds parses a bare number as seconds, matching how the pool tuning
// variables are conventionally expressed. Duration syntax ("45s", "2m") is
// also accepted.
func envSeconds(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, memerr.New(memerr.KindConfig, "%s: invalid duration %q", key, v)
	}
	return d, nil
}

func envDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			return time.Duration(n) * time.Second, nil
		}
		return 0, memerr.New(memerr.KindConfig, "%s: invalid duration %q", key, v)
	}
	return d, nil
}
