package config

import (
	"testing"
	"time"

	"github.com/megaagent/memcore/internal/memerr"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"POSTGRES_DSN": "postgres://user:pw@localhost:5432/mega",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.PoolSize != 10 || cfg.MaxOverflow != 5 {
		t.Errorf("pool defaults = (%d, %d), want (10, 5)", cfg.PoolSize, cfg.MaxOverflow)
	}
	if cfg.PoolTimeout != 30*time.Second {
		t.Errorf("PoolTimeout = %v, want 30s", cfg.PoolTimeout)
	}
	if cfg.EmbeddingModel != "text-embedding-3-small" || cfg.EmbeddingDimension != 1536 {
		t.Errorf("embedding defaults = (%q, %d)", cfg.EmbeddingModel, cfg.EmbeddingDimension)
	}
	if cfg.Namespace != "default" {
		t.Errorf("Namespace = %q, want default", cfg.Namespace)
	}
	if cfg.RMTSweepInterval != 10*time.Minute {
		t.Errorf("RMTSweepInterval = %v, want 10m", cfg.RMTSweepInterval)
	}
	if cfg.ConsolidationInterval != 0 {
		t.Errorf("ConsolidationInterval = %v, want 0", cfg.ConsolidationInterval)
	}
}

func TestFromEnvMissingDSN(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{}))
	if memerr.KindOf(err) != memerr.KindConfig {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestFromEnvDatabaseURLFallback(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"DATABASE_URL": "postgresql://user:pw@db/mega",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.PostgresDSN != "postgres://user:pw@db/mega" {
		t.Errorf("PostgresDSN = %q", cfg.PostgresDSN)
	}
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@h/db", "postgres://u:p@h/db"},
		{"postgresql://u:p@h/db", "postgres://u:p@h/db"},
		{"postgresql+asyncpg://u:p@h/db", "postgres://u:p@h/db"},
		{"postgresql+psycopg://u:p@h/db", "postgres://u:p@h/db"},
		{"host=localhost dbname=mega", "host=localhost dbname=mega"},
	}
	for _, tt := range tests {
		if got := NormalizeDSN(tt.in); got != tt.want {
			t.Errorf("NormalizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDimensionValidation(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		dim     string
		wantErr bool
	}{
		{"small model default dim", "text-embedding-3-small", "1536", false},
		{"small model reduced dim", "text-embedding-3-small", "512", false},
		{"small model wrong dim", "text-embedding-3-small", "3072", true},
		{"large model", "text-embedding-3-large", "3072", false},
		{"unknown model any dim", "custom-embedder", "2000", false},
		{"zero dimension", "custom-embedder", "0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envMap(map[string]string{
				"POSTGRES_DSN":        "postgres://u:p@h/db",
				"EMBEDDING_MODEL":     tt.model,
				"EMBEDDING_DIMENSION": tt.dim,
			}))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && memerr.KindOf(err) != memerr.KindConfig {
				t.Errorf("wrong kind: %v", err)
			}
		})
	}
}

func TestPoolTuning(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"POSTGRES_DSN":    "postgres://u:p@h/db",
		"DB_POOL_SIZE":    "20",
		"DB_MAX_OVERFLOW": "10",
		"DB_POOL_TIMEOUT": "45",
		"DB_POOL_RECYCLE": "15m",
		"PGBOUNCER_MODE":  "transaction",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.MaxConns() != 30 {
		t.Errorf("MaxConns() = %d, want 30", cfg.MaxConns())
	}
	if cfg.PoolTimeout != 45*time.Second {
		t.Errorf("PoolTimeout = %v, want 45s", cfg.PoolTimeout)
	}
	if cfg.PoolRecycle != 15*time.Minute {
		t.Errorf("PoolRecycle = %v, want 15m", cfg.PoolRecycle)
	}
	if !cfg.PgBouncerMode {
		t.Error("PgBouncerMode not set")
	}
}

func TestInvalidInteger(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"POSTGRES_DSN": "postgres://u:p@h/db",
		"DB_POOL_SIZE": "lots",
	}))
	if memerr.KindOf(err) != memerr.KindConfig {
		t.Errorf("expected config error, got %v", err)
	}
}
