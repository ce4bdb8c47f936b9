package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/megaagent/memcore/internal/memerr"
)

// duration accepts either Go duration syntax ("45s", "2m") or a bare
// number of seconds, matching the environment parsing.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return memerr.New(memerr.KindConfig, "invalid duration %q", s)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config with YAML tags. Pointer fields distinguish
// "absent" from zero so the overlay only touches keys the file sets.
type fileConfig struct {
	PostgresDSN           *string   `yaml:"postgres_dsn"`
	SSLMode               *string   `yaml:"ssl_mode"`
	PoolSize              *int      `yaml:"pool_size"`
	MaxOverflow           *int      `yaml:"max_overflow"`
	PoolTimeout           *duration `yaml:"pool_timeout"`
	PoolRecycle           *duration `yaml:"pool_recycle"`
	PgBouncerMode         *bool     `yaml:"pgbouncer_mode"`
	EmbeddingsURL         *string   `yaml:"embeddings_url"`
	EmbeddingsAPIKey      *string   `yaml:"embeddings_api_key"`
	EmbeddingModel        *string   `yaml:"embedding_model"`
	EmbeddingDimension    *int      `yaml:"embedding_dimension"`
	Namespace             *string   `yaml:"namespace"`
	ConsolidationInterval *duration `yaml:"consolidation_interval"`
	RMTSweepInterval      *duration `yaml:"rmt_sweep_interval"`
	LogLevel              *string   `yaml:"log_level"`
	LogFormat             *string   `yaml:"log_format"`
}

// LoadFile loads environment configuration and overlays the YAML file at
// path on top. File values win over environment values; the merged result
// is re-validated.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path onto an existing Config and
// re-validates.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return memerr.Wrap(memerr.KindConfig, err, "read config file %s", path)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return memerr.Wrap(memerr.KindConfig, err, "parse config file %s", path)
	}

	if fc.PostgresDSN != nil {
		c.PostgresDSN = NormalizeDSN(*fc.PostgresDSN)
	}
	setString(&c.SSLMode, fc.SSLMode)
	setInt(&c.PoolSize, fc.PoolSize)
	setInt(&c.MaxOverflow, fc.MaxOverflow)
	setDuration(&c.PoolTimeout, fc.PoolTimeout)
	setDuration(&c.PoolRecycle, fc.PoolRecycle)
	if fc.PgBouncerMode != nil {
		c.PgBouncerMode = *fc.PgBouncerMode
	}
	setString(&c.EmbeddingsURL, fc.EmbeddingsURL)
	setString(&c.EmbeddingsAPIKey, fc.EmbeddingsAPIKey)
	setString(&c.EmbeddingModel, fc.EmbeddingModel)
	setInt(&c.EmbeddingDimension, fc.EmbeddingDimension)
	setString(&c.Namespace, fc.Namespace)
	setDuration(&c.ConsolidationInterval, fc.ConsolidationInterval)
	setDuration(&c.RMTSweepInterval, fc.RMTSweepInterval)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)

	if err := c.Validate(); err != nil {
		return memerr.Wrap(memerr.KindConfig, err, "config file %s", path)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
