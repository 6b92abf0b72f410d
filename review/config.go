package review

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clauseguard/clauseguard/analysis"
	"github.com/clauseguard/clauseguard/completion"
	"github.com/clauseguard/clauseguard/embedding"
	"github.com/clauseguard/clauseguard/observability"
	"github.com/clauseguard/clauseguard/query"
)

// Config holds the full review service configuration.
type Config struct {
	Listen string `yaml:"listen"`

	// AuthorityDB is the shared statute passage index.
	AuthorityDB string `yaml:"authority_db"`

	// DataDir holds the per-session shard databases.
	DataDir string `yaml:"data_dir"`

	// ObservabilityDB is the event and request log database. Empty disables
	// event logging.
	ObservabilityDB string `yaml:"observability_db"`

	Embedding  embedding.Config  `yaml:"embedding"`
	Completion completion.Config `yaml:"completion"`
	Analysis   analysis.Config   `yaml:"analysis"`
	Query      query.Config      `yaml:"query"`

	Retention observability.RetentionConfig `yaml:"retention"`
}

// DefaultConfig returns sane defaults: offline capabilities, local paths.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		AuthorityDB:     "data/authority.db",
		DataDir:         "data/sessions",
		ObservabilityDB: "data/observability.db",
	}
}

// LoadConfig reads a YAML config file merged over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.AuthorityDB == "" {
		return fmt.Errorf("authority_db is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}
