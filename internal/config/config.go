// Package config holds the advisor configuration file format.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koltyakov/pgadvisor/internal/advisor"
	"github.com/koltyakov/pgadvisor/internal/candidate"
	"github.com/koltyakov/pgadvisor/internal/collect"
	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/whatif"
)

// DefaultMaxIndexSizeMB is the storage budget when none is given.
const DefaultMaxIndexSizeMB = 10000

// Config is the complete advisor configuration.
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Advisor  AdvisorConfig  `json:"advisor" yaml:"advisor"`
	Workload WorkloadConfig `json:"workload" yaml:"workload"`
}

// DatabaseConfig describes the target server.
type DatabaseConfig struct {
	URL string `json:"url" yaml:"url"`

	// MaxConns caps the pool; it should exceed Advisor.Parallelism.
	MaxConns int32 `json:"max_conns" yaml:"max_conns"`

	// Timeout bounds a whole CLI run.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// AdvisorConfig tunes candidate generation and search.
type AdvisorConfig struct {
	MaxIndexSizeMB float64       `json:"max_index_size_mb" yaml:"max_index_size_mb"`
	MaxQueries     int           `json:"max_queries" yaml:"max_queries"`
	MaxIndexWidth  int           `json:"max_index_width" yaml:"max_index_width"`
	Parallelism    int           `json:"parallelism" yaml:"parallelism"`
	MaxSearchTime  time.Duration `json:"max_search_time" yaml:"max_search_time"`
	CleanupTimeout time.Duration `json:"cleanup_timeout" yaml:"cleanup_timeout"`
}

// WorkloadConfig filters pg_stat_statements.
type WorkloadConfig struct {
	MinCalls      int64   `json:"min_calls" yaml:"min_calls"`
	MinMeanTimeMs float64 `json:"min_mean_time_ms" yaml:"min_mean_time_ms"`
	MaxStatements int     `json:"max_statements" yaml:"max_statements"`
}

// Default returns the built-in configuration.
func Default() Config {
	c := collect.DefaultConfig()
	return Config{
		Database: DatabaseConfig{
			MaxConns: whatif.DefaultParallelism + 2,
			Timeout:  c.Timeout,
		},
		Advisor: AdvisorConfig{
			MaxIndexSizeMB: DefaultMaxIndexSizeMB,
			MaxQueries:     advisor.DefaultMaxQueries,
			MaxIndexWidth:  candidate.DefaultMaxIndexWidth,
			Parallelism:    whatif.DefaultParallelism,
			MaxSearchTime:  advisor.DefaultMaxSearchTime,
			CleanupTimeout: whatif.DefaultCleanupTimeout,
		},
		Workload: WorkloadConfig{
			MinCalls:      c.MinCalls,
			MinMeanTimeMs: c.MinMeanTimeMs,
			MaxStatements: c.MaxStatements,
		},
	}
}

// Load reads a YAML or JSON file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return cfg, pgerrors.NewValidationError("config", path, fmt.Sprintf("unsupported file format %q", ext))
	}
	return cfg, nil
}

// ApplyEnv fills the database URL from PGURL or DATABASE_URL when unset.
func (c *Config) ApplyEnv() {
	if c.Database.URL != "" {
		return
	}
	for _, key := range []string{"PGURL", "DATABASE_URL"} {
		if v := os.Getenv(key); v != "" {
			c.Database.URL = v
			return
		}
	}
}

// Collect returns the collector view of the configuration.
func (c Config) Collect() collect.Config {
	return collect.Config{
		URL:           c.Database.URL,
		Timeout:       c.Database.Timeout,
		MinCalls:      c.Workload.MinCalls,
		MinMeanTimeMs: c.Workload.MinMeanTimeMs,
		MaxStatements: c.Workload.MaxStatements,
	}
}

// AdvisorOptions maps the configuration onto advisor options.
func (c Config) AdvisorOptions() advisor.Options {
	return advisor.Options{
		MaxQueries:     c.Advisor.MaxQueries,
		MaxIndexWidth:  c.Advisor.MaxIndexWidth,
		Parallelism:    c.Advisor.Parallelism,
		MaxSearchTime:  c.Advisor.MaxSearchTime,
		CleanupTimeout: c.Advisor.CleanupTimeout,
		Workload:       c.Collect(),
	}
}

// Validate checks the configuration. The URL is required.
func (c Config) Validate() error {
	if err := c.Collect().Validate(); err != nil {
		return err
	}
	if c.Database.MaxConns < 0 {
		return pgerrors.NewValidationError("database.max_conns", fmt.Sprint(c.Database.MaxConns), "must not be negative")
	}
	a := c.Advisor
	switch {
	case math.IsNaN(a.MaxIndexSizeMB) || math.IsInf(a.MaxIndexSizeMB, 0):
		return pgerrors.NewValidationError("advisor.max_index_size_mb", fmt.Sprint(a.MaxIndexSizeMB), "must be a finite number")
	case a.MaxIndexSizeMB < 0:
		return pgerrors.NewValidationError("advisor.max_index_size_mb", fmt.Sprint(a.MaxIndexSizeMB), "must not be negative")
	case a.MaxQueries < 1:
		return pgerrors.NewValidationError("advisor.max_queries", fmt.Sprint(a.MaxQueries), "must be at least 1")
	case a.MaxIndexWidth < 1:
		return pgerrors.NewValidationError("advisor.max_index_width", fmt.Sprint(a.MaxIndexWidth), "must be at least 1")
	case a.Parallelism < 1:
		return pgerrors.NewValidationError("advisor.parallelism", fmt.Sprint(a.Parallelism), "must be at least 1")
	case a.MaxSearchTime <= 0:
		return pgerrors.NewValidationError("advisor.max_search_time", a.MaxSearchTime.String(), "must be positive")
	case a.CleanupTimeout < 0:
		return pgerrors.NewValidationError("advisor.cleanup_timeout", a.CleanupTimeout.String(), "must not be negative")
	}
	return nil
}
