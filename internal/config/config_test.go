package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, float64(DefaultMaxIndexSizeMB), cfg.Advisor.MaxIndexSizeMB)
	require.Equal(t, 10, cfg.Advisor.MaxQueries)
	require.Equal(t, 3, cfg.Advisor.MaxIndexWidth)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "advisor.yaml", `
database:
  url: postgres://localhost/shop
  timeout: 2m
advisor:
  max_index_size_mb: 512
  parallelism: 2
  max_search_time: 30s
workload:
  min_calls: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/shop", cfg.Database.URL)
	require.Equal(t, 2*time.Minute, cfg.Database.Timeout)
	require.Equal(t, float64(512), cfg.Advisor.MaxIndexSizeMB)
	require.Equal(t, 2, cfg.Advisor.Parallelism)
	require.Equal(t, 30*time.Second, cfg.Advisor.MaxSearchTime)
	require.Equal(t, int64(5), cfg.Workload.MinCalls)
	// untouched keys keep defaults
	require.Equal(t, Default().Workload.MaxStatements, cfg.Workload.MaxStatements)
	require.NoError(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "advisor.json", `{"advisor": {"max_queries": 4, "max_index_width": 2}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Advisor.MaxQueries)
	require.Equal(t, 2, cfg.Advisor.MaxIndexWidth)

	opts := cfg.AdvisorOptions()
	require.Equal(t, 4, opts.MaxQueries)
	require.Equal(t, 2, opts.MaxIndexWidth)
	require.Equal(t, cfg.Workload.MaxStatements, opts.Workload.MaxStatements)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "advisor.toml", "x = 1"))
	require.ErrorIs(t, err, pgerrors.ErrInvalidInput)

	_, err = Load(writeFile(t, "bad.json", "{"))
	require.ErrorContains(t, err, "parse JSON config")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PGURL", "")
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, "postgres://env/db", cfg.Database.URL)

	t.Setenv("PGURL", "postgres://pgurl/db")
	cfg = Default()
	cfg.ApplyEnv()
	require.Equal(t, "postgres://pgurl/db", cfg.Database.URL)

	cfg.Database.URL = "postgres://flag/db"
	cfg.ApplyEnv()
	require.Equal(t, "postgres://flag/db", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Database.URL = "postgres://localhost/test"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing url", mutate: func(c *Config) { c.Database.URL = "" }},
		{name: "negative budget", mutate: func(c *Config) { c.Advisor.MaxIndexSizeMB = -1 }},
		{name: "infinite budget", mutate: func(c *Config) { c.Advisor.MaxIndexSizeMB = math.Inf(1) }},
		{name: "NaN budget", mutate: func(c *Config) { c.Advisor.MaxIndexSizeMB = math.NaN() }},
		{name: "zero queries", mutate: func(c *Config) { c.Advisor.MaxQueries = 0 }},
		{name: "zero width", mutate: func(c *Config) { c.Advisor.MaxIndexWidth = 0 }},
		{name: "zero parallelism", mutate: func(c *Config) { c.Advisor.Parallelism = 0 }},
		{name: "zero search time", mutate: func(c *Config) { c.Advisor.MaxSearchTime = 0 }},
		{name: "negative max conns", mutate: func(c *Config) { c.Database.MaxConns = -1 }},
		{name: "short timeout", mutate: func(c *Config) { c.Database.Timeout = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), pgerrors.ErrInvalidInput)
		})
	}
}
