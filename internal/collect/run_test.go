package collect

import (
	"context"
	"errors"
	"testing"
	"time"

	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/pgcompat"
	"github.com/koltyakov/pgadvisor/internal/pgdb/pgdbtest"
)

// TestConfigValidate verifies configuration validation.
func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.URL = "postgres://localhost/test"

	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{name: "valid configuration", mutate: func(*Config) {}},
		{name: "missing URL", mutate: func(c *Config) { c.URL = "" }, expectErr: true},
		{name: "timeout too short", mutate: func(c *Config) { c.Timeout = time.Second }, expectErr: true},
		{name: "timeout too long", mutate: func(c *Config) { c.Timeout = 2 * time.Hour }, expectErr: true},
		{name: "minimum valid timeout", mutate: func(c *Config) { c.Timeout = MinTimeout }},
		{name: "maximum valid timeout", mutate: func(c *Config) { c.Timeout = MaxTimeout }},
		{name: "negative min calls", mutate: func(c *Config) { c.MinCalls = -1 }, expectErr: true},
		{name: "negative mean time", mutate: func(c *Config) { c.MinMeanTimeMs = -0.5 }, expectErr: true},
		{name: "zero max statements", mutate: func(c *Config) { c.MaxStatements = 0 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Validate() error = %v, expectErr = %v", err, tt.expectErr)
			}
			if err != nil && !errors.Is(err, pgerrors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCatalogLookup(t *testing.T) {
	cat := NewCatalog([]Column{
		{Schema: "public", Table: "orders", Name: "id"},
		{Schema: "public", Table: "orders", Name: "status"},
		{Schema: "sales", Table: "orders", Name: "region"},
		{Schema: "sales", Table: "leads", Name: "owner"},
		{Schema: "a", Table: "dup", Name: "x"},
		{Schema: "b", Table: "dup", Name: "x"},
	})

	if cat.Len() != 5 {
		t.Fatalf("expected 5 tables, got %d", cat.Len())
	}

	tests := []struct {
		schema, name string
		wantSchema   string
		found        bool
	}{
		{"", "orders", "public", true},
		{"sales", "orders", "sales", true},
		{"", "leads", "sales", true},
		{"", "dup", "", false},
		{"", "missing", "", false},
	}
	for _, tt := range tests {
		tbl, ok := cat.Lookup(tt.schema, tt.name)
		if ok != tt.found {
			t.Errorf("Lookup(%q, %q) found = %v, want %v", tt.schema, tt.name, ok, tt.found)
			continue
		}
		if ok && tbl.Schema != tt.wantSchema {
			t.Errorf("Lookup(%q, %q) schema = %q, want %q", tt.schema, tt.name, tbl.Schema, tt.wantSchema)
		}
	}

	orders, _ := cat.Lookup("", "orders")
	if !orders.Has("status") || orders.Has("region") {
		t.Error("column membership mismatch")
	}
}

func TestLoadCatalogAndIndexes(t *testing.T) {
	srv := pgdbtest.New(170000)
	srv.Columns = []pgdbtest.Column{
		{Schema: "public", Table: "orders", Name: "id"},
		{Schema: "public", Table: "orders", Name: "customer_id"},
	}
	srv.Indexes = []pgdbtest.Index{{Schema: "public", Table: "orders", Name: "orders_pkey", Columns: []string{"id"}}}

	cat, err := LoadCatalog(context.Background(), srv)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	orders, ok := cat.Lookup("public", "orders")
	if !ok || len(orders.Columns) != 2 || orders.Columns[1] != "customer_id" {
		t.Fatalf("unexpected catalog table: %+v", orders)
	}

	idx, err := ExistingIndexes(context.Background(), srv)
	if err != nil {
		t.Fatalf("ExistingIndexes: %v", err)
	}
	if len(idx) != 1 || idx[0].Name != "orders_pkey" || idx[0].Method != "btree" || idx[0].Columns[0] != "id" {
		t.Fatalf("unexpected indexes: %+v", idx)
	}
}

func TestWorkload(t *testing.T) {
	srv := pgdbtest.New(170000)
	srv.Statements = []pgdbtest.Statement{
		{Query: "SELECT * FROM orders WHERE id = $1", Calls: 1000, TotalTime: 5000, MeanTime: 5},
		{Query: "select * from pg_catalog.pg_class", Calls: 900, TotalTime: 9000, MeanTime: 10},
		{Query: "VACUUM orders", Calls: 100, TotalTime: 8000, MeanTime: 80},
		{Query: "UPDATE orders SET status = $1 WHERE id = $2", Calls: 100, TotalTime: 2000, MeanTime: 20},
		{Query: "SELECT 1", Calls: 10, TotalTime: 10000, MeanTime: 1000},
		{Query: "DELETE FROM orders WHERE id = $1", Calls: 500, TotalTime: 600, MeanTime: 1.2},
	}
	cfg := DefaultConfig()
	cfg.MaxStatements = 5

	stmts, err := Workload(context.Background(), srv, pgcompat.NewProbe(srv, nil), cfg)
	if err != nil {
		t.Fatalf("Workload: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %+v", len(stmts), stmts)
	}
	if stmts[0].Calls != 1000 || stmts[1].Query != "UPDATE orders SET status = $1 WHERE id = $2" {
		t.Errorf("unexpected order: %+v", stmts)
	}
	if srv.CountQueries("total_exec_time::float8") != 1 {
		t.Error("expected the PG13+ projection")
	}
}

func TestWorkloadRequiresExtension(t *testing.T) {
	srv := pgdbtest.New(170000)
	delete(srv.Extensions, "pg_stat_statements")

	_, err := Workload(context.Background(), srv, pgcompat.NewProbe(srv, nil), DefaultConfig())
	if !errors.Is(err, pgerrors.ErrExtensionMissing) {
		t.Fatalf("expected ErrExtensionMissing, got %v", err)
	}
}

func TestIndexable(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"  SELECT 1", true},
		{"with x as (select 1) select * from x", true},
		{"update t set a = 1", true},
		{"DELETE FROM t", true},
		{"INSERT INTO t VALUES (1)", false},
		{"SELECT * FROM information_schema.tables", false},
		{"BEGIN", false},
	}
	for _, tt := range tests {
		if got := Indexable(tt.query); got != tt.want {
			t.Errorf("Indexable(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
