package collect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/koltyakov/pgadvisor/internal/index"
	"github.com/koltyakov/pgadvisor/internal/pgcompat"
	"github.com/koltyakov/pgadvisor/internal/pgdb"
)

// Statement is one pg_stat_statements entry.
type Statement struct {
	Query     string
	Calls     int64
	TotalTime float64
	MeanTime  float64
}

// Column identifies a user table column.
type Column struct {
	Schema string
	Table  string
	Name   string
}

// Table is a user table with its columns in ordinal order.
type Table struct {
	Schema  string
	Name    string
	Columns []string
	colset  map[string]bool
}

// Has reports whether the table has column.
func (t *Table) Has(column string) bool { return t.colset[column] }

// Catalog is the set of user tables visible to the session.
type Catalog struct {
	tables map[string]*Table
	names  map[string][]*Table
}

// NewCatalog builds a catalog from column rows.
func NewCatalog(cols []Column) *Catalog {
	c := &Catalog{tables: map[string]*Table{}, names: map[string][]*Table{}}
	for _, col := range cols {
		key := col.Schema + "." + col.Table
		t, ok := c.tables[key]
		if !ok {
			t = &Table{Schema: col.Schema, Name: col.Table, colset: map[string]bool{}}
			c.tables[key] = t
			c.names[col.Table] = append(c.names[col.Table], t)
		}
		if !t.colset[col.Name] {
			t.Columns = append(t.Columns, col.Name)
			t.colset[col.Name] = true
		}
	}
	return c
}

// Lookup finds a table. An empty schema prefers public, then a unique match.
func (c *Catalog) Lookup(schema, name string) (*Table, bool) {
	if schema != "" {
		t, ok := c.tables[schema+"."+name]
		return t, ok
	}
	if t, ok := c.tables["public."+name]; ok {
		return t, true
	}
	if ts := c.names[name]; len(ts) == 1 {
		return ts[0], true
	}
	return nil, false
}

// Len returns the number of tables.
func (c *Catalog) Len() int { return len(c.tables) }

const catalogSQL = `SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_schema NOT LIKE 'pg_toast%'
  AND (table_schema, table_name) IN (
    SELECT table_schema, table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE'
  )
ORDER BY table_schema, table_name, ordinal_position`

// LoadCatalog reads user tables and columns.
func LoadCatalog(ctx context.Context, q pgdb.Querier) (*Catalog, error) {
	ctx2, cancel := pgdb.WithTimeout(ctx, catalogQueryTimeout)
	defer cancel()

	rows, err := q.Query(ctx2, catalogSQL)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, Column{Schema: r.String("table_schema"), Table: r.String("table_name"), Name: r.String("column_name")})
	}
	return NewCatalog(cols), nil
}

const existingIndexesSQL = `SELECT n.nspname AS schema_name,
       t.relname AS table_name,
       i.relname AS index_name,
       am.amname AS method,
       ARRAY(
         SELECT a.attname
         FROM unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
         JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
         WHERE k.ord <= ix.indnkeyatts
         ORDER BY k.ord
       )::text[] AS columns,
       pg_get_indexdef(ix.indexrelid) AS definition
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_am am ON am.oid = i.relam
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND n.nspname NOT LIKE 'pg_toast%'
ORDER BY 1, 2, 3`

// ExistingIndexes reads user indexes with their ordered key columns.
// Expression columns are omitted from Columns.
func ExistingIndexes(ctx context.Context, q pgdb.Querier) ([]index.Existing, error) {
	ctx2, cancel := pgdb.WithTimeout(ctx, catalogQueryTimeout)
	defer cancel()

	rows, err := q.Query(ctx2, existingIndexesSQL)
	if err != nil {
		return nil, fmt.Errorf("load indexes: %w", err)
	}
	out := make([]index.Existing, 0, len(rows))
	for _, r := range rows {
		out = append(out, index.Existing{
			Schema:     r.String("schema_name"),
			Table:      r.String("table_name"),
			Name:       r.String("index_name"),
			Method:     r.String("method"),
			Columns:    r.Strings("columns"),
			Definition: r.String("definition"),
		})
	}
	return out, nil
}

// Workload reads the most expensive statements from pg_stat_statements.
// Only SELECT, UPDATE, DELETE and WITH statements outside system catalogs are kept.
func Workload(ctx context.Context, q pgdb.Querier, probe *pgcompat.Probe, cfg Config) ([]Statement, error) {
	if _, err := probe.RequireExtension(ctx, "pg_stat_statements"); err != nil {
		return nil, err
	}
	cols, err := probe.StatementColumns(ctx)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT query, calls, %[1]s::float8 AS total_time, %[2]s::float8 AS mean_time
FROM pg_stat_statements
WHERE calls >= $1 AND %[2]s >= $2
ORDER BY %[1]s DESC
LIMIT $3`, cols.TotalTime, cols.MeanTime)

	ctx2, cancel := pgdb.WithTimeout(ctx, catalogQueryTimeout)
	defer cancel()

	// Utility statements are dropped below; fetch extra rows to fill MaxStatements.
	rows, err := q.Query(ctx2, sql, cfg.MinCalls, cfg.MinMeanTimeMs, cfg.MaxStatements*4)
	if err != nil {
		return nil, fmt.Errorf("read pg_stat_statements: %w", err)
	}

	var out []Statement
	for _, r := range rows {
		st := Statement{
			Query:     r.String("query"),
			Calls:     r.Int64("calls"),
			TotalTime: r.Float64("total_time"),
			MeanTime:  r.Float64("mean_time"),
		}
		if !Indexable(st.Query) {
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalTime > out[j].TotalTime })
	if len(out) > cfg.MaxStatements {
		out = out[:cfg.MaxStatements]
	}
	return out, nil
}

// Indexable reports whether query is a DML statement an index could serve.
func Indexable(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if strings.Contains(q, "pg_catalog.") || strings.Contains(q, "information_schema.") {
		return false
	}
	for _, prefix := range []string{"select", "with", "update", "delete"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}
