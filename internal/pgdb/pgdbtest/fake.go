// Package pgdbtest provides an in-memory PostgreSQL stand-in for tests.
//
// Server answers the catalog, pg_stat_statements, HypoPG and EXPLAIN queries
// the advisor issues. Hypothetical indexes are tracked per backend, like HypoPG
// does, so tests can assert that nothing outlives a session.
package pgdbtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/koltyakov/pgadvisor/internal/pgdb"
)

// Hypo is a hypothetical index living in one fake backend.
type Hypo struct {
	OID        uint32
	Definition string
	Table      string
	Columns    []string
}

// Column is a user table column exposed through information_schema.
type Column struct {
	Schema, Table, Name string
}

// Index is an existing index exposed through pg_index.
type Index struct {
	Schema, Table, Name, Method string
	Columns                     []string
}

// Statement is a pg_stat_statements row.
type Statement struct {
	Query     string
	Calls     int64
	TotalTime float64
	MeanTime  float64
}

// CostFunc returns the planner cost of stmt with the given indexes visible.
type CostFunc func(stmt string, live []Hypo) float64

// SizeFunc returns the estimated size of a hypothetical index.
type SizeFunc func(h Hypo) int64

// FailFunc injects an error for sql. Returning nil lets the query through.
type FailFunc func(sql string, live []Hypo) error

// Server is a fake database target. Configure fields before first use.
type Server struct {
	VersionNum int
	// Extensions maps extension name to installed version; "" means available only.
	Extensions map[string]string
	Columns    []Column
	Indexes    []Index
	Statements []Statement
	// PSSColumns lists the pg_stat_statements view columns.
	PSSColumns []string
	// Stats maps "schema.table.column" to a representative value.
	Stats map[string]string
	Cost  CostFunc
	Size  SizeFunc
	Fail  FailFunc

	mu        sync.Mutex
	nextOID   uint32
	backends  []*backend
	idle      []*backend
	inUse     int
	peak      int
	destroyed int
	queries   []string
}

type backend struct {
	live      []Hypo
	destroyed bool
}

// New returns a server reporting versionNum with hypopg installed.
func New(versionNum int) *Server {
	return &Server{
		VersionNum: versionNum,
		Extensions: map[string]string{"hypopg": "1.4.1", "pg_stat_statements": "1.10"},
		PSSColumns: []string{"query", "calls", "total_exec_time", "mean_exec_time", "rows"},
		Stats:      map[string]string{},
		Cost:       func(string, []Hypo) float64 { return 1000 },
		Size:       func(Hypo) int64 { return 8192 },
	}
}

// Target implements pgdb.Target.
func (s *Server) Target() string { return "fake" }

// Query runs sql on a throwaway backend.
func (s *Server) Query(ctx context.Context, sql string, args ...any) ([]pgdb.Row, error) {
	return s.exec(ctx, &backend{}, sql, args)
}

// Acquire hands out an idle backend or starts a new one.
func (s *Server) Acquire(ctx context.Context) (pgdb.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var b *backend
	if n := len(s.idle); n > 0 {
		b = s.idle[n-1]
		s.idle = s.idle[:n-1]
	} else {
		b = &backend{}
		s.backends = append(s.backends, b)
	}
	s.inUse++
	if s.inUse > s.peak {
		s.peak = s.inUse
	}
	return &conn{s: s, b: b}, nil
}

// Live returns every hypothetical index alive in a non-destroyed backend.
func (s *Server) Live() []Hypo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Hypo
	for _, b := range s.backends {
		if !b.destroyed {
			out = append(out, b.live...)
		}
	}
	return out
}

// PeakConns is the highest number of simultaneously acquired connections.
func (s *Server) PeakConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Destroyed counts connections closed instead of released.
func (s *Server) Destroyed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Queries returns the log of executed SQL.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// CountQueries counts logged statements containing substr.
func (s *Server) CountQueries(substr string) int {
	n := 0
	for _, q := range s.Queries() {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

type conn struct {
	s    *Server
	b    *backend
	done bool
}

func (c *conn) Query(ctx context.Context, sql string, args ...any) ([]pgdb.Row, error) {
	if c.done {
		return nil, errors.New("fake: connection already released")
	}
	return c.s.exec(ctx, c.b, sql, args)
}

// QuerySimple runs sql without bind values and renders EXPLAIN output
// as JSON text, as the simple protocol does.
func (c *conn) QuerySimple(ctx context.Context, sql string) ([]pgdb.Row, error) {
	rows, err := c.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if plan, ok := r["QUERY PLAN"]; ok {
			b, err := json.Marshal(plan)
			if err != nil {
				return nil, err
			}
			r["QUERY PLAN"] = string(b)
		}
	}
	return rows, nil
}

func (c *conn) Release() {
	if c.done {
		return
	}
	c.done = true
	c.s.mu.Lock()
	c.s.inUse--
	c.s.idle = append(c.s.idle, c.b)
	c.s.mu.Unlock()
}

func (c *conn) Destroy(context.Context) {
	if c.done {
		return
	}
	c.done = true
	c.s.mu.Lock()
	c.s.inUse--
	c.s.destroyed++
	c.b.destroyed = true
	c.b.live = nil
	c.s.mu.Unlock()
}

func (s *Server) exec(ctx context.Context, b *backend, sql string, args []any) ([]pgdb.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queries = append(s.queries, sql)
	live := append([]Hypo(nil), b.live...)
	fail := s.Fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(sql, live); err != nil {
			return nil, err
		}
	}

	switch {
	case strings.Contains(sql, "hypopg_create_index"):
		return s.createHypo(b, args)
	case strings.Contains(sql, "hypopg_drop_index"):
		return s.dropHypo(b, args)
	case strings.Contains(sql, "hypopg_relation_size"):
		oid := toUint32(arg(args, 0))
		for _, h := range live {
			if h.OID == oid {
				return []pgdb.Row{{"size": s.Size(h)}}, nil
			}
		}
		return nil, fmt.Errorf("fake: unknown hypothetical index %d", oid)
	case strings.Contains(sql, "hypopg_reset"):
		s.mu.Lock()
		b.live = nil
		s.mu.Unlock()
		return []pgdb.Row{{"hypopg_reset": ""}}, nil
	case strings.HasPrefix(strings.TrimSpace(sql), "EXPLAIN"):
		return s.explain(sql, live), nil
	case strings.Contains(sql, "server_version_num"):
		return []pgdb.Row{{"server_version_num": fmt.Sprint(s.VersionNum)}}, nil
	case strings.Contains(sql, "SHOW server_version"):
		return []pgdb.Row{{"server_version": fmt.Sprintf("%d.0", s.VersionNum/10000)}}, nil
	case strings.Contains(sql, "pg_available_extensions"):
		name := fmt.Sprint(arg(args, 0))
		v, ok := s.Extensions[name]
		if !ok {
			return nil, nil
		}
		var installed any
		if v != "" {
			installed = v
		}
		return []pgdb.Row{{"name": name, "installed_version": installed, "default_version": "1.0"}}, nil
	case strings.Contains(sql, "AS has_column"):
		return []pgdb.Row{{"has_column": s.hasColumn(fmt.Sprint(arg(args, 0)), fmt.Sprint(arg(args, 1)), fmt.Sprint(arg(args, 2)))}}, nil
	case strings.Contains(sql, "FROM pg_stats"):
		key := fmt.Sprintf("%v.%v.%v", arg(args, 0), arg(args, 1), arg(args, 2))
		if v, ok := s.Stats[key]; ok {
			return []pgdb.Row{{"value": v}}, nil
		}
		return []pgdb.Row{{"value": nil}}, nil
	case strings.Contains(sql, "FROM pg_stat_statements"):
		return s.statements(args), nil
	case strings.Contains(sql, "FROM information_schema.columns"):
		rows := make([]pgdb.Row, 0, len(s.Columns))
		for _, c := range s.Columns {
			rows = append(rows, pgdb.Row{"table_schema": c.Schema, "table_name": c.Table, "column_name": c.Name})
		}
		return rows, nil
	case strings.Contains(sql, "FROM pg_index"):
		rows := make([]pgdb.Row, 0, len(s.Indexes))
		for _, ix := range s.Indexes {
			cols := make([]any, len(ix.Columns))
			for i, c := range ix.Columns {
				cols[i] = c
			}
			method := ix.Method
			if method == "" {
				method = "btree"
			}
			rows = append(rows, pgdb.Row{
				"schema_name": ix.Schema, "table_name": ix.Table, "index_name": ix.Name,
				"method": method, "columns": cols,
				"definition": fmt.Sprintf("CREATE INDEX %s ON %s.%s USING %s (%s)", ix.Name, ix.Schema, ix.Table, method, strings.Join(ix.Columns, ", ")),
			})
		}
		return rows, nil
	}
	return nil, fmt.Errorf("fake: unhandled query: %s", sql)
}

func (s *Server) createHypo(b *backend, args []any) ([]pgdb.Row, error) {
	def := fmt.Sprint(arg(args, 0))
	table, cols, err := ParseDefinition(def)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOID++
	oid := 13000 + s.nextOID
	b.live = append(b.live, Hypo{OID: oid, Definition: def, Table: table, Columns: cols})
	return []pgdb.Row{{"indexrelid": oid, "indexname": fmt.Sprintf("<%d>btree_%s", oid, table)}}, nil
}

func (s *Server) dropHypo(b *backend, args []any) ([]pgdb.Row, error) {
	oid := toUint32(arg(args, 0))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range b.live {
		if h.OID == oid {
			b.live = append(b.live[:i], b.live[i+1:]...)
			return []pgdb.Row{{"hypopg_drop_index": true}}, nil
		}
	}
	return []pgdb.Row{{"hypopg_drop_index": false}}, nil
}

func (s *Server) explain(sql string, live []Hypo) []pgdb.Row {
	stmt := strings.TrimSpace(sql)
	if i := strings.Index(stmt, ")"); i >= 0 {
		stmt = strings.TrimSpace(stmt[i+1:])
	}
	cost := s.Cost(stmt, live)
	node := "Seq Scan"
	if len(live) > 0 {
		node = "Index Scan"
	}
	plan := []any{map[string]any{
		"Plan": map[string]any{"Node Type": node, "Startup Cost": 0.0, "Total Cost": cost, "Plan Rows": 1.0},
	}}
	return []pgdb.Row{{"QUERY PLAN": plan}}
}

func (s *Server) hasColumn(schema, relation, column string) bool {
	if relation == "pg_stat_statements" {
		for _, c := range s.PSSColumns {
			if c == column {
				return true
			}
		}
		return false
	}
	for _, c := range s.Columns {
		if (schema == "" || c.Schema == schema) && c.Table == relation && c.Name == column {
			return true
		}
	}
	return false
}

func (s *Server) statements(args []any) []pgdb.Row {
	minCalls := toFloat(arg(args, 0))
	minMean := toFloat(arg(args, 1))
	limit := int(toFloat(arg(args, 2)))

	list := append([]Statement(nil), s.Statements...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].TotalTime > list[j].TotalTime })
	var rows []pgdb.Row
	for _, st := range list {
		if float64(st.Calls) < minCalls || st.MeanTime < minMean {
			continue
		}
		if limit > 0 && len(rows) >= limit {
			break
		}
		rows = append(rows, pgdb.Row{"query": st.Query, "calls": st.Calls, "total_time": st.TotalTime, "mean_time": st.MeanTime})
	}
	return rows
}

// ParseDefinition extracts the table and columns of
// "CREATE INDEX ON <table> USING <method> (<cols>)".
func ParseDefinition(def string) (table string, cols []string, err error) {
	on := strings.Index(def, " ON ")
	using := strings.Index(def, " USING ")
	open := strings.Index(def, "(")
	closing := strings.LastIndex(def, ")")
	if on < 0 || using < on || open < using || closing < open {
		return "", nil, fmt.Errorf("fake: malformed index definition %q", def)
	}
	table = strings.TrimSpace(def[on+4 : using])
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	for _, c := range strings.Split(def[open+1:closing], ",") {
		cols = append(cols, strings.Trim(strings.TrimSpace(c), `"`))
	}
	return strings.Trim(table, `"`), cols, nil
}

// HasIndexOn reports whether some live index on table has leading columns cols.
func HasIndexOn(live []Hypo, table string, cols ...string) bool {
	for _, h := range live {
		if h.Table != table || len(h.Columns) < len(cols) {
			continue
		}
		match := true
		for i, c := range cols {
			if h.Columns[i] != c {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func toUint32(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int64:
		return uint32(n)
	case int:
		return uint32(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
