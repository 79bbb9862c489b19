// Package pgdb is the query driver used by every advisor component.
//
// It runs parameterized SQL through pgxpool and returns rows as column maps.
// A Conn is a pool connection held exclusively by one caller. This matters
// for HypoPG, whose hypothetical indexes live in the backend that created them.
package pgdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Querier executes SQL and returns all rows.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
}

// Conn is an exclusively held connection.
// Release returns it to the pool; Destroy closes the backend instead.
type Conn interface {
	Querier
	// QuerySimple sends sql over the simple protocol without binding.
	// Values come back as text; NULL stays nil.
	QuerySimple(ctx context.Context, sql string) ([]Row, error)
	Release()
	Destroy(ctx context.Context)
}

// Acquirer hands out exclusive connections and runs one-off queries.
type Acquirer interface {
	Querier
	Acquire(ctx context.Context) (Conn, error)
}

// Target identifies the connection target. Capability caches are keyed by it.
type Target interface {
	Target() string
}

// Pool wraps a pgxpool.Pool.
type Pool struct {
	pool   *pgxpool.Pool
	target string
}

// Open connects a pool to url and verifies it with a ping.
// maxConns <= 0 keeps the pgxpool default.
func Open(ctx context.Context, url string, maxConns int32) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, pgerrors.NewValidationError("url", "", err.Error())
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pgerrors.ErrConnectionFailed, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", pgerrors.ErrConnectionFailed, err)
	}
	cc := cfg.ConnConfig
	return &Pool{
		pool:   pool,
		target: fmt.Sprintf("%s@%s:%d/%s", cc.User, cc.Host, cc.Port, cc.Database),
	}, nil
}

// Close closes all pool connections.
func (p *Pool) Close() { p.pool.Close() }

// Target returns user@host:port/database.
func (p *Pool) Target() string { return p.target }

// Query runs sql on any free pool connection.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	return collect(sql, rows, err)
}

// Acquire takes a connection out of the pool for exclusive use.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pgerrors.ErrConnectionFailed, err)
	}
	return &poolConn{conn: c}, nil
}

type poolConn struct {
	conn *pgxpool.Conn
}

func (c *poolConn) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	return collect(sql, rows, err)
}

func (c *poolConn) QuerySimple(ctx context.Context, sql string) ([]Row, error) {
	results, err := c.conn.Conn().PgConn().Exec(ctx, sql).ReadAll()
	if err != nil {
		return nil, pgerrors.NewQueryError(sql, err)
	}
	var out []Row
	for _, res := range results {
		if res.Err != nil {
			return nil, pgerrors.NewQueryError(sql, res.Err)
		}
		for _, vals := range res.Rows {
			r := make(Row, len(res.FieldDescriptions))
			for i, f := range res.FieldDescriptions {
				if vals[i] == nil {
					r[f.Name] = nil
					continue
				}
				r[f.Name] = string(vals[i])
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *poolConn) Release() { c.conn.Release() }

func (c *poolConn) Destroy(ctx context.Context) {
	raw := c.conn.Hijack()
	_ = raw.Close(ctx)
}

func collect(sql string, rows pgx.Rows, err error) ([]Row, error) {
	if err != nil {
		return nil, pgerrors.NewQueryError(sql, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, pgerrors.NewQueryError(sql, err)
		}
		r := make(Row, len(fields))
		for i, f := range fields {
			r[f.Name] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgerrors.NewQueryError(sql, err)
	}
	return out, nil
}

// QueryOne returns the first row or nil when the result is empty.
func QueryOne(ctx context.Context, q Querier, sql string, args ...any) (Row, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// StatementError reports whether err was raised by the server for one
// statement, leaving the connection usable. Connection, resource and
// internal server errors do not count.
func StatementError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "53", "57", "58", "XX":
		return false
	}
	return true
}

// WithTimeout bounds a single catalog round trip.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Identifier quotes a catalog-validated identifier. Simple lower-case names stay bare.
func Identifier(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "":
		case isSimpleIdent(p):
			out = append(out, p)
		default:
			out = append(out, pgx.Identifier{p}.Sanitize())
		}
	}
	return strings.Join(out, ".")
}

func isSimpleIdent(s string) bool {
	if s == "" || reserved[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '$'):
		default:
			return false
		}
	}
	return true
}

// reserved lists keywords that cannot appear as bare column or table names.
var reserved = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true, "array": true,
	"as": true, "asc": true, "both": true, "case": true, "cast": true, "check": true,
	"collate": true, "column": true, "constraint": true, "create": true, "default": true,
	"desc": true, "distinct": true, "do": true, "else": true, "end": true, "except": true,
	"false": true, "for": true, "foreign": true, "from": true, "grant": true, "group": true,
	"having": true, "in": true, "into": true, "leading": true, "limit": true, "not": true,
	"null": true, "offset": true, "on": true, "only": true, "or": true, "order": true,
	"primary": true, "references": true, "select": true, "table": true, "then": true,
	"to": true, "true": true, "union": true, "unique": true, "user": true, "using": true,
	"when": true, "where": true, "window": true, "with": true,
}

// String returns the column as text. Missing or NULL values yield "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int64 converts integer, oid, float and numeric-text columns.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int:
		return int64(v)
	case uint32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Float64 converts float, integer and numeric-text columns.
func (r Row) Float64(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return float64(r.Int64(col))
	}
}

// Bool reports a boolean column; anything else is false.
func (r Row) Bool(col string) bool {
	b, _ := r[col].(bool)
	return b
}

// Strings converts text[] columns.
func (r Row) Strings(col string) []string {
	switch v := r[col].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
