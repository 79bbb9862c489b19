package whatif

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/explain"
	"github.com/koltyakov/pgadvisor/internal/metrics"
	"github.com/koltyakov/pgadvisor/internal/pgdb"
)

// DefaultCleanupTimeout bounds teardown of a lane after its context is gone.
const DefaultCleanupTimeout = 10 * time.Second

type hypo struct {
	oid        uint32
	definition string
}

// Lane is one exclusively held connection with the hypothetical indexes
// created on it. It is not safe for concurrent use.
type Lane struct {
	conn      pgdb.Conn
	sessionID string
	timeout   time.Duration
	logger    log.Logger
	metrics   *metrics.Metrics
	created   []hypo
}

// OpenLane acquires a connection for what-if work.
func OpenLane(ctx context.Context, pool pgdb.Acquirer, opts Options) (*Lane, error) {
	opts = opts.withDefaults()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Lane{
		conn:      conn,
		sessionID: opts.SessionID,
		timeout:   opts.CleanupTimeout,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// CreateIndex creates a hypothetical index from a CREATE INDEX definition.
func (l *Lane) CreateIndex(ctx context.Context, definition string) (uint32, error) {
	row, err := pgdb.QueryOne(ctx, l.conn, "SELECT indexrelid FROM hypopg_create_index($1)", definition)
	if err != nil {
		return 0, fmt.Errorf("create hypothetical index: %w", err)
	}
	if row == nil {
		return 0, fmt.Errorf("create hypothetical index: no row returned for %s", definition)
	}
	oid := uint32(row.Int64("indexrelid"))
	l.created = append(l.created, hypo{oid: oid, definition: definition})
	l.metrics.Inc(metrics.HypoCreated)
	return oid, nil
}

// DropIndex drops a hypothetical index. An index that is already gone is not an error.
func (l *Lane) DropIndex(ctx context.Context, oid uint32) error {
	row, err := pgdb.QueryOne(ctx, l.conn, "SELECT hypopg_drop_index($1)", oid)
	if err != nil {
		return fmt.Errorf("drop hypothetical index %d: %w", oid, err)
	}
	if row != nil && !row.Bool("hypopg_drop_index") {
		level.Debug(l.logger).Log("msg", "hypothetical index already gone", "oid", oid)
	}
	for i, h := range l.created {
		if h.oid == oid {
			l.created = append(l.created[:i], l.created[i+1:]...)
			break
		}
	}
	l.metrics.Inc(metrics.HypoDropped)
	return nil
}

// IndexSize returns the estimated on-disk size of a hypothetical index in bytes.
func (l *Lane) IndexSize(ctx context.Context, oid uint32) (int64, error) {
	row, err := pgdb.QueryOne(ctx, l.conn, "SELECT hypopg_relation_size($1) AS size", oid)
	if err != nil {
		return 0, fmt.Errorf("hypothetical index size: %w", err)
	}
	if row == nil {
		return 0, fmt.Errorf("hypothetical index size: no row returned for %d", oid)
	}
	return row.Int64("size"), nil
}

// Explain returns the planner's total cost for sql.
// Generic plans go over the simple protocol so $n placeholders reach the server unbound.
func (l *Lane) Explain(ctx context.Context, sql string, generic bool) (float64, error) {
	var (
		rows []pgdb.Row
		err  error
	)
	if generic {
		rows, err = l.conn.QuerySimple(ctx, "EXPLAIN (FORMAT JSON, GENERIC_PLAN) "+sql)
	} else {
		rows, err = l.conn.Query(ctx, "EXPLAIN (FORMAT JSON) "+sql)
	}
	l.metrics.Inc(metrics.Explains)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("explain returned no rows")
	}
	cost, err := explain.TotalCost(rows[0]["QUERY PLAN"])
	if err != nil {
		return 0, fmt.Errorf("explain: %w", err)
	}
	return cost, nil
}

// Reset drops every hypothetical index of the backend.
func (l *Lane) Reset(ctx context.Context) error {
	if _, err := l.conn.Query(ctx, "SELECT hypopg_reset()"); err != nil {
		return fmt.Errorf("hypopg_reset: %w", err)
	}
	l.created = nil
	return nil
}

// Close drops the lane's indexes in reverse creation order and gives the
// connection back. It runs even when ctx is already cancelled. When a drop
// fails the backend is reset, and when the reset fails too the connection is
// closed so the hypothetical state dies with it. The returned errors are
// ResourceCleanupErrors for the caller to surface as warnings.
func (l *Lane) Close(ctx context.Context) []error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	var warnings []error
	for i := len(l.created) - 1; i >= 0; i-- {
		h := l.created[i]
		if err := l.DropIndex(ctx, h.oid); err != nil {
			l.metrics.Inc(metrics.CleanupFailures)
			level.Warn(l.logger).Log("msg", "failed to drop hypothetical index", "session", l.sessionID, "index", h.definition, "err", err)
			warnings = append(warnings, pgerrors.NewResourceCleanupError(l.sessionID, h.definition, err))
		}
	}

	if len(warnings) == 0 {
		l.conn.Release()
		return nil
	}

	if err := l.Reset(ctx); err != nil {
		level.Warn(l.logger).Log("msg", "hypopg_reset failed, closing connection", "session", l.sessionID, "err", err)
		warnings = append(warnings, pgerrors.NewResourceCleanupError(l.sessionID, "hypopg_reset()", err))
		l.metrics.Inc(metrics.LanesDestroyed)
		l.conn.Destroy(ctx)
		return warnings
	}
	l.conn.Release()
	return warnings
}
