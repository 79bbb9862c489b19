// Package whatif estimates workload cost under hypothetical index sets.
//
// Every evaluation runs on its own lane: an exclusively held connection on
// which the index set is created with HypoPG, the workload is explained, and
// the indexes are dropped again before the connection is handed back.
package whatif

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/semaphore"

	"github.com/koltyakov/pgadvisor/internal/index"
	"github.com/koltyakov/pgadvisor/internal/metrics"
	"github.com/koltyakov/pgadvisor/internal/pgdb"
	"github.com/koltyakov/pgadvisor/internal/sqlparse"
	"github.com/koltyakov/pgadvisor/internal/workload"
)

// DefaultParallelism is the number of concurrent evaluations per session.
const DefaultParallelism = 4

const pgStatsSampleSQL = `SELECT COALESCE((most_common_vals::text::text[])[1], (histogram_bounds::text::text[])[1]) AS value
FROM pg_stats
WHERE schemaname = $1 AND tablename = $2 AND attname = $3
LIMIT 1`

// Options configures an Estimator.
type Options struct {
	SessionID      string
	Parallelism    int
	CleanupTimeout time.Duration
	// GenericPlan explains parameterized statements with GENERIC_PLAN (PostgreSQL 16+).
	// Otherwise placeholders are bound to values sampled from pg_stats.
	GenericPlan bool
	Logger      log.Logger
	Metrics     *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	return o
}

// Estimate is the weighted planner cost of a workload under one index set.
type Estimate struct {
	Total        float64
	PerStatement []float64
	// Sizes maps index definitions to estimated bytes. Filled only when measured.
	Sizes map[string]int64
}

// Outcome pairs an index set with its estimate or error.
type Outcome struct {
	Set      []index.Candidate
	Estimate Estimate
	Err      error
}

// Estimator runs what-if evaluations for one session.
type Estimator struct {
	pool pgdb.Acquirer
	opts Options
	sem  *semaphore.Weighted

	mu       sync.Mutex
	warnings []error
	samples  map[string]*string
}

// New creates an estimator drawing lanes from pool.
func New(pool pgdb.Acquirer, opts Options) *Estimator {
	opts = opts.withDefaults()
	return &Estimator{
		pool:    pool,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Parallelism)),
		samples: map[string]*string{},
	}
}

// Warnings returns cleanup failures collected so far.
func (e *Estimator) Warnings() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.warnings...)
}

// Estimate evaluates w with the hypothetical index set. With measure set the
// size of every index is read as well.
func (e *Estimator) Estimate(ctx context.Context, w workload.Workload, set []index.Candidate, measure bool) (Estimate, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Estimate{}, err
	}
	defer e.sem.Release(1)
	return e.estimate(ctx, w, set, measure)
}

// EstimateAll evaluates every set concurrently, bounded by Parallelism.
// Outcomes are returned in input order.
func (e *Estimator) EstimateAll(ctx context.Context, w workload.Workload, sets [][]index.Candidate, measure bool) []Outcome {
	out := make([]Outcome, len(sets))
	var wg sync.WaitGroup
	for i, set := range sets {
		out[i].Set = set
		if err := e.sem.Acquire(ctx, 1); err != nil {
			out[i].Err = err
			continue
		}
		wg.Add(1)
		go func(i int, set []index.Candidate) {
			defer e.sem.Release(1)
			defer wg.Done()
			out[i].Estimate, out[i].Err = e.estimate(ctx, w, set, measure)
		}(i, set)
	}
	wg.Wait()
	return out
}

// Rejection is a statement the planner refused to explain.
type Rejection struct {
	Statement workload.Statement
	Err       error
}

// Screen explains every statement of w once without hypothetical indexes.
// Statements the server rejects are split off; errors not raised by one
// statement abort the screen.
func (e *Estimator) Screen(ctx context.Context, w workload.Workload) (workload.Workload, []Rejection, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer e.sem.Release(1)

	lane, err := OpenLane(ctx, e.pool, e.opts)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if warnings := lane.Close(ctx); len(warnings) > 0 {
			e.mu.Lock()
			e.warnings = append(e.warnings, warnings...)
			e.mu.Unlock()
		}
	}()

	kept := make(workload.Workload, 0, len(w))
	var rejected []Rejection
	for i, st := range w {
		if _, err := e.explain(ctx, lane, st); err != nil {
			if ctx.Err() != nil || !pgdb.StatementError(err) {
				return nil, nil, fmt.Errorf("statement %d: %w", i+1, err)
			}
			level.Debug(e.opts.Logger).Log("msg", "statement rejected by planner", "statement", i+1, "err", err)
			rejected = append(rejected, Rejection{Statement: st, Err: err})
			continue
		}
		kept = append(kept, st)
	}
	return kept, rejected, nil
}

func (e *Estimator) estimate(ctx context.Context, w workload.Workload, set []index.Candidate, measure bool) (est Estimate, err error) {
	e.opts.Metrics.Inc(metrics.Evaluations)

	lane, err := OpenLane(ctx, e.pool, e.opts)
	if err != nil {
		return Estimate{}, err
	}
	defer func() {
		if warnings := lane.Close(ctx); len(warnings) > 0 {
			e.mu.Lock()
			e.warnings = append(e.warnings, warnings...)
			e.mu.Unlock()
		}
	}()

	if measure {
		est.Sizes = make(map[string]int64, len(set))
	}
	for _, c := range set {
		def := c.Definition()
		oid, err := lane.CreateIndex(ctx, def)
		if err != nil {
			return Estimate{}, err
		}
		if measure {
			size, err := lane.IndexSize(ctx, oid)
			if err != nil {
				return Estimate{}, err
			}
			est.Sizes[def] = size
		}
	}

	est.PerStatement = make([]float64, len(w))
	for i, st := range w {
		cost, err := e.explain(ctx, lane, st)
		if err != nil {
			return Estimate{}, fmt.Errorf("statement %d: %w", i+1, err)
		}
		est.PerStatement[i] = cost
		est.Total += cost * st.EffectiveWeight()
	}
	return est, nil
}

func (e *Estimator) explain(ctx context.Context, lane *Lane, st workload.Statement) (float64, error) {
	if st.Placeholders == 0 {
		return lane.Explain(ctx, st.SQL, false)
	}
	if e.opts.GenericPlan {
		return lane.Explain(ctx, st.SQL, true)
	}
	values := make(map[int]string, len(st.Params))
	for _, p := range st.Params {
		if _, ok := values[p.Index]; ok {
			continue
		}
		v, err := e.sample(ctx, lane.conn, p)
		if err != nil {
			return 0, err
		}
		if v != nil {
			values[p.Index] = *v
		}
	}
	return lane.Explain(ctx, sqlparse.BindPlaceholders(st.SQL, values), false)
}

// sample returns a representative value of the parameter's column, or nil
// when pg_stats has none.
func (e *Estimator) sample(ctx context.Context, q pgdb.Querier, p workload.Param) (*string, error) {
	key := p.Schema + "." + p.Table + "." + p.Column
	e.mu.Lock()
	v, ok := e.samples[key]
	e.mu.Unlock()
	if ok {
		return v, nil
	}

	row, err := pgdb.QueryOne(ctx, q, pgStatsSampleSQL, p.Schema, p.Table, p.Column)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", key, err)
	}
	if row != nil && row["value"] != nil {
		s := row.String("value")
		v = &s
	}
	level.Debug(e.opts.Logger).Log("msg", "sampled parameter value", "column", key, "found", v != nil)

	e.mu.Lock()
	e.samples[key] = v
	e.mu.Unlock()
	return v, nil
}
