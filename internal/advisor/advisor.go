// Package advisor recommends secondary indexes for a workload.
//
// A session generates candidates from the workload, costs them with HypoPG
// hypothetical indexes, greedily selects the best improvement per byte under
// a storage budget, and flags picks that PostgreSQL 18 skip scan may make
// redundant. No real index is ever created.
package advisor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/koltyakov/pgadvisor/internal/candidate"
	"github.com/koltyakov/pgadvisor/internal/collect"
	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/metrics"
	"github.com/koltyakov/pgadvisor/internal/pgcompat"
	"github.com/koltyakov/pgadvisor/internal/pgdb"
	"github.com/koltyakov/pgadvisor/internal/whatif"
)

// Method identifies the search strategy in session results.
const Method = "greedy_whatif"

// Defaults for Options.
const (
	DefaultMaxQueries    = 10
	DefaultMaxSearchTime = 5 * time.Minute
)

// Optimizer is the caller-facing contract shared by every recommendation strategy.
type Optimizer interface {
	AnalyzeWorkload(ctx context.Context, maxIndexSizeMB float64) (*Session, error)
	AnalyzeQueries(ctx context.Context, queries []string, maxIndexSizeMB float64) (*Session, error)
}

// Options configures an Advisor. Zero values take defaults.
type Options struct {
	MaxQueries     int
	MaxIndexWidth  int
	Parallelism    int
	MaxSearchTime  time.Duration
	CleanupTimeout time.Duration
	// Workload filters pg_stat_statements for AnalyzeWorkload.
	Workload collect.Config
	Logger   log.Logger
	Metrics  *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.MaxQueries <= 0 {
		o.MaxQueries = DefaultMaxQueries
	}
	if o.MaxIndexWidth <= 0 {
		o.MaxIndexWidth = candidate.DefaultMaxIndexWidth
	}
	if o.Parallelism <= 0 {
		o.Parallelism = whatif.DefaultParallelism
	}
	if o.MaxSearchTime <= 0 {
		o.MaxSearchTime = DefaultMaxSearchTime
	}
	if o.Workload.MaxStatements <= 0 {
		d := collect.DefaultConfig()
		o.Workload.MaxStatements = d.MaxStatements
		if o.Workload.MinCalls == 0 && o.Workload.MinMeanTimeMs == 0 {
			o.Workload.MinCalls = d.MinCalls
			o.Workload.MinMeanTimeMs = d.MinMeanTimeMs
		}
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	return o
}

// Advisor is the what-if index tuning strategy.
type Advisor struct {
	pool  pgdb.Acquirer
	probe *pgcompat.Probe
	opts  Options
	now   func() time.Time
}

var _ Optimizer = (*Advisor)(nil)

// New creates an advisor on pool. A nil probe gets a private cache.
func New(pool pgdb.Acquirer, probe *pgcompat.Probe, opts Options) *Advisor {
	if probe == nil {
		probe = pgcompat.NewProbe(pool, nil)
	}
	return &Advisor{pool: pool, probe: probe, opts: opts.withDefaults(), now: time.Now}
}

// AnalyzeWorkload recommends indexes for the heaviest pg_stat_statements
// entries, weighting each statement by its call count.
func (a *Advisor) AnalyzeWorkload(ctx context.Context, maxIndexSizeMB float64) (*Session, error) {
	if err := validateBudget(maxIndexSizeMB); err != nil {
		return nil, err
	}
	if _, err := a.probe.RequireExtension(ctx, "hypopg"); err != nil {
		return nil, err
	}
	stmts, err := collect.Workload(ctx, a.pool, a.probe, a.opts.Workload)
	if err != nil {
		return nil, err
	}
	inputs := make([]candidate.Input, len(stmts))
	for i, st := range stmts {
		inputs[i] = candidate.Input{SQL: st.Query, Weight: float64(st.Calls)}
	}
	return a.run(ctx, inputs, maxIndexSizeMB)
}

// AnalyzeQueries recommends indexes for literal queries, each with weight 1.
// The list is validated before any database work.
func (a *Advisor) AnalyzeQueries(ctx context.Context, queries []string, maxIndexSizeMB float64) (*Session, error) {
	if len(queries) == 0 {
		return nil, pgerrors.NewValidationError("queries", "", "at least one query is required")
	}
	if len(queries) > a.opts.MaxQueries {
		return nil, pgerrors.NewValidationError("queries", fmt.Sprint(len(queries)), fmt.Sprintf("at most %d queries are allowed", a.opts.MaxQueries))
	}
	inputs := make([]candidate.Input, len(queries))
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, pgerrors.NewValidationError("queries", "", fmt.Sprintf("query %d is empty", i+1))
		}
		inputs[i] = candidate.Input{SQL: q, Weight: 1}
	}
	if err := validateBudget(maxIndexSizeMB); err != nil {
		return nil, err
	}
	if _, err := a.probe.RequireExtension(ctx, "hypopg"); err != nil {
		return nil, err
	}
	return a.run(ctx, inputs, maxIndexSizeMB)
}

func validateBudget(mb float64) error {
	if math.IsNaN(mb) || math.IsInf(mb, 0) {
		return pgerrors.NewValidationError("max_index_size_mb", fmt.Sprint(mb), "must be a finite number")
	}
	if mb < 0 {
		return pgerrors.NewValidationError("max_index_size_mb", fmt.Sprint(mb), "must not be negative")
	}
	return nil
}

// budgetBytes converts a validated budget to bytes, saturating at MaxInt64.
func budgetBytes(mb float64) int64 {
	b := mb * BytesPerMB
	if b >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}

// withCleanupErrors attaches cleanup failures collected before err.
func withCleanupErrors(err error, warnings []error) error {
	if len(warnings) == 0 {
		return err
	}
	me := &pgerrors.MultiError{}
	me.Add(err)
	for _, w := range warnings {
		me.Add(w)
	}
	return me
}

func (a *Advisor) run(ctx context.Context, inputs []candidate.Input, budgetMB float64) (sess *Session, err error) {
	started := a.now()
	sess = &Session{
		SessionID: uuid.New().String(),
		BudgetMB:  budgetMB,
		Method:    Method,
		StartedAt: started,
	}
	logger := log.With(a.opts.Logger, "session", sess.SessionID)
	defer func() {
		outcome := metrics.OutcomeOK
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
		case sess.Truncated:
			outcome = metrics.OutcomeTruncated
		}
		a.opts.Metrics.ObserveSession(outcome, a.now().Sub(started).Seconds())
	}()

	info, err := a.probe.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}
	sess.ServerVersion = info.VersionNum

	cat, err := collect.LoadCatalog(ctx, a.pool)
	if err != nil {
		return nil, err
	}
	existing, err := collect.ExistingIndexes(ctx, a.pool)
	if err != nil {
		return nil, err
	}

	gen := candidate.Generate(inputs, cat, existing, candidate.Options{MaxIndexWidth: a.opts.MaxIndexWidth})
	sess.Diagnostics = gen.Diagnostics
	for _, d := range gen.Diagnostics {
		level.Debug(logger).Log("msg", "skipped", "subject", d.Subject, "reason", d.Reason)
	}
	if len(gen.Workload) == 0 {
		sess.Duration = a.now().Sub(started)
		level.Info(logger).Log("msg", "no analyzable statements", "inputs", len(inputs))
		return sess, nil
	}

	est := whatif.New(a.pool, whatif.Options{
		SessionID:      sess.SessionID,
		Parallelism:    a.opts.Parallelism,
		CleanupTimeout: a.opts.CleanupTimeout,
		GenericPlan:    info.SupportsGenericPlan(),
		Logger:         logger,
		Metrics:        a.opts.Metrics,
	})
	kept, rejected, err := est.Screen(ctx, gen.Workload)
	if err != nil {
		return nil, withCleanupErrors(fmt.Errorf("baseline cost: %w", err), est.Warnings())
	}
	for _, r := range rejected {
		sess.Diagnostics = append(sess.Diagnostics, candidate.Diagnostic{
			Subject: r.Statement.Original(),
			Reason:  fmt.Sprintf("rejected by planner: %v", r.Err),
		})
	}
	if len(kept) == 0 {
		sess.addWarnings(est.Warnings())
		sess.Duration = a.now().Sub(started)
		level.Info(logger).Log("msg", "no statement could be planned", "rejected", len(rejected))
		return sess, nil
	}

	sel := &selector{
		est:      est,
		w:        kept,
		budget:   budgetBytes(budgetMB),
		deadline: started.Add(a.opts.MaxSearchTime),
		now:      a.now,
		logger:   logger,
	}
	res, err := sel.run(ctx, gen.Candidates)
	if err != nil {
		return nil, withCleanupErrors(err, est.Warnings())
	}

	Annotate(res.recs, existing, info)
	sess.BaseCost = res.base.Total
	sess.FinalCost = res.final
	sess.Recommendations = res.recs
	sess.Diagnostics = append(sess.Diagnostics, res.diagnostics...)
	sess.Truncated = res.truncated
	sess.addWarnings(est.Warnings())
	sess.Duration = a.now().Sub(started)

	level.Info(logger).Log(
		"msg", "session complete",
		"statements", len(kept),
		"rejected", len(rejected),
		"candidates", len(gen.Candidates),
		"recommendations", len(sess.Recommendations),
		"base_cost", sess.BaseCost,
		"final_cost", sess.FinalCost,
		"warnings", len(sess.Warnings),
		"duration", sess.Duration,
	)
	return sess, nil
}
