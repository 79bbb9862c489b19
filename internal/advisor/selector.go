package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/koltyakov/pgadvisor/internal/candidate"
	"github.com/koltyakov/pgadvisor/internal/index"
	"github.com/koltyakov/pgadvisor/internal/whatif"
	"github.com/koltyakov/pgadvisor/internal/workload"
)

// estimator is the part of whatif.Estimator the selector drives.
type estimator interface {
	Estimate(ctx context.Context, w workload.Workload, set []index.Candidate, measure bool) (whatif.Estimate, error)
	EstimateAll(ctx context.Context, w workload.Workload, sets [][]index.Candidate, measure bool) []whatif.Outcome
}

// selection is the outcome of a greedy search.
type selection struct {
	base        whatif.Estimate
	final       float64
	recs        []Recommendation
	diagnostics []candidate.Diagnostic
	truncated   bool
}

type scored struct {
	cand       index.Candidate
	def        string
	size       int64
	individual whatif.Estimate
}

type selector struct {
	est      estimator
	w        workload.Workload
	budget   int64
	deadline time.Time
	now      func() time.Time
	logger   log.Logger
}

// run picks indexes greedily by cost improvement per byte until the budget
// is spent, nothing improves, or the deadline passes. A baseline failure is
// returned as an error; per-candidate failures become diagnostics.
func (s *selector) run(ctx context.Context, cands []index.Candidate) (*selection, error) {
	base, err := s.est.Estimate(ctx, s.w, nil, false)
	if err != nil {
		return nil, fmt.Errorf("baseline cost: %w", err)
	}
	out := &selection{base: base, final: base.Total}
	if s.budget <= 0 || len(cands) == 0 {
		return out, nil
	}

	sets := make([][]index.Candidate, len(cands))
	for i, c := range cands {
		sets[i] = []index.Candidate{c}
	}
	var pool []scored
	for _, o := range s.est.EstimateAll(ctx, s.w, sets, true) {
		def := o.Set[0].Definition()
		switch {
		case o.Err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out.diagnostics = append(out.diagnostics, candidate.Diagnostic{Subject: def, Reason: fmt.Sprintf("evaluation failed: %v", o.Err)})
		case o.Estimate.Total >= base.Total:
			level.Debug(s.logger).Log("msg", "pruned candidate without improvement", "index", def)
		case o.Estimate.Sizes[def] > s.budget:
			out.diagnostics = append(out.diagnostics, candidate.Diagnostic{Subject: def, Reason: "exceeds budget"})
		default:
			pool = append(pool, scored{cand: o.Set[0], def: def, size: o.Estimate.Sizes[def], individual: o.Estimate})
		}
	}

	var chosen []index.Candidate
	remaining := s.budget
	current := base.Total
	for len(pool) > 0 {
		if !s.deadline.IsZero() && !s.now().Before(s.deadline) {
			out.truncated = true
			level.Info(s.logger).Log("msg", "search deadline reached", "selected", len(chosen))
			break
		}

		var fits []scored
		var trial [][]index.Candidate
		for _, p := range pool {
			if p.size > remaining {
				continue
			}
			fits = append(fits, p)
			trial = append(trial, append(append([]index.Candidate(nil), chosen...), p.cand))
		}
		if len(fits) == 0 {
			break
		}

		best := -1
		var bestCost float64
		for i, o := range s.est.EstimateAll(ctx, s.w, trial, false) {
			if o.Err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				out.diagnostics = append(out.diagnostics, candidate.Diagnostic{Subject: fits[i].def, Reason: fmt.Sprintf("evaluation failed: %v", o.Err)})
				pool = without(pool, fits[i].def)
				continue
			}
			gain := current - o.Estimate.Total
			if gain <= 0 {
				continue
			}
			if best < 0 || better(gain, fits[i], current-bestCost, fits[best]) {
				best, bestCost = i, o.Estimate.Total
			}
		}
		if best < 0 {
			break
		}

		pick := fits[best]
		out.recs = append(out.recs, Recommendation{
			Index:                         pick.cand,
			Definition:                    pick.def,
			ProgressiveBaseCost:           current,
			ProgressiveRecommendationCost: bestCost,
			IndividualBaseCost:            base.Total,
			IndividualRecommendationCost:  pick.individual.Total,
			Queries:                       improved(s.w, base, pick.individual),
			EstimatedSizeBytes:            pick.size,
		})
		level.Debug(s.logger).Log("msg", "selected index", "index", pick.def, "cost", bestCost, "size", pick.size)

		chosen = append(chosen, pick.cand)
		remaining -= pick.size
		current = bestCost
		pool = without(pool, pick.def)
	}
	out.final = current
	return out, nil
}

// better orders candidates by gain per byte, then smaller size, then definition.
func better(gainA float64, a scored, gainB float64, b scored) bool {
	ra, rb := gainA/float64(max(a.size, 1)), gainB/float64(max(b.size, 1))
	if ra != rb {
		return ra > rb
	}
	if a.size != b.size {
		return a.size < b.size
	}
	return a.def < b.def
}

func without(pool []scored, def string) []scored {
	out := pool[:0:0]
	for _, p := range pool {
		if p.def != def {
			out = append(out, p)
		}
	}
	return out
}

// improved lists the statements the index makes cheaper on its own.
func improved(w workload.Workload, base, with whatif.Estimate) []string {
	var out []string
	for i, st := range w {
		if i < len(with.PerStatement) && i < len(base.PerStatement) && with.PerStatement[i] < base.PerStatement[i] {
			out = append(out, st.Original())
		}
	}
	return out
}
