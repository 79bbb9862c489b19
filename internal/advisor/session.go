package advisor

import (
	"time"

	"github.com/koltyakov/pgadvisor/internal/candidate"
	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/index"
)

// BytesPerMB converts the session budget to bytes.
const BytesPerMB = 1_000_000

// Recommendation is one selected index with the costs that justified it.
//
// Progressive costs are workload totals before and after adding the index on
// top of the indexes selected earlier. Individual costs compare the index
// alone against no hypothetical indexes.
type Recommendation struct {
	Index                         index.Candidate `json:"index"`
	Definition                    string          `json:"definition"`
	ProgressiveBaseCost           float64         `json:"progressive_base_cost"`
	ProgressiveRecommendationCost float64         `json:"progressive_recommendation_cost"`
	IndividualBaseCost            float64         `json:"individual_base_cost"`
	IndividualRecommendationCost  float64         `json:"individual_recommendation_cost"`
	Queries                       []string        `json:"queries"`
	EstimatedSizeBytes            int64           `json:"estimated_size_bytes"`
	PotentialProblematicReason    string          `json:"potential_problematic_reason,omitempty"`
}

// ProgressiveImprovement returns the cost reduction relative to the progressive base, in percent.
func (r Recommendation) ProgressiveImprovement() float64 {
	return improvement(r.ProgressiveBaseCost, r.ProgressiveRecommendationCost)
}

// IndividualImprovement returns the cost reduction of the index alone, in percent.
func (r Recommendation) IndividualImprovement() float64 {
	return improvement(r.IndividualBaseCost, r.IndividualRecommendationCost)
}

func improvement(base, with float64) float64 {
	if base <= 0 {
		return 0
	}
	return (base - with) * 100 / base
}

// Session is the result of one advisory run. Recommendations keep selection order.
type Session struct {
	SessionID       string                 `json:"session_id"`
	BudgetMB        float64                `json:"budget_mb"`
	Method          string                 `json:"method"`
	ServerVersion   int                    `json:"server_version_num"`
	BaseCost        float64                `json:"base_cost"`
	FinalCost       float64                `json:"final_cost"`
	Recommendations []Recommendation       `json:"recommendations"`
	Diagnostics     []candidate.Diagnostic `json:"diagnostics,omitempty"`
	Warnings        []string               `json:"warnings,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	Duration        time.Duration          `json:"duration_ns"`
	Truncated       bool                   `json:"truncated,omitempty"`

	cleanup []error
}

// CleanupErrors returns the ResourceCleanupErrors behind Warnings.
func (s *Session) CleanupErrors() []error {
	return s.cleanup
}

// CleanupErr aggregates the cleanup failures, or returns nil when there were none.
func (s *Session) CleanupErr() error {
	var me pgerrors.MultiError
	for _, err := range s.cleanup {
		me.Add(err)
	}
	return me.ErrorOrNil()
}

// TotalSizeBytes sums the estimated sizes of all recommendations.
func (s *Session) TotalSizeBytes() int64 {
	var n int64
	for _, r := range s.Recommendations {
		n += r.EstimatedSizeBytes
	}
	return n
}

func (s *Session) addWarnings(errs []error) {
	for _, err := range errs {
		s.cleanup = append(s.cleanup, err)
		s.Warnings = append(s.Warnings, err.Error())
	}
}
