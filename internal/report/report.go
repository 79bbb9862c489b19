// Package report renders advisory sessions as text, JSON and HTML.
//
// Labels are derived from the session alone; nothing here talks to the database.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/koltyakov/pgadvisor/internal/advisor"
)

// Improvement thresholds in percent of the progressive base cost.
const (
	highImprovementPct   = 50
	mediumImprovementPct = 10
)

const skipScanWarning = "An existing multi-column index may already serve this lookup through PostgreSQL 18 skip scan. Compare plans on the real server before creating it."

// Entry is one recommendation with presentation labels.
type Entry struct {
	Rank                      int      `json:"rank"`
	Definition                string   `json:"definition"`
	Table                     string   `json:"table"`
	Columns                   []string `json:"columns"`
	SizeBytes                 int64    `json:"estimated_size_bytes"`
	ProgressiveImprovementPct float64  `json:"progressive_improvement_pct"`
	IndividualImprovementPct  float64  `json:"individual_improvement_pct"`
	Confidence                string   `json:"confidence"`
	Priority                  string   `json:"priority"`
	Warning                   string   `json:"warning,omitempty"`
	Queries                   []string `json:"queries"`
}

// Report is a session with its rendered recommendation list.
type Report struct {
	Version             string           `json:"version,omitempty"`
	Session             *advisor.Session `json:"session"`
	Entries             []Entry          `json:"recommendations"`
	TotalImprovementPct float64          `json:"total_improvement_pct"`
	TotalSizeBytes      int64            `json:"total_size_bytes"`
}

// Build labels every recommendation of s.
func Build(s *advisor.Session) Report {
	r := Report{Session: s, Entries: []Entry{}, TotalSizeBytes: s.TotalSizeBytes()}
	if s.BaseCost > 0 {
		r.TotalImprovementPct = (s.BaseCost - s.FinalCost) * 100 / s.BaseCost
	}
	for i, rec := range s.Recommendations {
		e := Entry{
			Rank:                      i + 1,
			Definition:                rec.Definition,
			Table:                     rec.Index.QualifiedTable(),
			Columns:                   rec.Index.Columns,
			SizeBytes:                 rec.EstimatedSizeBytes,
			ProgressiveImprovementPct: rec.ProgressiveImprovement(),
			IndividualImprovementPct:  rec.IndividualImprovement(),
			Queries:                   rec.Queries,
		}
		e.Confidence, e.Priority = labels(e.ProgressiveImprovementPct)
		if rec.PotentialProblematicReason == advisor.ReasonSkipScanRedundant {
			e.Confidence, e.Priority = "lower", "low"
			e.Warning = skipScanWarning
		}
		r.Entries = append(r.Entries, e)
	}
	return r
}

func labels(pct float64) (confidence, priority string) {
	switch {
	case pct >= highImprovementPct:
		return "high", "high"
	case pct >= mediumImprovementPct:
		return "medium", "medium"
	default:
		return "lower", "low"
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a plain text summary for terminals and tool replies.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	s := r.Session
	fmt.Fprintf(&b, "Index tuning session %s (%s)\n", s.SessionID, s.Method)
	fmt.Fprintf(&b, "Budget: %s MB, server %d, took %s\n", fmtFloatPrecSep(s.BudgetMB, 0), s.ServerVersion, humanizeDuration(s.Duration))
	if s.BaseCost > 0 {
		fmt.Fprintf(&b, "Workload cost: %s -> %s (%s%% lower)\n",
			fmtFloatPrecSep(s.BaseCost, 2), fmtFloatPrecSep(s.FinalCost, 2), fmtFloatPrecSep(r.TotalImprovementPct, 1))
	}
	if s.Truncated {
		b.WriteString("Search stopped at the time limit; results are partial.\n")
	}

	if len(r.Entries) == 0 {
		b.WriteString("\nNo index recommendations.\n")
	} else {
		fmt.Fprintf(&b, "\nRecommendations (%d, %s total):\n", len(r.Entries), fmtBytesStr(r.TotalSizeBytes))
	}
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "\n%d. %s;\n", e.Rank, e.Definition)
		fmt.Fprintf(&b, "   size %s, improvement %s%% (alone %s%%), confidence %s, priority %s\n",
			fmtBytesStr(e.SizeBytes), fmtFloatPrecSep(e.ProgressiveImprovementPct, 1),
			fmtFloatPrecSep(e.IndividualImprovementPct, 1), e.Confidence, e.Priority)
		if e.Warning != "" {
			fmt.Fprintf(&b, "   warning: %s\n", e.Warning)
		}
		for _, q := range e.Queries {
			fmt.Fprintf(&b, "   - %s\n", shorten(q, 120))
		}
	}

	if len(s.Diagnostics) > 0 {
		b.WriteString("\nSkipped:\n")
		for _, d := range s.Diagnostics {
			fmt.Fprintf(&b, "  - %s: %s\n", shorten(d.Subject, 80), d.Reason)
		}
	}
	if len(s.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, warn := range s.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warn)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
