package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxPromptQueryLen = 4000

type promptData struct {
	BudgetMB        float64         `json:"budget_mb"`
	ServerVersion   int             `json:"server_version_num"`
	BaseCost        float64         `json:"base_cost"`
	FinalCost       float64         `json:"final_cost"`
	Recommendations []promptIndex   `json:"recommendations"`
	Skipped         []promptSkipped `json:"skipped,omitempty"`
}

type promptIndex struct {
	Definition     string   `json:"definition"`
	SizeBytes      int64    `json:"estimated_size_bytes"`
	ImprovementPct float64  `json:"improvement_pct"`
	Warning        string   `json:"warning,omitempty"`
	Queries        []string `json:"queries"`
}

type promptSkipped struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

// PromptPath returns the sidecar path for a report written to outPath.
func PromptPath(outPath string) string {
	return strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".prompt.txt"
}

// WritePrompt writes a .prompt.txt next to outPath asking a reviewer model
// to validate the recommendations. Nothing is written for stdout.
func WritePrompt(outPath string, r Report) (string, error) {
	if outPath == "-" || strings.TrimSpace(outPath) == "" {
		return "", nil
	}

	trimLong := func(s string) string {
		s = strings.TrimSpace(s)
		if len(s) > maxPromptQueryLen {
			return s[:maxPromptQueryLen] + " … [truncated]"
		}
		return s
	}

	s := r.Session
	pd := promptData{
		BudgetMB:        s.BudgetMB,
		ServerVersion:   s.ServerVersion,
		BaseCost:        s.BaseCost,
		FinalCost:       s.FinalCost,
		Recommendations: []promptIndex{},
	}
	for _, e := range r.Entries {
		pi := promptIndex{
			Definition:     e.Definition,
			SizeBytes:      e.SizeBytes,
			ImprovementPct: e.ProgressiveImprovementPct,
			Warning:        e.Warning,
		}
		for _, q := range e.Queries {
			pi.Queries = append(pi.Queries, trimLong(q))
		}
		pd.Recommendations = append(pd.Recommendations, pi)
	}
	for _, d := range s.Diagnostics {
		pd.Skipped = append(pd.Skipped, promptSkipped{Subject: trimLong(d.Subject), Reason: d.Reason})
	}

	payload, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("PostgreSQL index review – session-specific prompt\n\n")
	b.WriteString("Role\nYou are a senior PostgreSQL performance engineer. The indexes below were chosen by a what-if planner search with HypoPG hypothetical indexes. Review them before anyone creates them: check for overlap with each other, write amplification on hot tables, and statements that would be better served by a rewrite.\n\n")
	b.WriteString("Output sections: Summary; Indexes to create (ordered, with DDL using CREATE INDEX CONCURRENTLY); Indexes to skip and why; Validation plan.\n\n")
	b.WriteString("Constraints: Planner costs are estimates without real data changes. Validate with EXPLAIN (ANALYZE, BUFFERS) on staging.\n\n")
	b.WriteString("INPUT START\n")
	b.Write(payload)
	b.WriteString("\nINPUT END\n")

	path := PromptPath(outPath)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	return path, nil
}
