package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/pgadvisor/internal/advisor"
	"github.com/koltyakov/pgadvisor/internal/candidate"
	"github.com/koltyakov/pgadvisor/internal/index"
)

func sampleSession() *advisor.Session {
	return &advisor.Session{
		SessionID:     "test-session",
		BudgetMB:      10,
		Method:        advisor.Method,
		ServerVersion: 180000,
		BaseCost:      2000,
		FinalCost:     110,
		StartedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:      1500 * time.Millisecond,
		Recommendations: []advisor.Recommendation{
			{
				Index:                         index.Candidate{Table: "orders", Columns: []string{"customer_id", "status"}},
				Definition:                    "CREATE INDEX ON orders USING btree (customer_id, status)",
				ProgressiveBaseCost:           2000,
				ProgressiveRecommendationCost: 120,
				IndividualBaseCost:            2000,
				IndividualRecommendationCost:  120,
				Queries:                       []string{"select * from orders where customer_id = 1 and status = 'x'"},
				EstimatedSizeBytes:            1_300_000,
			},
			{
				Index:                         index.Candidate{Table: "orders", Columns: []string{"customer_id"}},
				Definition:                    "CREATE INDEX ON orders USING btree (customer_id)",
				ProgressiveBaseCost:           120,
				ProgressiveRecommendationCost: 110,
				IndividualBaseCost:            2000,
				IndividualRecommendationCost:  700,
				Queries:                       []string{"select * from orders where customer_id = 1"},
				EstimatedSizeBytes:            1_000_000,
				PotentialProblematicReason:    advisor.ReasonSkipScanRedundant,
			},
		},
		Diagnostics: []candidate.Diagnostic{{Subject: "VACUUM orders", Reason: "unsupported statement: VACUUM"}},
		Warnings:    []string{"session test-session: drop hypothetical index x: boom"},
	}
}

// TestTemplateExec ensures the embedded template parses and executes with empty data.
func TestTemplateExec(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, Build(&advisor.Session{})); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No index would lower") {
		t.Error("expected empty-state message")
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, Build(sampleSession())); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"test-session", "CREATE INDEX ON orders USING btree (customer_id, status);", "skip scan", "VACUUM orders", "1.30 MB", "94.5%"} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML output missing %q", want)
		}
	}
}

func TestBuildLabels(t *testing.T) {
	tests := []struct {
		name       string
		base, with float64
		reason     string
		confidence string
		priority   string
		warning    bool
	}{
		{name: "large improvement", base: 100, with: 40, confidence: "high", priority: "high"},
		{name: "moderate improvement", base: 100, with: 85, confidence: "medium", priority: "medium"},
		{name: "small improvement", base: 100, with: 95, confidence: "lower", priority: "low"},
		{name: "skip scan overrides", base: 100, with: 20, reason: advisor.ReasonSkipScanRedundant, confidence: "lower", priority: "low", warning: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &advisor.Session{Recommendations: []advisor.Recommendation{{
				ProgressiveBaseCost:           tt.base,
				ProgressiveRecommendationCost: tt.with,
				PotentialProblematicReason:    tt.reason,
			}}}
			e := Build(s).Entries[0]
			if e.Confidence != tt.confidence || e.Priority != tt.priority {
				t.Errorf("labels = %s/%s, want %s/%s", e.Confidence, e.Priority, tt.confidence, tt.priority)
			}
			if tt.warning && !strings.Contains(strings.ToLower(e.Warning), "skip scan") {
				t.Errorf("warning %q does not mention skip scan", e.Warning)
			}
			if !tt.warning && e.Warning != "" {
				t.Errorf("unexpected warning %q", e.Warning)
			}
		})
	}
}

func TestBuildTotals(t *testing.T) {
	r := Build(sampleSession())
	if len(r.Entries) != 2 || r.Entries[0].Rank != 1 || r.Entries[1].Rank != 2 {
		t.Fatalf("unexpected entries: %+v", r.Entries)
	}
	if r.TotalSizeBytes != 2_300_000 {
		t.Errorf("TotalSizeBytes = %d", r.TotalSizeBytes)
	}
	if r.TotalImprovementPct != 94.5 {
		t.Errorf("TotalImprovementPct = %v", r.TotalImprovementPct)
	}
	if r.Entries[0].IndividualImprovementPct != 94 {
		t.Errorf("IndividualImprovementPct = %v", r.Entries[0].IndividualImprovementPct)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, Build(sampleSession())); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Index tuning session test-session",
		"Workload cost: 2,000.00 -> 110.00 (94.5% lower)",
		"Budget: 10 MB",
		"Recommendations (2, 2.30 MB total)",
		"1. CREATE INDEX ON orders USING btree (customer_id, status);",
		"confidence lower, priority low",
		"warning: An existing multi-column index",
		"Skipped:",
		"Warnings:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, Build(sampleSession())); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded struct {
		Session struct {
			SessionID       string `json:"session_id"`
			Recommendations []struct {
				Reason string `json:"potential_problematic_reason"`
			} `json:"recommendations"`
		} `json:"session"`
		Recommendations []Entry `json:"recommendations"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Session.SessionID != "test-session" || len(decoded.Recommendations) != 2 {
		t.Fatalf("unexpected JSON: %s", buf.String())
	}
	if decoded.Session.Recommendations[1].Reason != advisor.ReasonSkipScanRedundant {
		t.Errorf("missing skip scan reason in JSON")
	}
}

func TestWritePrompt(t *testing.T) {
	if p, err := WritePrompt("-", Build(sampleSession())); err != nil || p != "" {
		t.Fatalf("stdout should not produce a prompt, got %q, %v", p, err)
	}

	out := filepath.Join(t.TempDir(), "report.html")
	p, err := WritePrompt(out, Build(sampleSession()))
	if err != nil {
		t.Fatalf("WritePrompt failed: %v", err)
	}
	if p != strings.TrimSuffix(out, ".html")+".prompt.txt" {
		t.Errorf("unexpected prompt path %q", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read prompt: %v", err)
	}
	if !strings.Contains(string(data), "INPUT START") || !strings.Contains(string(data), "customer_id, status") {
		t.Errorf("unexpected prompt content:\n%s", data)
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct{ got, want string }{
		{fmtFloatPrecSep(1234567.891, 2), "1,234,567.89"},
		{fmtFloatPrecSep(-1234, 0), "-1,234"},
		{addThousands("999"), "999"},
		{addThousands("1000"), "1,000"},
		{humanizeDuration(850 * time.Millisecond), "850ms"},
		{humanizeDuration(42 * time.Second), "42s"},
		{humanizeDuration(time.Hour + 25*time.Minute + 42*time.Second), "1h 25m 42s"},
		{fmtBytesStr(1500), "1.50 KB"},
		{fmtBytesStr(999), "999.00 B"},
		{fmtBytesStr(2_000_000), "2.00 MB"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
