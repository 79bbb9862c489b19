package explain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleJSON = `[
  {
    "Plan": {
      "Node Type": "Nested Loop",
      "Startup Cost": 0.29,
      "Total Cost": 16.34,
      "Plan Rows": 1,
      "Plans": [
        {"Node Type": "Index Scan", "Relation Name": "orders", "Index Name": "<13001>btree_orders_customer_id", "Total Cost": 8.3},
        {"Node Type": "Seq Scan", "Relation Name": "customers", "Total Cost": 8.01}
      ]
    },
    "Planning Time": 0.1
  }
]`

func TestParseJSON(t *testing.T) {
	plan, err := ParseJSON(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	require.Equal(t, "Nested Loop", plan.NodeType)
	require.InDelta(t, 16.34, plan.TotalCost, 1e-9)
	require.Len(t, plan.Children, 2)
	require.Equal(t, []string{"<13001>btree_orders_customer_id"}, plan.Indexes())
}

func TestParseAcceptsDriverShapes(t *testing.T) {
	decoded := []any{map[string]any{"Plan": map[string]any{"Node Type": "Seq Scan", "Total Cost": 431.0}}}

	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"text", sampleJSON, 16.34},
		{"bytes", []byte(sampleJSON), 16.34},
		{"decoded", decoded, 431},
		{"object", map[string]any{"Plan": map[string]any{"Total Cost": "12.5"}}, 12.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := TotalCost(tt.in)
			require.NoError(t, err)
			require.InDelta(t, tt.want, cost, 1e-9)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"empty array", []any{}},
		{"no plan", []any{map[string]any{"Planning Time": 1.0}}},
		{"bad plan", map[string]any{"Plan": "oops"}},
		{"bad json", "[{"},
		{"scalar", 42},
		{"negative", map[string]any{"Plan": map[string]any{"Total Cost": -1.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TotalCost(tt.in)
			require.Error(t, err)
		})
	}
}
