// Package explain decodes EXPLAIN (FORMAT JSON) output.
package explain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Plan is one node of a planner tree. Costs are the planner's unitless estimates.
type Plan struct {
	NodeType     string
	RelationName string
	IndexName    string
	StartupCost  float64
	TotalCost    float64
	PlanRows     float64
	Children     []*Plan
}

// ParseJSON reads an EXPLAIN (FORMAT JSON) document.
func ParseJSON(r io.Reader) (*Plan, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode explain json: %w", err)
	}
	return fromPayload(payload)
}

// Parse accepts the "QUERY PLAN" column as returned by the driver: raw JSON
// text or bytes, or an already decoded document.
func Parse(v any) (*Plan, error) {
	switch raw := v.(type) {
	case string:
		return ParseJSON(bytes.NewBufferString(raw))
	case []byte:
		return ParseJSON(bytes.NewReader(raw))
	case nil:
		return nil, errors.New("explain json: empty payload")
	default:
		return fromPayload(raw)
	}
}

// TotalCost parses v and returns the root Total Cost.
func TotalCost(v any) (float64, error) {
	p, err := Parse(v)
	if err != nil {
		return 0, err
	}
	if p.TotalCost < 0 {
		return 0, fmt.Errorf("explain json: negative total cost %v", p.TotalCost)
	}
	return p.TotalCost, nil
}

// Walk visits p and its descendants depth-first.
func (p *Plan) Walk(fn func(*Plan)) {
	if p == nil {
		return
	}
	fn(p)
	for _, c := range p.Children {
		c.Walk(fn)
	}
}

// Indexes lists the index names the plan scans, in visit order.
func (p *Plan) Indexes() []string {
	var out []string
	p.Walk(func(n *Plan) {
		if n.IndexName != "" {
			out = append(out, n.IndexName)
		}
	})
	return out
}

func fromPayload(payload any) (*Plan, error) {
	entry, err := pickFirstEntry(payload)
	if err != nil {
		return nil, err
	}
	planVal, ok := entry["Plan"]
	if !ok {
		return nil, errors.New("explain json: missing Plan root")
	}
	planMap, ok := planVal.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("explain json: invalid Plan node %T", planVal)
	}
	return parseNode(planMap)
}

func pickFirstEntry(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, errors.New("explain json: empty payload")
		}
		obj, ok := v[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("explain json: invalid entry %T", v[0])
		}
		return obj, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("explain json: unexpected top-level type %T", payload)
	}
}

func parseNode(data map[string]any) (*Plan, error) {
	node := &Plan{
		NodeType:     asString(data["Node Type"]),
		RelationName: asString(data["Relation Name"]),
		IndexName:    asString(data["Index Name"]),
		StartupCost:  asFloat(data["Startup Cost"]),
		TotalCost:    asFloat(data["Total Cost"]),
		PlanRows:     asFloat(data["Plan Rows"]),
	}
	children, _ := data["Plans"].([]any)
	for i, c := range children {
		m, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("explain json: invalid child plan %d: %T", i, c)
		}
		child, err := parseNode(m)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func asString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
