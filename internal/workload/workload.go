// Package workload defines the statements a session optimizes for.
package workload

// Param binds placeholder $Index to the column it is compared against.
type Param struct {
	Index  int
	Schema string
	Table  string
	Column string
}

// Statement is one workload query with its weight in the total cost.
type Statement struct {
	// SQL is the text sent to the planner, placeholders normalized to $n.
	SQL string
	// Text is the statement as the caller wrote it.
	Text   string
	Weight float64
	// Placeholders is the highest $n in SQL.
	Placeholders int
	Params       []Param
}

// Workload is an ordered statement list.
type Workload []Statement

// EffectiveWeight returns the statement weight, treating non-positive values as 1.
func (s Statement) EffectiveWeight() float64 {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// Original returns the caller's text, falling back to SQL.
func (s Statement) Original() string {
	if s.Text != "" {
		return s.Text
	}
	return s.SQL
}
