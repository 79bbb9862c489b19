// Package candidate derives hypothetical index candidates from a workload.
//
// Each statement is parsed, its column references are resolved against the
// catalog per SELECT scope, and ordered column tuples are proposed per table:
// equality and join columns first, then at most one range, sort or group
// column. Candidates already served by an existing index are dropped.
package candidate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/koltyakov/pgadvisor/internal/collect"
	"github.com/koltyakov/pgadvisor/internal/index"
	"github.com/koltyakov/pgadvisor/internal/sqlparse"
	"github.com/koltyakov/pgadvisor/internal/workload"
)

// DefaultMaxIndexWidth caps the number of columns per candidate.
const DefaultMaxIndexWidth = 3

// Input is a raw workload statement.
type Input struct {
	SQL    string
	Weight float64
}

// Options tunes generation.
type Options struct {
	MaxIndexWidth int
}

// Diagnostic explains why a statement or candidate was skipped.
type Diagnostic struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

// Result is the generator output.
type Result struct {
	Candidates  []index.Candidate
	Workload    workload.Workload
	Diagnostics []Diagnostic
}

// Generate parses inputs and proposes candidates. Statements that cannot be
// analyzed are left out of the workload with a diagnostic.
func Generate(inputs []Input, cat *collect.Catalog, existing []index.Existing, opts Options) Result {
	width := opts.MaxIndexWidth
	if width <= 0 {
		width = DefaultMaxIndexWidth
	}

	var res Result
	seen := map[string]index.Candidate{}
	for _, in := range inputs {
		a, err := sqlparse.Parse(in.SQL)
		switch {
		case errors.Is(err, sqlparse.ErrUnsupported):
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Subject: in.SQL, Reason: err.Error()})
			continue
		case err != nil:
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Subject: in.SQL, Reason: fmt.Sprintf("skipped: %v", err)})
			continue
		case a.System():
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Subject: in.SQL, Reason: "system catalog statement"})
			continue
		}

		r := newResolver(a, cat)
		if !r.any {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Subject: in.SQL, Reason: "no known tables"})
			continue
		}

		for _, c := range r.candidates(width) {
			seen[c.Definition()] = c
		}
		res.Workload = append(res.Workload, workload.Statement{
			SQL:          sqlparse.NormalizePlaceholders(in.SQL),
			Text:         in.SQL,
			Weight:       in.Weight,
			Placeholders: a.Placeholders,
			Params:       r.params(),
		})
	}

	for def, c := range seen {
		if ex, ok := coveredBy(c, existing); ok {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Subject: def,
				Reason:  fmt.Sprintf("covered by existing index %s", ex.Name),
			})
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}
	sort.Slice(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Definition() < res.Candidates[j].Definition()
	})
	sort.SliceStable(res.Diagnostics, func(i, j int) bool {
		return res.Diagnostics[i].Subject < res.Diagnostics[j].Subject
	})
	return res
}

func coveredBy(c index.Candidate, existing []index.Existing) (index.Existing, bool) {
	for _, ex := range existing {
		if ex.CoversPrefix(c) {
			return ex, true
		}
	}
	return index.Existing{}, false
}

type binding struct {
	ref   sqlparse.TableRef
	table *collect.Table
}

type usage struct {
	table *collect.Table
	use   sqlparse.ColumnUse
}

type resolver struct {
	a        *sqlparse.Analysis
	bindings [][]binding
	any      bool
}

func newResolver(a *sqlparse.Analysis, cat *collect.Catalog) *resolver {
	r := &resolver{a: a, bindings: make([][]binding, len(a.Scopes))}
	for i, s := range a.Scopes {
		for _, ref := range s.Tables {
			t, ok := cat.Lookup(ref.Schema, ref.Name)
			if !ok {
				continue
			}
			r.bindings[i] = append(r.bindings[i], binding{ref: ref, table: t})
			r.any = true
		}
	}
	return r
}

// resolve maps a column reference to the tables it may belong to, walking
// outwards through parent scopes.
func (r *resolver) resolve(scope int, u sqlparse.ColumnUse) []*collect.Table {
	for s := scope; s >= 0; s = r.a.Scopes[s].Parent {
		var out []*collect.Table
		for _, b := range r.bindings[s] {
			if u.Qualifier != "" {
				if b.ref.Alias == u.Qualifier || (b.ref.Alias == "" && b.ref.Name == u.Qualifier) {
					if b.table.Has(u.Column) {
						return []*collect.Table{b.table}
					}
					return nil
				}
				continue
			}
			if b.table.Has(u.Column) {
				out = append(out, b.table)
			}
		}
		switch {
		case len(out) == 1:
			return out
		case len(out) > 1 && u.Role == sqlparse.RoleJoin:
			return out
		case len(out) > 1:
			return nil
		}
	}
	return nil
}

func (r *resolver) candidates(width int) []index.Candidate {
	var out []index.Candidate
	for i, s := range r.a.Scopes {
		var order []*collect.Table
		byTable := map[*collect.Table][]sqlparse.ColumnUse{}
		for _, u := range s.Uses {
			for _, t := range r.resolve(i, u) {
				if _, ok := byTable[t]; !ok {
					order = append(order, t)
				}
				byTable[t] = append(byTable[t], u)
			}
		}
		for _, t := range order {
			out = append(out, tuples(t, byTable[t], width)...)
		}
	}
	return out
}

func tuples(t *collect.Table, uses []sqlparse.ColumnUse, width int) []index.Candidate {
	var eq, trail, all []string
	for _, u := range uses {
		all = appendUnique(all, u.Column)
		if u.Disjunct {
			continue
		}
		switch u.Role {
		case sqlparse.RoleEquality, sqlparse.RoleJoin:
			eq = appendUnique(eq, u.Column)
		default:
			trail = appendUnique(trail, u.Column)
		}
	}

	mk := func(cols ...string) index.Candidate {
		return index.Candidate{Schema: t.Schema, Table: t.Name, Columns: cols}
	}
	var out []index.Candidate
	for _, c := range all {
		out = append(out, mk(c))
	}
	if len(eq) >= 2 {
		out = append(out, mk(eq[:min(len(eq), width)]...))
	}
	if len(eq) > 0 && width > 1 {
		lead := eq[:min(len(eq), width-1)]
		for _, c := range trail {
			if contains(lead, c) {
				continue
			}
			cols := append(append([]string(nil), lead...), c)
			out = append(out, mk(cols...))
		}
	}
	return out
}

func (r *resolver) params() []workload.Param {
	var out []workload.Param
	for _, p := range r.a.Params {
		ts := r.resolve(p.Scope, p.Column)
		if len(ts) != 1 {
			continue
		}
		out = append(out, workload.Param{Index: p.Index, Schema: ts[0].Schema, Table: ts[0].Name, Column: p.Column.Column})
	}
	return out
}

func appendUnique(list []string, s string) []string {
	if contains(list, s) {
		return list
	}
	return append(list, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
