// Package index defines index candidates and existing index descriptions.
package index

import (
	"fmt"
	"strings"

	"github.com/koltyakov/pgadvisor/internal/pgdb"
)

// DefaultMethod is the access method used when none is given.
const DefaultMethod = "btree"

// Candidate is a proposed secondary index. Column order is significant.
type Candidate struct {
	Schema  string   `json:"schema,omitempty"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Using   string   `json:"using,omitempty"`
}

// Method returns the access method, defaulting to btree.
func (c Candidate) Method() string {
	if c.Using == "" {
		return DefaultMethod
	}
	return c.Using
}

// QualifiedTable renders the table, omitting the public schema.
func (c Candidate) QualifiedTable() string {
	if c.Schema == "" || c.Schema == "public" {
		return pgdb.Identifier(c.Table)
	}
	return pgdb.Identifier(c.Schema, c.Table)
}

// Definition is the canonical CREATE INDEX statement and the candidate's identity.
func (c Candidate) Definition() string {
	cols := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = pgdb.Identifier(col)
	}
	return fmt.Sprintf("CREATE INDEX ON %s USING %s (%s)", c.QualifiedTable(), c.Method(), strings.Join(cols, ", "))
}

// String implements fmt.Stringer.
func (c Candidate) String() string {
	return fmt.Sprintf("%s(%s)", c.QualifiedTable(), strings.Join(c.Columns, ", "))
}

// Existing is an index already present in the database.
type Existing struct {
	Schema     string   `json:"schema"`
	Table      string   `json:"table"`
	Name       string   `json:"name"`
	Method     string   `json:"method"`
	Columns    []string `json:"columns"`
	Definition string   `json:"definition"`
}

// SameTable reports whether e is defined on the candidate's table.
func (e Existing) SameTable(c Candidate) bool {
	schema := c.Schema
	if schema == "" {
		schema = "public"
	}
	return e.Schema == schema && e.Table == c.Table
}

// CoversPrefix reports whether c's columns are a leading prefix of e's key
// columns with the same access method.
func (e Existing) CoversPrefix(c Candidate) bool {
	if !e.SameTable(c) || e.Method != c.Method() || len(c.Columns) > len(e.Columns) {
		return false
	}
	for i, col := range c.Columns {
		if e.Columns[i] != col {
			return false
		}
	}
	return true
}

// Position returns the 0-based key position of column in e, or -1.
func (e Existing) Position(column string) int {
	for i, c := range e.Columns {
		if c == column {
			return i
		}
	}
	return -1
}
