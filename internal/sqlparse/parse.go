// Package sqlparse extracts index-relevant column usage from SQL statements.
//
// Statements are parsed with github.com/auxten/postgresql-parser. The result
// is purely syntactic: table and column names are reported as written and
// resolved against the catalog by the caller.
package sqlparse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/auxten/postgresql-parser/pkg/sql/parser"
	"github.com/auxten/postgresql-parser/pkg/sql/sem/tree"
)

// ErrUnsupported marks statements that carry no index-relevant predicates.
var ErrUnsupported = errors.New("unsupported statement")

// Role is how a column is used by a statement.
type Role int

const (
	RoleEquality Role = iota
	RoleJoin
	RoleRange
	RoleOrder
	RoleGroup
)

func (r Role) String() string {
	switch r {
	case RoleEquality:
		return "equality"
	case RoleJoin:
		return "join"
	case RoleRange:
		return "range"
	case RoleOrder:
		return "order"
	case RoleGroup:
		return "group"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// TableRef is a relation referenced in a FROM list.
type TableRef struct {
	Schema string
	Name   string
	Alias  string
}

// ColumnUse is a column reference and its role. Qualifier is the table name
// or alias as written, empty for unqualified columns.
type ColumnUse struct {
	Qualifier string
	Column    string
	Role      Role
	// Disjunct is set for predicates under OR; they only justify single-column indexes.
	Disjunct bool
}

// Param ties a $n placeholder to the column it is compared against.
type Param struct {
	Index  int // 1-based
	Scope  int
	Column ColumnUse
}

// Scope is one SELECT level with its own FROM list.
type Scope struct {
	Parent int // -1 for top level scopes
	Tables []TableRef
	Uses   []ColumnUse
}

// Analysis is the column usage of one statement.
type Analysis struct {
	Kind         string // select, update or delete
	Scopes       []Scope
	Params       []Param
	Placeholders int
}

// System reports whether any referenced table lives in a system schema.
func (a *Analysis) System() bool {
	for _, s := range a.Scopes {
		for _, t := range s.Tables {
			if t.Schema == "pg_catalog" || t.Schema == "information_schema" || strings.HasPrefix(t.Name, "pg_") {
				return true
			}
		}
	}
	return false
}

// Parse analyzes a single SQL statement. "?" placeholders are accepted.
func Parse(sql string) (*Analysis, error) {
	sql = NormalizePlaceholders(sql)
	stmts, err := parser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(stmts) != 1 {
		return nil, fmt.Errorf("expected one statement, got %d", len(stmts))
	}

	w := &walker{a: &Analysis{Placeholders: MaxPlaceholder(sql)}}
	switch stmt := stmts[0].AST.(type) {
	case *tree.Select:
		w.a.Kind = "select"
		w.selectStmt(stmt, -1)
	case *tree.Update:
		w.a.Kind = "update"
		w.with(stmt.With)
		s := w.newScope(-1)
		w.tableExpr(stmt.Table, s)
		for _, t := range stmt.From {
			w.tableExpr(t, s)
		}
		if stmt.Where != nil {
			w.predicate(stmt.Where.Expr, s, false)
		}
	case *tree.Delete:
		w.a.Kind = "delete"
		w.with(stmt.With)
		s := w.newScope(-1)
		w.tableExpr(stmt.Table, s)
		if stmt.Where != nil {
			w.predicate(stmt.Where.Expr, s, false)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, stmts[0].AST.StatementTag())
	}
	return w.a, nil
}

type walker struct {
	a *Analysis
}

func (w *walker) newScope(parent int) int {
	w.a.Scopes = append(w.a.Scopes, Scope{Parent: parent})
	return len(w.a.Scopes) - 1
}

func (w *walker) use(scope int, u ColumnUse) {
	w.a.Scopes[scope].Uses = append(w.a.Scopes[scope].Uses, u)
}

func (w *walker) with(with *tree.With) {
	if with == nil {
		return
	}
	for _, cte := range with.CTEList {
		if sel, ok := cte.Stmt.(*tree.Select); ok {
			w.selectStmt(sel, -1)
		}
	}
}

func (w *walker) selectStmt(sel *tree.Select, parent int) {
	if sel == nil {
		return
	}
	w.with(sel.With)
	scope := w.selectBody(sel.Select, parent)
	if scope < 0 {
		return
	}
	for _, o := range sel.OrderBy {
		if q, col, ok := columnOf(o.Expr); ok {
			w.use(scope, ColumnUse{Qualifier: q, Column: col, Role: RoleOrder})
		}
	}
}

// selectBody walks a select body and returns the scope holding its FROM list.
func (w *walker) selectBody(body tree.SelectStatement, parent int) int {
	switch s := body.(type) {
	case *tree.SelectClause:
		scope := w.newScope(parent)
		for _, t := range s.From.Tables {
			w.tableExpr(t, scope)
		}
		if s.Where != nil {
			w.predicate(s.Where.Expr, scope, false)
		}
		for _, g := range s.GroupBy {
			if q, col, ok := columnOf(g); ok {
				w.use(scope, ColumnUse{Qualifier: q, Column: col, Role: RoleGroup})
			}
		}
		for _, e := range s.Exprs {
			w.subqueries(e.Expr, scope)
		}
		return scope
	case *tree.ParenSelect:
		w.selectStmt(s.Select, parent)
	case *tree.UnionClause:
		w.selectStmt(s.Left, parent)
		w.selectStmt(s.Right, parent)
	}
	return -1
}

func (w *walker) tableExpr(t tree.TableExpr, scope int) {
	switch te := t.(type) {
	case *tree.AliasedTableExpr:
		switch inner := te.Expr.(type) {
		case *tree.TableName:
			w.a.Scopes[scope].Tables = append(w.a.Scopes[scope].Tables, TableRef{
				Schema: inner.Schema(),
				Name:   inner.Table(),
				Alias:  string(te.As.Alias),
			})
		case *tree.Subquery:
			w.subquery(inner, scope)
		default:
			w.tableExpr(inner, scope)
		}
	case *tree.TableName:
		w.a.Scopes[scope].Tables = append(w.a.Scopes[scope].Tables, TableRef{Schema: te.Schema(), Name: te.Table()})
	case *tree.ParenTableExpr:
		w.tableExpr(te.Expr, scope)
	case *tree.JoinTableExpr:
		w.tableExpr(te.Left, scope)
		w.tableExpr(te.Right, scope)
		switch cond := te.Cond.(type) {
		case *tree.OnJoinCond:
			w.predicate(cond.Expr, scope, false)
		case *tree.UsingJoinCond:
			for _, name := range cond.Cols {
				w.use(scope, ColumnUse{Column: string(name), Role: RoleJoin})
			}
		}
	case *tree.Subquery:
		w.subquery(te, scope)
	}
}

func (w *walker) subquery(sq *tree.Subquery, parent int) {
	switch s := sq.Select.(type) {
	case *tree.ParenSelect:
		w.selectStmt(s.Select, parent)
	default:
		w.selectBody(s, parent)
	}
}

// subqueries walks subqueries nested anywhere in e.
func (w *walker) subqueries(e tree.Expr, scope int) {
	switch x := e.(type) {
	case *tree.Subquery:
		w.subquery(x, scope)
	case *tree.ParenExpr:
		w.subqueries(x.Expr, scope)
	case *tree.NotExpr:
		w.subqueries(x.Expr, scope)
	case *tree.ComparisonExpr:
		w.subqueries(x.Left, scope)
		w.subqueries(x.Right, scope)
	case *tree.FuncExpr:
		for _, arg := range x.Exprs {
			w.subqueries(arg, scope)
		}
	}
}

func (w *walker) predicate(e tree.Expr, scope int, disjunct bool) {
	switch x := e.(type) {
	case *tree.AndExpr:
		w.predicate(x.Left, scope, disjunct)
		w.predicate(x.Right, scope, disjunct)
	case *tree.OrExpr:
		w.predicate(x.Left, scope, true)
		w.predicate(x.Right, scope, true)
	case *tree.ParenExpr:
		w.predicate(x.Expr, scope, disjunct)
	case *tree.NotExpr:
		w.subqueries(x.Expr, scope)
	case *tree.ComparisonExpr:
		w.comparison(x, scope, disjunct)
	case *tree.RangeCond:
		if q, col, ok := columnOf(x.Left); ok && !x.Not {
			u := ColumnUse{Qualifier: q, Column: col, Role: RoleRange, Disjunct: disjunct}
			w.use(scope, u)
			w.params(x.From, scope, u)
			w.params(x.To, scope, u)
		}
	default:
		w.subqueries(e, scope)
	}
}

func (w *walker) comparison(c *tree.ComparisonExpr, scope int, disjunct bool) {
	w.subqueries(c.Right, scope)

	lq, lcol, lok := columnOf(c.Left)
	rq, rcol, rok := columnOf(c.Right)

	var role Role
	switch c.Operator {
	case tree.EQ, tree.IsNotDistinctFrom, tree.In:
		role = RoleEquality
	case tree.LT, tree.GT, tree.LE, tree.GE:
		role = RoleRange
	case tree.Like:
		if s, ok := c.Right.(*tree.StrVal); ok && !prefixPattern(s.RawString()) {
			return
		}
		role = RoleRange
	default:
		return
	}

	switch {
	case lok && rok:
		if role != RoleEquality || c.Operator == tree.In {
			return
		}
		w.use(scope, ColumnUse{Qualifier: lq, Column: lcol, Role: RoleJoin, Disjunct: disjunct})
		w.use(scope, ColumnUse{Qualifier: rq, Column: rcol, Role: RoleJoin, Disjunct: disjunct})
	case lok:
		u := ColumnUse{Qualifier: lq, Column: lcol, Role: role, Disjunct: disjunct}
		w.use(scope, u)
		w.params(c.Right, scope, u)
	case rok && c.Operator != tree.In && c.Operator != tree.Like:
		u := ColumnUse{Qualifier: rq, Column: rcol, Role: role, Disjunct: disjunct}
		w.use(scope, u)
		w.params(c.Left, scope, u)
	}
}

// params records placeholders in e as bound to column u.
func (w *walker) params(e tree.Expr, scope int, u ColumnUse) {
	switch x := e.(type) {
	case *tree.Placeholder:
		w.a.Params = append(w.a.Params, Param{Index: int(x.Idx) + 1, Scope: scope, Column: u})
	case *tree.CastExpr:
		w.params(x.Expr, scope, u)
	case *tree.ParenExpr:
		w.params(x.Expr, scope, u)
	case *tree.Tuple:
		for _, item := range x.Exprs {
			w.params(item, scope, u)
		}
	}
}

// columnOf unwraps a plain column reference, possibly under a cast.
func columnOf(e tree.Expr) (qualifier, column string, ok bool) {
	switch x := e.(type) {
	case *tree.UnresolvedName:
		if x.Star || x.NumParts < 1 {
			return "", "", false
		}
		if x.NumParts >= 2 {
			return x.Parts[1], x.Parts[0], true
		}
		return "", x.Parts[0], true
	case *tree.ParenExpr:
		return columnOf(x.Expr)
	case *tree.CastExpr:
		return columnOf(x.Expr)
	}
	return "", "", false
}

// prefixPattern reports LIKE patterns with a literal leading prefix.
func prefixPattern(p string) bool {
	return p != "" && p[0] != '%' && p[0] != '_'
}
