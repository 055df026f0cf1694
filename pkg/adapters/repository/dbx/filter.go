// Package dbx holds the parameterized query builder shared by the
// SQLite and PostgreSQL adapters. Filters arrive as a typed criteria object
// (domain.VisitFilter); no SQL is ever assembled from caller input.
package dbx

import (
	"fmt"
	"time"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
)

// Placeholder renders the i-th bind parameter (1-based) for a backend:
// "?" for SQLite, "$1" for PostgreSQL.
type Placeholder func(i int) string

func Question(int) string { return "?" }
func Dollar(i int) string { return fmt.Sprintf("$%d", i) }

// BindTime converts a bound instant into a driver argument. SQLite stores
// canonical second-resolution strings, PostgreSQL native timestamps.
type BindTime func(t time.Time) any

// WhereClause renders the filter's conditions over the visits table. The
// returned clause is either empty or begins with " WHERE". Window semantics:
// Start inclusive, End exclusive, After strictly greater.
func WhereClause(f domain.VisitFilter, ph Placeholder, bind BindTime) (string, []any) {
	var conds []string
	var args []any

	add := func(expr string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(expr, ph(len(args))))
	}

	if f.URL != "" {
		add("url = %s", f.URL)
	}
	if f.Start != nil {
		add("timestamp >= %s", bind(*f.Start))
	}
	if f.End != nil {
		add("timestamp < %s", bind(*f.End))
	}
	if f.After != nil {
		add("timestamp > %s", bind(*f.After))
	}

	if len(conds) == 0 {
		return "", nil
	}
	clause := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		clause += " AND " + c
	}
	return clause, args
}

// PageClause renders ORDER BY plus optional LIMIT/OFFSET for a record scan.
// next is the number of bind parameters already consumed by the WHERE clause.
// Ties on timestamp fall back to insertion order so ascending sync replay is
// deterministic.
func PageClause(f domain.VisitFilter, ph Placeholder, next int) (string, []any) {
	clause := " ORDER BY timestamp DESC, id DESC"
	if f.Ascending {
		clause = " ORDER BY timestamp ASC, id ASC"
	}

	var args []any
	if f.Limit > 0 {
		args = append(args, f.Limit)
		clause += fmt.Sprintf(" LIMIT %s", ph(next+len(args)))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		clause += fmt.Sprintf(" OFFSET %s", ph(next+len(args)))
	}
	return clause, args
}
