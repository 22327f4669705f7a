package storage

import (
	"strings"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

// SQLDialect describes how a SQL backend binds filter arguments.
type SQLDialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// TimeArg converts a filter bound into the column's storage form.
	TimeArg func(t time.Time) interface{}
}

// BuildFilterClause renders the WHERE clause (without the keyword) for a bulk
// read over the events table. It returns "TRUE" for an empty filter.
// Column names are shared by every SQL backend.
func BuildFilterClause(f event.Filter, d SQLDialect) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	bind := func(v interface{}) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if f.TenantID != "" {
		conds = append(conds, "tenant_id = "+bind(f.TenantID))
	}
	if f.AggregateType != "" {
		conds = append(conds, "aggregate_type = "+bind(f.AggregateType))
	}
	if f.AggregateID != "" {
		conds = append(conds, "aggregate_id = "+bind(f.AggregateID))
	}
	if types := f.Types(); len(types) > 0 {
		holders := make([]string, len(types))
		for i, t := range types {
			holders[i] = bind(t)
		}
		conds = append(conds, "event_type IN ("+strings.Join(holders, ", ")+")")
	}
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= "+bind(d.TimeArg(f.From)))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= "+bind(d.TimeArg(f.To)))
	}
	if f.FromVersion > 0 {
		conds = append(conds, "version > "+bind(f.FromVersion))
	}

	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}
