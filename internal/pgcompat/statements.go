package pgcompat

import (
	"context"
	"fmt"
)

// StatementFeatures lists which optional pg_stat_statements columns exist.
type StatementFeatures struct {
	ExecTime   bool // total_exec_time/mean_exec_time (PG13+) instead of total_time/mean_time
	WALBytes   bool
	StatsSince bool
}

// StatementColumns is the capability-gated pg_stat_statements projection.
type StatementColumns struct {
	TotalTime        string
	MeanTime         string
	WALBytesSelect   string
	StatsSinceSelect string
}

// BuildStatementColumns maps feature flags to column expressions.
func BuildStatementColumns(f StatementFeatures) StatementColumns {
	cols := StatementColumns{
		TotalTime:        "total_time",
		MeanTime:         "mean_time",
		WALBytesSelect:   "0::numeric AS wal_bytes",
		StatsSinceSelect: "NULL::timestamptz AS stats_since",
	}
	if f.ExecTime {
		cols.TotalTime = "total_exec_time"
		cols.MeanTime = "mean_exec_time"
	}
	if f.WALBytes {
		cols.WALBytesSelect = "wal_bytes AS wal_bytes"
	}
	if f.StatsSince {
		cols.StatsSinceSelect = "stats_since AS stats_since"
	}
	return cols
}

// StatementColumns probes pg_stat_statements and builds its projection.
func (p *Probe) StatementColumns(ctx context.Context) (StatementColumns, error) {
	var f StatementFeatures
	checks := []struct {
		column string
		dst    *bool
	}{
		{"total_exec_time", &f.ExecTime},
		{"wal_bytes", &f.WALBytes},
		{"stats_since", &f.StatsSince},
	}
	for _, c := range checks {
		has, err := p.HasColumn(ctx, "", "pg_stat_statements", c.column)
		if err != nil {
			return StatementColumns{}, fmt.Errorf("probe pg_stat_statements.%s: %w", c.column, err)
		}
		*c.dst = has
	}
	return BuildStatementColumns(f), nil
}
