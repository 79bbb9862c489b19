package advisor

import (
	"github.com/koltyakov/pgadvisor/internal/index"
	"github.com/koltyakov/pgadvisor/internal/pgcompat"
)

// ReasonSkipScanRedundant marks a recommendation an existing multi-column
// btree index may already serve through skip scan on PostgreSQL 18+.
const ReasonSkipScanRedundant = "pg18_skip_scan_redundant"

// SkipScanCover returns the existing index that could serve c with a skip
// scan: a multi-column btree on the same table holding all of c's columns,
// with c's leading column in a non-leading position.
func SkipScanCover(c index.Candidate, existing []index.Existing) (index.Existing, bool) {
	if len(c.Columns) == 0 || c.Method() != index.DefaultMethod {
		return index.Existing{}, false
	}
	for _, ex := range existing {
		if !ex.SameTable(c) || ex.Method != index.DefaultMethod || len(ex.Columns) < 2 {
			continue
		}
		if ex.Position(c.Columns[0]) <= 0 {
			continue
		}
		all := true
		for _, col := range c.Columns[1:] {
			if ex.Position(col) < 0 {
				all = false
				break
			}
		}
		if all {
			return ex, true
		}
	}
	return index.Existing{}, false
}

// Annotate flags recommendations made redundant by skip scan. Costs and
// ordering are left untouched.
func Annotate(recs []Recommendation, existing []index.Existing, server pgcompat.ServerInfo) {
	if !server.SupportsSkipScan() {
		return
	}
	for i := range recs {
		if _, ok := SkipScanCover(recs[i].Index, existing); ok {
			recs[i].PotentialProblematicReason = ReasonSkipScanRedundant
		}
	}
}
