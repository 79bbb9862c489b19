package pgcompat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/pgdb"
	"github.com/koltyakov/pgadvisor/internal/pgdb/pgdbtest"
)

func TestServerInfoCached(t *testing.T) {
	srv := pgdbtest.New(180001)
	probe := NewProbe(srv, nil)

	info, err := probe.ServerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, ServerInfo{VersionNum: 180001, Major: 18}, info)
	require.True(t, info.SupportsSkipScan())
	require.True(t, info.SupportsGenericPlan())

	_, err = probe.ServerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, srv.CountQueries("server_version_num"))

	probe.Reset()
	_, err = probe.ServerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, srv.CountQueries("server_version_num"))
}

// versionQuerier fails server_version_num and answers server_version.
type versionQuerier struct{ version string }

func (v versionQuerier) Query(_ context.Context, sql string, _ ...any) ([]pgdb.Row, error) {
	if sql == `SHOW server_version_num` {
		return nil, errors.New("unrecognized configuration parameter")
	}
	return []pgdb.Row{{"server_version": v.version}}, nil
}

func TestServerInfoFallback(t *testing.T) {
	tests := []struct {
		version string
		major   int
		wantErr bool
	}{
		{"15.4 (Debian 15.4-1)", 15, false},
		{"9.6.24", 9, false},
		{"unknown", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			probe := NewProbe(&versionQuerier{tt.version}, nil)
			info, err := probe.ServerInfo(context.Background())
			if tt.wantErr {
				require.ErrorIs(t, err, pgerrors.ErrVersionUnsupported)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.major, info.Major)
			require.Equal(t, tt.major*10000, info.VersionNum)
		})
	}
}

func TestSharedCacheIsolatesTargets(t *testing.T) {
	cache := NewCache()
	pg17 := NewProbe(&versionQuerier{"17.1"}, cache)
	pg18 := NewProbe(&versionQuerier{"18.0"}, cache)

	a, err := pg17.ServerInfo(context.Background())
	require.NoError(t, err)
	b, err := pg18.ServerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 17, a.Major)
	require.Equal(t, 18, b.Major)
}

func TestHasColumn(t *testing.T) {
	srv := pgdbtest.New(170000)
	srv.Columns = []pgdbtest.Column{{Schema: "public", Table: "orders", Name: "status"}}
	probe := NewProbe(srv, nil)
	ctx := context.Background()

	ok, err := probe.HasColumn(ctx, "public", "orders", "status")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = probe.HasColumn(ctx, "public", "orders", "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, _ = probe.HasColumn(ctx, "public", "orders", "status")
	require.Equal(t, 2, srv.CountQueries("AS has_column"))
}

func TestRequireExtension(t *testing.T) {
	srv := pgdbtest.New(170000)
	srv.Extensions = map[string]string{"hypopg": ""}
	probe := NewProbe(srv, nil)

	_, err := probe.RequireExtension(context.Background(), "hypopg")
	require.ErrorIs(t, err, pgerrors.ErrExtensionMissing)
	var capErr *pgerrors.CapabilityError
	require.ErrorAs(t, err, &capErr)
	require.Contains(t, capErr.Guidance, "CREATE EXTENSION hypopg")
	require.Contains(t, capErr.Guidance, "available but not installed")

	_, err = probe.RequireExtension(context.Background(), "pg_stat_statements")
	require.ErrorAs(t, err, &capErr)
	require.Contains(t, capErr.Guidance, "not available on this server")

	srv.Extensions["hypopg"] = "1.4.1"
	ext, err := probe.RequireExtension(context.Background(), "hypopg")
	require.NoError(t, err)
	require.True(t, ext.Installed)
	require.Equal(t, "1.4.1", ext.InstalledVersion)
}

func TestBuildStatementColumns(t *testing.T) {
	tests := []struct {
		name string
		in   StatementFeatures
		want StatementColumns
	}{
		{
			name: "legacy",
			in:   StatementFeatures{},
			want: StatementColumns{
				TotalTime:        "total_time",
				MeanTime:         "mean_time",
				WALBytesSelect:   "0::numeric AS wal_bytes",
				StatsSinceSelect: "NULL::timestamptz AS stats_since",
			},
		},
		{
			name: "pg17",
			in:   StatementFeatures{ExecTime: true, WALBytes: true, StatsSince: true},
			want: StatementColumns{
				TotalTime:        "total_exec_time",
				MeanTime:         "mean_exec_time",
				WALBytesSelect:   "wal_bytes AS wal_bytes",
				StatsSinceSelect: "stats_since AS stats_since",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, BuildStatementColumns(tt.in))
		})
	}
}

func TestStatementColumnsProbe(t *testing.T) {
	srv := pgdbtest.New(150000)
	srv.PSSColumns = []string{"query", "calls", "total_exec_time", "mean_exec_time", "wal_bytes"}
	cols, err := NewProbe(srv, nil).StatementColumns(context.Background())
	require.NoError(t, err)
	require.Equal(t, "total_exec_time", cols.TotalTime)
	require.Equal(t, "wal_bytes AS wal_bytes", cols.WALBytesSelect)
	require.Equal(t, "NULL::timestamptz AS stats_since", cols.StatsSinceSelect)
}
