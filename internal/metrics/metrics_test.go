package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	require.NotNil(t, m)

	m.Inc(HypoCreated)
	m.Inc(HypoCreated)
	m.Inc(HypoDropped)
	m.Inc(Explains)

	require.Equal(t, float64(2), testutil.ToFloat64(m.HypoCreated))
	require.Equal(t, float64(1), testutil.ToFloat64(m.HypoDropped))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Explains))
	require.Equal(t, float64(0), testutil.ToFloat64(m.CleanupFailures))
}

func TestMetrics_Sessions(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveSession(OutcomeOK, 1.5)
	m.ObserveSession(OutcomeOK, 0.2)
	m.ObserveSession(OutcomeTruncated, 30)

	require.Equal(t, float64(2), testutil.ToFloat64(m.Sessions.WithLabelValues(OutcomeOK)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Sessions.WithLabelValues(OutcomeTruncated)))
	require.Equal(t, 1, testutil.CollectAndCount(m.SessionDuration))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Inc(HypoCreated)
		m.ObserveSession(OutcomeError, 1)
	})
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Sessions.WithLabelValues(OutcomeOK).Add(0)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 8)

	require.Panics(t, func() { NewMetrics(reg) })
}
