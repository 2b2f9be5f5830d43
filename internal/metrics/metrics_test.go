package metrics_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/citycard-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveRequest("GET", "ok", 10*time.Millisecond)
	m.ObserveRequest("GET", "ok", 20*time.Millisecond)
	m.Refresh("success")
	m.Invalidation("unauthorized")
	m.GuardDecision("redirect_login")

	require.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.InvalidationsTotal.WithLabelValues("unauthorized")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisionsTotal.WithLabelValues("redirect_login")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.ObserveRequest("GET", "ok", time.Millisecond)
		m.Refresh("failure")
		m.Invalidation("logout")
		m.GuardDecision("allowed")
	})
}
