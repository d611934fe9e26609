package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOnOwnRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncStoreAttempt("set", "blocked")
	m.IncStoreFallback("set")
	m.IncStoreFallback("set")
	m.SetStoreDegraded(true)
	m.AddCleanupDeleted("token", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreAttempts.WithLabelValues("set", "blocked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreFallbacks.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreDegraded))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CleanupDeleted.WithLabelValues("token")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncStoreAttempt("get", "ok")
		m.IncTokenVerification("success")
		m.SetSessionMachines(2)
		m.ObserveEndpointLatency("/health", 0.1)
	})
}
