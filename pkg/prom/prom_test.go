package prom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestCreateWith_RecordsDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, CreateWith(reg, "host-1", "test", "reseller"))

	IncOrderAdmission("accepted")
	IncOrderAdmission("insufficient_credit")
	ObserveHTTPRequest("/api/v1/orders/{id}", "GET", 200, 15*time.Millisecond)
	AddReconcileRun("fine", 1.5, 3, 1)

	got := gathered(t, reg)
	assert.Equal(t, 2.0, got["reseller_orders_admissions_total"])
	assert.Equal(t, 1.0, got["reseller_http_request_duration_seconds"])
	assert.Equal(t, 1.0, got["reseller_reconciler_run_duration_seconds"])
	assert.Equal(t, 3.0, got["reseller_reconciler_orders_updated_total"])
	assert.Equal(t, 1.0, got["reseller_reconciler_orders_failed_total"])
}

func TestCreateWith_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, CreateWith(reg, "host-1", "test", "twice"))
	require.NoError(t, CreateWith(reg, "host-1", "test", "twice"))

	IncNotificationDropped("low_credit")
	assert.Equal(t, 1.0, gathered(t, reg)["twice_orders_notifications_dropped_total"])
}
