package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pysakki/internal/metrics"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObservePoll(metrics.PollOK, 1)
	m.SetVehicles(3)
	m.AddUpdate(2)
	m.AddDropped()
	m.ClientConnected()
	m.ClientDisconnected()
	m.CacheLookup("stops", metrics.CacheHit)
}

func TestCollectorsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObservePoll(metrics.PollOK, 0.2)
	m.ObservePoll(metrics.PollError, 0.1)
	m.ObservePoll(metrics.PollOK, 0.3)
	m.AddUpdate(3)
	m.AddUpdate(0)
	m.SetVehicles(42)
	m.CacheLookup("routes", metrics.CacheMiss)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PollCycles.WithLabelValues(metrics.PollOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PollCycles.WithLabelValues(metrics.PollError)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UpdatesEmitted))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Deliveries))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.VehiclesTracked))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheLookups.WithLabelValues("routes", metrics.CacheMiss)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
