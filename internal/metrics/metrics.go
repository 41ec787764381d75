// Package metrics defines the Prometheus collectors exported by the relay,
// the push transport and the caching proxy.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pysakki"

// Poll outcomes.
const (
	PollOK    = "ok"
	PollError = "error"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	PollCycles      *prometheus.CounterVec
	PollDuration    prometheus.Histogram
	VehiclesTracked prometheus.Gauge
	UpdatesEmitted  prometheus.Counter
	Deliveries      prometheus.Counter
	DroppedEvents   prometheus.Counter
	Clients         prometheus.Gauge
	CacheLookups    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "poll_cycles_total",
			Help:      "Upstream vehicle poll cycles by outcome.",
		}, []string{"outcome"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "poll_duration_seconds",
			Help:      "Time spent fetching and applying one poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		VehiclesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "vehicles_tracked",
			Help:      "Distinct vehicles held in the state store.",
		}),
		UpdatesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "updates_total",
			Help:      "Vehicle updates detected and published to rooms.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Update events accepted by subscribers.",
		}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_events_total",
			Help:      "Events dropped because a client queue was full.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "clients",
			Help:      "Connected push clients.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "cache_lookups_total",
			Help:      "Proxy cache lookups by endpoint and result.",
		}, []string{"endpoint", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PollCycles,
			m.PollDuration,
			m.VehiclesTracked,
			m.UpdatesEmitted,
			m.Deliveries,
			m.DroppedEvents,
			m.Clients,
			m.CacheLookups,
		)
	}
	return m
}

// ObservePoll records the outcome and duration of one cycle.
func (m *Metrics) ObservePoll(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PollCycles.WithLabelValues(outcome).Inc()
	m.PollDuration.Observe(seconds)
}

// SetVehicles records the store size.
func (m *Metrics) SetVehicles(n int) {
	if m == nil {
		return
	}
	m.VehiclesTracked.Set(float64(n))
}

// AddUpdate records one published update and how many subscribers took it.
func (m *Metrics) AddUpdate(delivered int) {
	if m == nil {
		return
	}
	m.UpdatesEmitted.Inc()
	m.Deliveries.Add(float64(delivered))
}

// AddDropped records an event dropped by a full client queue.
func (m *Metrics) AddDropped() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// ClientConnected and ClientDisconnected track live push clients.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.Clients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.Clients.Dec()
}

// CacheLookup records a proxy cache lookup.
func (m *Metrics) CacheLookup(endpoint, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(endpoint, result).Inc()
}
