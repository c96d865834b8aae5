// Package metrics exposes the Supervisor's stats snapshot and per-session
// admission/byte counters as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryanfantus/bbsfw/internal/ipfilter"
	"github.com/ryanfantus/bbsfw/internal/supervisor"
)

// Metrics holds every gateway Prometheus metric.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	MaxConnections    prometheus.Gauge
	UptimeSeconds     prometheus.Gauge

	AdmissionAllowed     prometheus.Counter
	AdmissionWhitelisted prometheus.Counter
	AdmissionBlocked     prometheus.Counter
	AdmissionRateLimited prometheus.Counter

	BytesClientToBackend prometheus.Counter
	BytesBackendToClient prometheus.Counter
	SessionsEnded        *prometheus.CounterVec
}

// New builds the metric set. Call RegisterMetrics to attach it to the
// default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bbsgate_active_connections",
			Help: "Number of currently admitted, in-flight sessions.",
		}),
		MaxConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bbsgate_max_connections",
			Help: "Configured global connection cap.",
		}),
		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bbsgate_uptime_seconds",
			Help: "Seconds since the gateway process started.",
		}),
		AdmissionAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bbsgate_admission_allowed_total",
			Help: "Total connections allowed by the admission pipeline.",
		}),
		AdmissionWhitelisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bbsgate_admission_whitelisted_total",
			Help: "Total connections allowed via whitelist bypass.",
		}),
		AdmissionBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bbsgate_admission_blocked_total",
			Help: "Total connections denied for any reason other than the rate limiter (blocklist, temporary block, geo-filter, invalid address).",
		}),
		AdmissionRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bbsgate_admission_rate_limited_total",
			Help: "Total connections denied by the rate limiter.",
		}),
		BytesClientToBackend: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bbsgate_bytes_client_to_backend_total",
			Help: "Total bytes copied from clients to the backend.",
		}),
		BytesBackendToClient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bbsgate_bytes_backend_to_client_total",
			Help: "Total bytes copied from the backend to clients.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bbsgate_sessions_ended_total",
			Help: "Total sessions ended, labeled by end reason.",
		}, []string{"reason"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActiveConnections.Describe(ch)
	m.MaxConnections.Describe(ch)
	m.UptimeSeconds.Describe(ch)
	m.AdmissionAllowed.Describe(ch)
	m.AdmissionWhitelisted.Describe(ch)
	m.AdmissionBlocked.Describe(ch)
	m.AdmissionRateLimited.Describe(ch)
	m.BytesClientToBackend.Describe(ch)
	m.BytesBackendToClient.Describe(ch)
	m.SessionsEnded.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ActiveConnections.Collect(ch)
	m.MaxConnections.Collect(ch)
	m.UptimeSeconds.Collect(ch)
	m.AdmissionAllowed.Collect(ch)
	m.AdmissionWhitelisted.Collect(ch)
	m.AdmissionBlocked.Collect(ch)
	m.AdmissionRateLimited.Collect(ch)
	m.BytesClientToBackend.Collect(ch)
	m.BytesBackendToClient.Collect(ch)
	m.SessionsEnded.Collect(ch)
}

// RegisterMetrics registers m with the default Prometheus registry.
func (m *Metrics) RegisterMetrics() {
	prometheus.MustRegister(m)
}

// UpdateFromSupervisorStats refreshes the gauge metrics from a point-in-
// time Supervisor snapshot. Counters are updated incrementally elsewhere
// (RecordSession, RecordAdmission) since a snapshot cannot be replayed
// into a monotonic counter without double counting.
func (m *Metrics) UpdateFromSupervisorStats(s supervisor.Stats) {
	m.ActiveConnections.Set(float64(s.ActiveConnections))
	m.MaxConnections.Set(float64(s.MaxConnections))
	m.UptimeSeconds.Set(s.Uptime.Seconds())
}

// RecordAdmission increments the appropriate admission counter for one
// ipfilter.Decision outcome.
func (m *Metrics) RecordAdmission(d ipfilter.Decision) {
	switch {
	case d.Whitelisted:
		m.AdmissionWhitelisted.Inc()
	case d.Allowed:
		m.AdmissionAllowed.Inc()
	case d.Reason == "Rate limit exceeded":
		m.AdmissionRateLimited.Inc()
	default:
		m.AdmissionBlocked.Inc()
	}
}

// RecordSession adds one ended session's byte counts and end reason.
func (m *Metrics) RecordSession(bytesUp, bytesDown uint64, reason string) {
	m.BytesClientToBackend.Add(float64(bytesUp))
	m.BytesBackendToClient.Add(float64(bytesDown))
	m.SessionsEnded.WithLabelValues(reason).Inc()
}
