// Package cbltmetrics registers the Prometheus collectors exposed on the
// admin listener, grounded in the teacher's internal/metrics/driver/prometheus
// package but trimmed to a direct set of collectors: the teacher's
// Provider/Counter/Gauge abstraction layer exists to support swappable
// backends, which cblt doesn't need since Prometheus is its only metrics
// sink (see DESIGN.md).
package cbltmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the collectors cblt updates from the request path, the
// connection-limited listeners, and upstream health reporting.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	ConnectionsInFlight prometheus.Gauge
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	OriginHealthChanges *prometheus.CounterVec
	ProxyRetries        prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registerer: reg,
		Gatherer:   reg,
		ConnectionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cblt",
			Name:      "connections_in_flight",
			Help:      "Number of currently open client connections.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cblt",
			Name:      "requests_total",
			Help:      "Total requests served, by HTTP status code.",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cblt",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"directive"}),
		OriginHealthChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cblt",
			Name:      "origin_health_transitions_total",
			Help:      "Count of origin healthy/unhealthy transitions.",
		}, []string{"pool", "origin", "state"}),
		ProxyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cblt",
			Name:      "proxy_retries_total",
			Help:      "Count of reverse-proxy retry attempts after a failed origin pick.",
		}),
	}

	reg.MustRegister(
		r.ConnectionsInFlight,
		r.RequestsTotal,
		r.RequestDuration,
		r.OriginHealthChanges,
		r.ProxyRetries,
	)
	return r
}
