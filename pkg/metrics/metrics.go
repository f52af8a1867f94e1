// Package metrics registers and serves the process's Prometheus metrics.
//
// The teacher's go.mod carries github.com/prometheus/client_golang as a
// direct dependency but its source never imports it — this package gives
// that dependency the home the validator build never built for it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the coordinator reports.
type Metrics struct {
	ConnectionsTotal       prometheus.Counter
	ConnectionsActive      prometheus.Gauge
	SlowConsumerDisconnect prometheus.Counter
	BroadcastsTotal        prometheus.Counter
	BroadcastFailuresTotal prometheus.Counter
	SessionsCreated        prometheus.Counter
	SessionsActive         prometheus.Gauge
	SessionsCompleted      prometheus.Counter
	SessionsExpired        prometheus.Counter
	SessionsCancelled      prometheus.Counter
	SignaturesAccepted     prometheus.Counter
	SignaturesRejected     prometheus.Counter
	TimersActive           prometheus.Gauge
}

// New registers every metric against a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_connections_total",
			Help: "Total WebSocket connections accepted.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hmsc_connections_active",
			Help: "Currently open WebSocket connections.",
		}),
		SlowConsumerDisconnect: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_slow_consumer_disconnects_total",
			Help: "Connections closed with code 4003 for exceeding the outbound queue.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_broadcasts_total",
			Help: "Broadcast frames sent across all connections.",
		}),
		BroadcastFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_broadcast_failures_total",
			Help: "Per-connection write failures during broadcast fan-out.",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_sessions_created_total",
			Help: "Sessions created.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hmsc_sessions_active",
			Help: "Sessions not yet in a terminal state.",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_sessions_completed_total",
			Help: "Sessions that reached completed.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_sessions_expired_total",
			Help: "Sessions that reached expired.",
		}),
		SessionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_sessions_cancelled_total",
			Help: "Sessions that reached cancelled.",
		}),
		SignaturesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_signatures_accepted_total",
			Help: "Signatures accepted across all sessions.",
		}),
		SignaturesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "hmsc_signatures_rejected_total",
			Help: "Signatures rejected (ineligible, duplicate, or invalid).",
		}),
		TimersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hmsc_timers_active",
			Help: "Timers currently registered with the TimerController.",
		}),
	}
	return m, reg
}

// Handler returns an http.Handler serving reg in the Prometheus exposition
// format, for mounting at Config.MetricsAddr.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
