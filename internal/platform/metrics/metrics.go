package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the wallet process.
type Metrics struct {
	IssuanceRuns          *prometheus.CounterVec
	IssuanceDuration      prometheus.Histogram
	RefreshLoads          *prometheus.CounterVec
	GreenCardsStored      prometheus.Counter
	EventGroupsRemoved    prometheus.Counter
	RemovedEventsRecorded prometheus.Counter
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		IssuanceRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "greenwallet_issuance_runs_total",
			Help: "Issuance coordinator runs by terminal state.",
		}, []string{"outcome"}),
		IssuanceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenwallet_issuance_duration_seconds",
			Help:    "Wall time of issuance coordinator runs.",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "greenwallet_refresh_loads_total",
			Help: "Credential refresh loads by result.",
		}, []string{"result"}),
		GreenCardsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "greenwallet_green_cards_stored_total",
			Help: "Green cards persisted after successful issuance.",
		}),
		EventGroupsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "greenwallet_event_groups_removed_total",
			Help: "Event groups removed by replacement, expiry, or draft cleanup.",
		}),
		RemovedEventsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "greenwallet_removed_events_recorded_total",
			Help: "Server-invalidated events recorded for user notification.",
		}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "greenwallet_http_request_duration_seconds",
			Help:    "Latency of wallet API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// ObserveHTTPRequest records one API request.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Observe(seconds)
}

// ObserveIssuanceRun records one coordinator run.
func (m *Metrics) ObserveIssuanceRun(outcome string, seconds float64) {
	m.IssuanceRuns.WithLabelValues(outcome).Inc()
	m.IssuanceDuration.Observe(seconds)
}

// ObserveRefreshLoad records one refresher load result.
func (m *Metrics) ObserveRefreshLoad(result string) {
	m.RefreshLoads.WithLabelValues(result).Inc()
}
