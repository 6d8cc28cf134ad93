// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

const namespace = "talklet"

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Registry operations by name and outcome (ok or error code).",
		},
		[]string{"op", "outcome"},
	)

	FactsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_published_total",
			Help:      "Facts handed to the in-process bus.",
		},
		[]string{"kind"},
	)

	FactsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_dropped_total",
			Help:      "Facts not delivered on the bus because its buffer was full.",
		},
		[]string{"kind"},
	)

	OracleJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_jobs_total",
			Help:      "Decryption requests handled by the oracle, by outcome.",
		},
		[]string{"outcome"},
	)

	ComponentHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_healthy",
			Help:      "1 when the component's last health probe succeeded.",
		},
		[]string{"component"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route template, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Outcome is the label value for err: "ok", its model code, or "internal".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if c := model.CodeOf(err); c != "" {
		return string(c)
	}
	return "internal"
}

// ObserveOperation counts one registry operation.
func ObserveOperation(op string, err error) {
	OperationsTotal.WithLabelValues(op, Outcome(err)).Inc()
}
