// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FormMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formflow",
		Name:      "form_mutations_total",
		Help:      "Form graph operations by op and result.",
	}, []string{"op", "result"})

	LogicEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formflow",
		Name:      "logic_evaluations_total",
		Help:      "Answers evaluated by outcome (rule, fallback, end).",
	}, []string{"outcome"})

	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formflow",
		Name:      "sessions_total",
		Help:      "Respondent session transitions by status.",
	}, []string{"status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "formflow",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one request
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
