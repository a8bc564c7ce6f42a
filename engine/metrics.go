package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/use-agent/planillas/models"
)

var (
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "planillas",
		Name:      "queue_pending",
		Help:      "Lookups waiting for the shared browser session.",
	})
	metricLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planillas",
		Name:      "lookups_total",
		Help:      "Completed lookups by result and remarks.",
	}, []string{"result", "remarks"})
	metricLookupErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "planillas",
		Name:      "lookup_errors_total",
		Help:      "Lookups resolved with an infrastructure error instead of an outcome.",
	})
	metricReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planillas",
		Name:      "session_reconnects_total",
		Help:      "Browser session re-establishment attempts by status.",
	}, []string{"status"})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "planillas",
		Name:      "lookup_duration_seconds",
		Help:      "Time from dispatch to outcome, retries included.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})
)

func recordOutcome(o *models.Outcome, seconds float64) {
	metricLookups.WithLabelValues(string(o.Result), string(o.Remarks)).Inc()
	metricRunDuration.Observe(seconds)
}

func recordReconnect(ok bool) {
	if ok {
		metricReconnects.WithLabelValues("ok").Inc()
		return
	}
	metricReconnects.WithLabelValues("failed").Inc()
}
