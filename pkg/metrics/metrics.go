package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "curvecontrol"

var (
	Optimizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimizations_total",
		Help:      "Optimizer calls by outcome.",
	}, []string{"outcome"})

	OptimizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "optimization_duration_seconds",
		Help:      "Duration of a full refresh including the rate fetch.",
		Buckets:   prometheus.DefBuckets,
	})

	PendingReadings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_readings",
		Help:      "Readings waiting for the next upload.",
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Calls to the remote store by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	Debounced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debounced_requests_total",
		Help:      "User requests dropped because they arrived too soon after the previous one.",
	}, []string{"operation"})

	CurrentSetpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "current_setpoint",
		Help:      "Optimized setpoint for the current half hour.",
	})
)

func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
