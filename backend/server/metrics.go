package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whispr",
		Subsystem: "store",
		Name:      "requests_total",
		Help:      "Report store calls, labeled by method and result.",
	}, []string{"method", "result"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "whispr",
		Subsystem: "store",
		Name:      "request_duration_seconds",
		Help:      "Time to answer a report store call.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method"})

	reportsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "whispr",
		Subsystem: "store",
		Name:      "reports_submitted_total",
		Help:      "Reports accepted by the store.",
	})

	reviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whispr",
		Subsystem: "store",
		Name:      "reviews_total",
		Help:      "Review decisions, labeled by resulting status.",
	}, []string{"status"})

	payoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whispr",
		Subsystem: "store",
		Name:      "payouts_total",
		Help:      "On-chain reward payouts, labeled by result.",
	}, []string{"result"})
)

func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(requestsTotal, requestDuration, reportsSubmitted, reviewsTotal, payoutsTotal)
	})
}
