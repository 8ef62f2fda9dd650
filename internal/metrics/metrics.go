package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GradingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_gradings_total",
			Help: "Total number of grading requests by outcome",
		},
		[]string{"language", "outcome"}, // outcome: "graded", "invalid", "internal", "cancelled"
	)

	TestCasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_test_cases_total",
			Help: "Total number of executed test cases",
		},
		[]string{"language", "status"}, // status: "passed", "failed", "error", "timeout"
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assessor_execution_duration_ms",
			Help:    "Sandbox run duration per test case in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"language"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assessor_active_runs",
			Help: "Number of grading runs currently in flight",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assessor_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_store_errors_total",
			Help: "Submission store failures",
		},
		[]string{"op"},
	)
)
