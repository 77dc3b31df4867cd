package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplicationsTotal counts pipeline outcomes by result (applied, skipped, failed).
	ApplicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saramjobhunter_applications_total",
			Help: "Total number of postings processed by the application pipeline",
		},
		[]string{"outcome"},
	)

	// LoginAttemptsTotal counts authentication attempts by result.
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saramjobhunter_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// PostingsDiscovered counts posting references returned by search pages.
	PostingsDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saramjobhunter_postings_discovered_total",
			Help: "Total number of posting references extracted from search results",
		},
	)

	// RunsTotal counts finished runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saramjobhunter_runs_total",
			Help: "Total number of automation runs",
		},
		[]string{"status"},
	)

	// RunDuration tracks how long a run takes in seconds.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saramjobhunter_run_duration_seconds",
			Help:    "Duration of automation runs in seconds",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4h
		},
	)

	// RunActive is 1 while a run holds the browser.
	RunActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saramjobhunter_run_active",
			Help: "Whether an automation run is currently active",
		},
	)
)
