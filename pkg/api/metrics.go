package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ExperimentSavesTotal counts document saves.
	ExperimentSavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "psyflow_experiment_saves_total",
			Help: "Total number of experiment document saves",
		},
	)

	// CompilesTotal counts compile requests by outcome.
	CompilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psyflow_compiles_total",
			Help: "Total number of compile requests",
		},
		[]string{"outcome"},
	)

	// CompileDurationSeconds tracks how long rendering a script takes.
	CompileDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "psyflow_compile_duration_seconds",
			Help:    "Time spent compiling experiment documents",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTPRequestsTotal counts served requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psyflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(ExperimentSavesTotal)
	prometheus.MustRegister(CompilesTotal)
	prometheus.MustRegister(CompileDurationSeconds)
	prometheus.MustRegister(HTTPRequestsTotal)
}
