// Package observability holds the Prometheus collectors for the job
// lifecycle. They register with the default registry at init.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_jobs_created_total",
		Help: "Jobs accepted, by source kind.",
	}, []string{"source"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_jobs_finished_total",
		Help: "Jobs that reached a terminal status.",
	}, []string{"source", "status"}) // status: completed, failed

	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_extraction_attempts_total",
		Help: "Individual extraction attempts, by outcome.",
	}, []string{"source", "outcome"}) // outcome: success, transient, fatal

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_job_duration_seconds",
		Help:    "Time from begin processing to terminal status.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"source"})

	Callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_callbacks_total",
		Help: "Callback deliveries, by final outcome.",
	}, []string{"outcome"}) // outcome: delivered, failed

	DispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_dispatch_rejected_total",
		Help: "Jobs that could not be handed to a dispatcher.",
	}, []string{"backend"})

	LocalQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_local_queue_depth",
		Help: "Jobs waiting in the in-process worker queue.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
