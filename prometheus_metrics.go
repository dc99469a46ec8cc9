package cardworker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "card_in_flight_requests",
		Help: "Number of currently pending and processed requests.",
	})
	counter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_api_requests_total",
			Help: "A counter for requests to the wrapped handler.",
		},
		[]string{"code", "method"},
	)

	// duration is partitioned by the HTTP method and handler. Card processing
	// runs the recognizer several times, so buckets reach well past a minute.
	duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "card_request_duration_seconds",
			Help:    "A histogram of latencies for requests.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"handler", "method"},
	)

	// requestSize has no labels, making it a zero-dimensional ObserverVec.
	requestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "card_request_size_bytes",
			Help:    "A histogram of request sizes for requests.",
			Buckets: []float64{100, 1500, 500000, 5000000, 10000000, 25000000},
		},
		[]string{},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "card_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	pipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_pipeline_outcomes_total",
			Help: "Terminal pipeline states by status and stage.",
		},
		[]string{"status", "stage"},
	)
	engineLoadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_engine_loads_total",
			Help: "Recognition engine loads by result.",
		},
		[]string{"result"},
	)

	poolBusyWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "card_pool_busy_workers",
		Help: "Workers currently running a document.",
	})
	poolQueuedJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "card_pool_queued_jobs",
		Help: "Documents submitted but not yet picked up by a worker.",
	})
	poolCrashCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "card_pool_worker_crashes_total",
		Help: "Worker panics recovered while processing a document.",
	})
)

func init() {
	prometheus.MustRegister(inFlightGauge, counter, duration, requestSize)
	prometheus.MustRegister(stageDuration, pipelineOutcomes, engineLoadCounter)
	prometheus.MustRegister(poolBusyWorkers, poolQueuedJobs, poolCrashCounter)
}

// InstrumentHttpHandler wraps the card handler to provide prometheus metrics
func InstrumentHttpHandler(cardHttpHandler http.Handler) http.Handler {
	cardChain := promhttp.InstrumentHandlerInFlight(inFlightGauge,
		promhttp.InstrumentHandlerDuration(duration.MustCurryWith(prometheus.Labels{"handler": "process"}),
			promhttp.InstrumentHandlerCounter(counter,
				promhttp.InstrumentHandlerRequestSize(requestSize, cardHttpHandler),
			),
		),
	)
	return cardChain
}
