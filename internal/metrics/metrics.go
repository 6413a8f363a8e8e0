package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/Datahenge/btu-scheduler/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Time index

	TimeIndexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "btu_scheduler",
		Name:      "time_index_size",
		Help:      "Current cardinality of the Redis time index.",
	})

	// Dispatch loop (C7)

	DispatchCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "btu_scheduler",
		Name:      "dispatch_cycle_duration_seconds",
		Help:      "Time taken for one dispatch pass over due firings.",
		Buckets:   prometheus.DefBuckets,
	})

	DispatchDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "btu_scheduler",
		Name:      "dispatch_due_total",
		Help:      "Total firing instance keys observed as due.",
	})

	HandoffDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btu_scheduler",
		Name:      "handoff_duration_seconds",
		Help:      "Latency of the HTTP handoff to the web application.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	HandoffTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btu_scheduler",
		Name:      "handoff_total",
		Help:      "Total handoff attempts, by outcome.",
	}, []string{"outcome"})

	// Refill loop (C6)

	RefillCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "btu_scheduler",
		Name:      "refill_cycle_duration_seconds",
		Help:      "Time taken for one full-table refill pass.",
		Buckets:   prometheus.DefBuckets,
	})

	RefillScheduleCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "btu_scheduler",
		Name:      "refill_schedule_count",
		Help:      "Number of enabled schedules observed in the last refill pass.",
	})

	// Control listener (C8)

	ControlRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btu_scheduler",
		Name:      "control_requests_total",
		Help:      "Total control-socket requests, by transport, request type and outcome.",
	}, []string{"transport", "request_type", "outcome"})

	// Process lifecycle

	ProcessStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "btu_scheduler",
		Name:      "process_start_time_seconds",
		Help:      "Unix timestamp when the daemon started.",
	})
)

func Register() {
	prometheus.MustRegister(
		TimeIndexSize,
		DispatchCycleDuration,
		DispatchDueTotal,
		HandoffDuration,
		HandoffTotal,
		RefillCycleDuration,
		RefillScheduleCount,
		ControlRequestsTotal,
		ProcessStartTime,
	)
}

// NewServer exposes Prometheus metrics and the liveness/readiness probes
// the health checker computes, on one internal-facing HTTP server.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
