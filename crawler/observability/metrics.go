package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of IDs in each scheduler queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btt_queue_depth",
		Help: "Current number of lecture IDs in each scheduler queue",
	}, []string{"queue"})

	// Selections tracks successful selections by source queue.
	Selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_selections_total",
		Help: "Lecture IDs handed to the worker, by source queue",
	}, []string{"queue"})

	// SelectionSkips tracks IDs discarded during selection.
	SelectionSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_selection_skips_total",
		Help: "Lecture IDs discarded during selection",
	}, []string{"reason"}) // already_stored, not_available, unauthorized, repository_error

	// ProbeResults tracks portal probe outcomes.
	ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_probe_results_total",
		Help: "Portal probe results by status",
	}, []string{"status"})

	// RefreshCycles tracks refresher cycle completions.
	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_refresh_cycles_total",
		Help: "Completed refresher cycles by refresher and result",
	}, []string{"refresher", "result"})

	// InFlightEvictions tracks reaper evictions from the in-flight guard.
	InFlightEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btt_inflight_evictions_total",
		Help: "In-flight guard entries evicted by the reaper",
	})

	// PipelineRuns tracks pipeline completions by result.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_pipeline_runs_total",
		Help: "Transcription pipeline runs by result",
	}, []string{"result"}) // success, failure

	// PipelineDuration tracks the wall time of a full pipeline run.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btt_pipeline_duration_seconds",
		Help:    "Duration of a full transcription pipeline run",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to 5120s (~85m)
	})

	// PrioritizeRequests tracks control-plane prioritize outcomes.
	PrioritizeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_prioritize_requests_total",
		Help: "Prioritize requests by outcome",
	}, []string{"outcome"})

	// APIRateLimited tracks requests rejected by the control-plane limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btt_api_rate_limited_total",
		Help: "Control-plane requests rejected by the rate limiter",
	}, []string{"endpoint"})

	// WorkerIdle tracks how often the worker found every queue empty.
	WorkerIdle = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btt_worker_idle_total",
		Help: "Worker wake-ups that found every source queue empty",
	})
)
