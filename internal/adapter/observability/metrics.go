package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by matched route",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by matched route",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of LLM provider requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "LLM provider request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Total number of retried provider calls",
		},
		[]string{"provider"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool bridge calls by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_call_duration_seconds",
			Help:    "Tool bridge call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of repository jobs enqueued",
		},
		[]string{"profile"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of repository jobs currently processing",
		},
		[]string{"profile"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of repository jobs completed",
		},
		[]string{"profile"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of repository jobs failed",
		},
		[]string{"profile"},
	)

	AgentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_duration_seconds",
			Help:    "Evaluator agent wall clock duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"pillar"},
	)
	AgentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_failures_total",
			Help: "Total number of evaluator agents that failed outright",
		},
		[]string{"pillar"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_total",
			Help: "Total number of evaluation runs by verdict decision",
		},
		[]string{"decision"},
	)
	GateBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_blocked_total",
			Help: "Total number of runs blocked by the gate",
		},
	)

	// Outcome distributions
	FaithfulnessHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_faithfulness",
			Help:    "Distribution of the task pillar faithfulness score [0,1]",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	CompositeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_composite",
			Help:    "Distribution of the composite verdict score [0,1]",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

// InitMetrics registers every collector exactly once per process;
// registering twice panics.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		ProviderRequestsTotal, ProviderRequestDuration, ProviderRetriesTotal,
		ToolCallsTotal, ToolCallDuration,
		JobsEnqueuedTotal, JobsProcessing, JobsCompletedTotal, JobsFailedTotal,
		AgentDuration, AgentFailuresTotal,
		RunsTotal, GateBlockedTotal,
		FaithfulnessHistogram, CompositeHistogram,
	)
}

// HTTPMetricsMiddleware counts and times every request under its matched
// route pattern, keeping label cardinality independent of path params.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func EnqueueJob(profile string) {
	JobsEnqueuedTotal.WithLabelValues(profile).Inc()
}

func StartProcessingJob(profile string) {
	JobsProcessing.WithLabelValues(profile).Inc()
}

func CompleteJob(profile string) {
	JobsProcessing.WithLabelValues(profile).Dec()
	JobsCompletedTotal.WithLabelValues(profile).Inc()
}

func FailJob(profile string) {
	JobsProcessing.WithLabelValues(profile).Dec()
	JobsFailedTotal.WithLabelValues(profile).Inc()
}

// ObserveRun records the outcome distributions from a completed run.
// Out-of-range values are dropped rather than clamped so bad inputs do not
// distort the histograms.
func ObserveRun(faithfulness, composite float64, hasComposite bool) {
	if faithfulness >= 0 && faithfulness <= 1 {
		FaithfulnessHistogram.Observe(faithfulness)
	}
	if hasComposite && composite >= 0 && composite <= 1 {
		CompositeHistogram.Observe(composite)
	}
}
