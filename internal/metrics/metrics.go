// Package metrics exposes Prometheus metrics for the service on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "contractd"

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Collector holds every metric of the service. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	ContractsSubmitted *prometheus.CounterVec
	AnalysisAttempts   *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	AnalysesSaved      prometheus.Counter
	AnalysesFailed     prometheus.Counter
	StaleReclaimed     prometheus.Counter
	JobsInFlight       prometheus.Gauge
	ToolCalls          *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ContractsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "contracts_submitted_total",
			Help:      "Contract submissions by outcome (created, duplicate, resubmitted)",
		}, []string{"outcome"}),
		AnalysisAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analysis_attempts_total",
			Help:      "AI analysis attempts by outcome",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "analysis_call_duration_seconds",
			Help:      "Duration of AI service calls",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		AnalysesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analyses_saved_total",
			Help:      "Analyses persisted",
		}),
		AnalysesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analyses_failed_total",
			Help:      "Contracts marked failed after exhausting retries",
		}),
		StaleReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stale_claims_reclaimed_total",
			Help:      "Analysis claims reset by the stale sweep",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "analysis_jobs_in_flight",
			Help:      "Background analysis jobs currently running",
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mcp_tool_calls_total",
			Help:      "MCP tool calls by tool and status",
		}, []string{"tool", "status"}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.ContractsSubmitted,
		c.AnalysisAttempts,
		c.AnalysisDuration,
		c.AnalysesSaved,
		c.AnalysesFailed,
		c.StaleReclaimed,
		c.JobsInFlight,
		c.ToolCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) ContractSubmitted(outcome string) {
	if c == nil {
		return
	}
	c.ContractsSubmitted.WithLabelValues(outcome).Inc()
}

func (c *Collector) AnalysisAttempt(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.AnalysisAttempts.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		c.AnalysisDuration.Observe(d.Seconds())
	}
}

func (c *Collector) AnalysisSaved() {
	if c == nil {
		return
	}
	c.AnalysesSaved.Inc()
}

func (c *Collector) AnalysisFailed() {
	if c == nil {
		return
	}
	c.AnalysesFailed.Inc()
}

func (c *Collector) Reclaimed(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.StaleReclaimed.Add(float64(n))
}

func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.JobsInFlight.Inc()
}

func (c *Collector) JobFinished() {
	if c == nil {
		return
	}
	c.JobsInFlight.Dec()
}

func (c *Collector) ToolCall(tool string, err error) {
	if c == nil {
		return
	}
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeFailure
	}
	c.ToolCalls.WithLabelValues(tool, status).Inc()
}
