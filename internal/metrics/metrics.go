// Package metrics exposes Prometheus collectors for agent turns, tool
// executions and provider calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the agent collectors. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	turns            *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	providerDuration *prometheus.HistogramVec
	storageFailures  prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_agent_turns_total",
				Help: "Completed conversation turns by outcome.",
			},
			[]string{"outcome"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_agent_turn_duration_seconds",
				Help:    "Duration of SendMessage turns.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_agent_tool_calls_total",
				Help: "Tool executions by tool and success.",
			},
			[]string{"tool_name", "success"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_agent_tool_duration_seconds",
				Help:    "Duration of tool executions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_agent_provider_duration_seconds",
				Help:    "Latency of provider completions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		storageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_agent_storage_failures_total",
			Help: "Turns that completed while the conversation store was degraded.",
		}),
	}
	r.registry.MustRegister(
		r.turns,
		r.turnDuration,
		r.toolCalls,
		r.toolDuration,
		r.providerDuration,
		r.storageFailures,
	)
	return r
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the collectors in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Turn records one SendMessage outcome ("answer", "tools" or "error").
func (r *Recorder) Turn(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(outcome).Inc()
	r.turnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Tool records one tool execution.
func (r *Recorder) Tool(name string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	status := "false"
	if success {
		status = "true"
	}
	r.toolCalls.WithLabelValues(name, status).Inc()
	r.toolDuration.WithLabelValues(name).Observe(d.Seconds())
}

// Provider records one Complete call.
func (r *Recorder) Provider(provider, model string, err error, d time.Duration) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.providerDuration.WithLabelValues(provider, model, status).Observe(d.Seconds())
}

// StorageFailure counts a write that fell back to memory.
func (r *Recorder) StorageFailure() {
	if r == nil {
		return
	}
	r.storageFailures.Inc()
}
