// Package observability provides Prometheus metrics for the orchestration core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects operator-facing telemetry.
//
// Tracked series:
//   - LLM request counts, latency, token usage, and estimated cost per
//     provider and model
//   - Provider fallbacks and cooldown activations
//   - Tool execution counts and latency
//   - Improvement queue item outcomes and active workers
type Metrics struct {
	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD accumulates estimated spend in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ProviderFallbacks counts requests served by a non-preferred provider.
	// Labels: from, to
	ProviderFallbacks *prometheus.CounterVec

	// ProviderCooldowns counts cooldown activations.
	// Labels: provider
	ProviderCooldowns *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool handler latency in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// QueueItemsProcessed counts improvement queue outcomes.
	// Labels: status (completed|failed|skipped)
	QueueItemsProcessed *prometheus.CounterVec

	// QueueActiveWorkers gauges workers currently processing an item.
	QueueActiveWorkers prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nous_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_llm_tokens_total",
				Help: "Token consumption by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_llm_cost_usd_total",
				Help: "Estimated LLM spend in USD",
			},
			[]string{"provider", "model"},
		),
		ProviderFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_provider_fallbacks_total",
				Help: "Requests served by a fallback provider",
			},
			[]string{"from", "to"},
		),
		ProviderCooldowns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_provider_cooldowns_total",
				Help: "Provider cooldown activations",
			},
			[]string{"provider"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_tool_executions_total",
				Help: "Tool invocations by name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nous_tool_execution_duration_seconds",
				Help:    "Tool handler latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		QueueItemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nous_queue_items_processed_total",
				Help: "Improvement queue items by terminal status",
			},
			[]string{"status"},
		),
		QueueActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nous_queue_active_workers",
				Help: "Workers currently processing a queue item",
			},
		),
	}
}
