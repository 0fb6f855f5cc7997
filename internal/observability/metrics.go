package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central registry of gateway metrics.
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ContextBuildDuration measures how long assembling an optimized
	// context window takes.
	// Labels: strategy (recent_only|bayesian|degraded)
	ContextBuildDuration *prometheus.HistogramVec

	// ContextCompressionRatio observes optimized/full token ratios.
	ContextCompressionRatio prometheus.Histogram

	// MemorySelectionCounter counts Bayesian selections by outcome.
	// Labels: outcome (selected|empty|failed)
	MemorySelectionCounter *prometheus.CounterVec

	// VectorSearchDuration measures vector store search latency.
	// Labels: backend (memory|pgvector)
	VectorSearchDuration *prometheus.HistogramVec

	// ShareCacheOps counts shared-conversation cache operations.
	// Labels: op (get|set|delete), result (hit|miss|ok|error)
	ShareCacheOps *prometheus.CounterVec

	// SafetyRejections counts messages blocked by the safety pipeline.
	// Labels: stage (input|output), category
	SafetyRejections *prometheus.CounterVec

	// ErrorCounter tracks errors by component and normalized kind.
	// Labels: component (provider|context|safety|tools|storage), kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contextgate_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contextgate_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		ContextBuildDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contextgate_context_build_duration_seconds",
				Help:    "Duration of context window assembly in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"strategy"},
		),
		ContextCompressionRatio: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "contextgate_context_compression_ratio",
				Help:    "Ratio of optimized context tokens to full history tokens",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1},
			},
		),
		MemorySelectionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_memory_selections_total",
				Help: "Total number of relevance selections by outcome",
			},
			[]string{"outcome"},
		),
		VectorSearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contextgate_vector_search_duration_seconds",
				Help:    "Duration of vector store searches in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"backend"},
		),
		ShareCacheOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_share_cache_ops_total",
				Help: "Total shared-conversation cache operations by op and result",
			},
			[]string{"op", "result"},
		),
		SafetyRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_safety_rejections_total",
				Help: "Total messages blocked by the safety pipeline",
			},
			[]string{"stage", "category"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextgate_errors_total",
				Help: "Total number of errors by component and kind",
			},
			[]string{"component", "kind"},
		),
	}
}
