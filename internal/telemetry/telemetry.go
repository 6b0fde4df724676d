package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes prometheus instruments for the research pipeline.
type Metrics struct {
	ToolCalls      *prometheus.CounterVec
	ToolRetries    *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	SessionsTotal  *prometheus.CounterVec
	LLMTokensTotal *prometheus.CounterVec
	LLMCostUSD     prometheus.Counter
}

// New registers pipeline metrics on the given registerer. Passing nil uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_tool_calls_total",
			Help: "Tool gateway calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_tool_retries_total",
			Help: "Tool gateway retry attempts by tool.",
		}, []string{"tool"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_stage_duration_seconds",
			Help:    "Pipeline stage wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2.5, 10),
		}, []string{"stage"}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_sessions_total",
			Help: "Finished sessions by terminal status.",
		}, []string{"status"}),
		LLMTokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_llm_tokens_total",
			Help: "LLM tokens consumed by direction.",
		}, []string{"direction"}),
		LLMCostUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_llm_cost_usd_total",
			Help: "Estimated cumulative LLM spend in USD.",
		}),
	}
}
