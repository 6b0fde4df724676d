package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/budget"
	"github.com/prismlab/prism/internal/telemetry"
	"github.com/prismlab/prism/provider"
)

// Operation names used for model routing.
const (
	opDecompose = "decompose"
	opPlan      = "plan"
	opRefine    = "refine"
	opResearch  = "research"
	opSynthesis = "synthesis"
	opCompose   = "compose"
)

// llmClient routes pipeline operations to configured models and accounts for
// spend on every call. Shared by all pipeline components.
type llmClient struct {
	provider provider.Provider
	routing  config.LLMRoutingConfig
	monitor  *budget.Monitor
	metrics  *telemetry.Metrics
}

func newLLMClient(p provider.Provider, routing config.LLMRoutingConfig, monitor *budget.Monitor, metrics *telemetry.Metrics) *llmClient {
	return &llmClient{provider: p, routing: routing, monitor: monitor, metrics: metrics}
}

func (c *llmClient) model(op string) string {
	var m string
	switch op {
	case opDecompose:
		m = c.routing.Decompose
	case opPlan:
		m = c.routing.Plan
	case opRefine:
		m = c.routing.Refine
	case opResearch:
		m = c.routing.Research
	case opSynthesis:
		m = c.routing.Synthesis
	case opCompose:
		m = c.routing.Compose
	}
	if m == "" {
		m = c.routing.Fallback
	}
	return m
}

// generate runs one completion for the given operation, recording token and
// cost usage against the session budget.
func (c *llmClient) generate(ctx context.Context, op, prompt string) (string, error) {
	model := c.model(op)
	text, in, out, err := c.provider.GenerateWithTokens(ctx, prompt, model, nil)
	if err != nil {
		return "", fmt.Errorf("llm %s call failed: %w", op, err)
	}
	cost := c.provider.CalculateCost(in, out, model)
	if c.metrics != nil {
		c.metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(in))
		c.metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(out))
		c.metrics.LLMCostUSD.Add(cost)
	}
	if c.monitor != nil {
		if err := c.monitor.Add(cost, in+out); err != nil {
			return "", err
		}
	}
	return text, nil
}

// decodeJSON extracts and unmarshals the first JSON object or array in an LLM
// response, tolerating markdown code fences and surrounding prose.
func decodeJSON(response string, v interface{}) error {
	s := strings.TrimSpace(response)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON found in response")
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end < start {
		return fmt.Errorf("unterminated JSON in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("parsing JSON response: %w", err)
	}
	return nil
}
