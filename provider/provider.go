package provider

import (
	"context"
	"fmt"

	"github.com/prismlab/prism/config"
	openai_provider "github.com/prismlab/prism/provider/openai"
)

// Provider is the text-generation boundary used by every decompose, plan,
// synthesize and compose operation in the pipeline.
type Provider interface {
	// Generate generates text using the named model.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns input/output token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// CalculateCost calculates the cost for a given number of tokens.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// NewProvider creates an LLM provider based on configuration. The first
// configured provider wins; only one backend is active per process.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			return openai_provider.NewClient(p), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
