package toolset

import (
	"context"
	"fmt"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/tools/finance"
	"github.com/prismlab/prism/tools/gateway"
	"github.com/prismlab/prism/tools/webfetch"
	"github.com/prismlab/prism/tools/websearch"
	"github.com/prismlab/prism/tools/websearch/openalex"
)

// Canonical tool names routed through the gateway.
const (
	ToolWebSearch      = "web_search"
	ToolAcademicSearch = "academic_search"
	ToolExtract        = "extract"
	ToolFinanceData    = "finance_data"
)

// ForResearchType returns the tool names eligible for a research type.
func ForResearchType(researchType string) []string {
	switch researchType {
	case "basic-web":
		return []string{ToolWebSearch, ToolExtract}
	case "advanced-web":
		return []string{ToolWebSearch, ToolExtract}
	case "academic":
		return []string{ToolAcademicSearch, ToolWebSearch, ToolExtract}
	case "financial":
		return []string{ToolWebSearch, ToolFinanceData, ToolExtract}
	case "comprehensive":
		return []string{ToolWebSearch, ToolAcademicSearch, ToolFinanceData, ToolExtract}
	default:
		return []string{ToolWebSearch, ToolExtract}
	}
}

// Build constructs every tool backend the configuration enables.
func Build(cfg config.ToolsConfig) ([]gateway.Tool, error) {
	var tools []gateway.Tool

	provider := websearch.Provider(cfg.WebSearch.Provider)
	if provider == "" {
		provider = websearch.SerperProvider
	}
	apiKey := cfg.WebSearch.SerperAPIKey
	if provider == websearch.BraveProvider {
		apiKey = cfg.WebSearch.BraveAPIKey
	}
	if apiKey != "" {
		searcher, err := websearch.NewSearcher(provider, apiKey)
		if err != nil {
			return nil, fmt.Errorf("building web searcher: %w", err)
		}
		tools = append(tools, &SearchTool{name: ToolWebSearch, searcher: searcher, maxResults: cfg.WebSearch.MaxResults})
	}

	if cfg.Academic.Enabled {
		tools = append(tools, &SearchTool{
			name:       ToolAcademicSearch,
			searcher:   openalex.Search{Endpoint: cfg.Academic.Endpoint, MailTo: cfg.Academic.MailTo},
			maxResults: cfg.Academic.MaxResults,
		})
	}

	fetcher, err := webfetch.NewFetcher(webfetch.FetcherType(cfg.WebFetch.Fetcher), cfg.WebFetch.Timeout, cfg.WebFetch.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("building web fetcher: %w", err)
	}
	tools = append(tools, &ExtractTool{fetcher: fetcher})

	if cfg.Finance.Enabled {
		tools = append(tools, &FinanceTool{client: finance.Client{Endpoint: cfg.Finance.Endpoint}})
	}

	return tools, nil
}

// SearchTool adapts a websearch.Searcher to the gateway contract.
type SearchTool struct {
	name       string
	searcher   websearch.Searcher
	maxResults int
}

func (t *SearchTool) Name() string { return t.name }

func (t *SearchTool) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("search requires a query parameter")
	}
	k := t.maxResults
	if k <= 0 {
		k = 5
	}
	if n, ok := params["limit"].(int); ok && n > 0 {
		k = n
	}
	results, err := t.searcher.Discover(ctx, query, k)
	if err != nil {
		// Search backends fail transiently far more often than permanently.
		return nil, gateway.Transient{Err: err}
	}
	items := make([]interface{}, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return map[string]interface{}{"results": items}, nil
}

// ExtractTool adapts a webfetch.Fetcher to the gateway contract.
type ExtractTool struct {
	fetcher webfetch.Fetcher
}

func (t *ExtractTool) Name() string { return ToolExtract }

func (t *ExtractTool) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("extract requires a url parameter")
	}
	res, err := t.fetcher.Exec(ctx, url)
	if err != nil {
		return nil, gateway.Transient{Err: err}
	}
	return map[string]interface{}{
		"url":    res.URL,
		"title":  res.Title,
		"text":   res.Text,
		"status": res.Status,
	}, nil
}

// FinanceTool adapts the quote client to the gateway contract.
type FinanceTool struct {
	client finance.Client
}

func (t *FinanceTool) Name() string { return ToolFinanceData }

func (t *FinanceTool) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	symbol, _ := params["symbol"].(string)
	if symbol == "" {
		return nil, fmt.Errorf("finance_data requires a symbol parameter")
	}
	limit := 30
	if n, ok := params["limit"].(int); ok && n > 0 {
		limit = n
	}
	quotes, err := t.client.History(ctx, symbol, limit)
	if err != nil {
		return nil, gateway.Transient{Err: err}
	}
	items := make([]interface{}, 0, len(quotes))
	for _, q := range quotes {
		items = append(items, map[string]interface{}{
			"date":  q.Date,
			"close": q.Close,
		})
	}
	return map[string]interface{}{"symbol": symbol, "quotes": items}, nil
}
