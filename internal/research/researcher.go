package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/helpers"
	"github.com/prismlab/prism/tools/gateway"
	"github.com/prismlab/prism/tools/toolset"
)

// Researcher runs the evidence-gathering loop for one aspect at a time.
// Aspects are strictly sequential: a new aspect starts only after the previous
// one has finished, and every tool call goes through the shared gateway. An
// unavailable tool degrades the hop instead of failing the aspect; an aspect
// that ends with no evidence completes with the no-evidence marker set.
type Researcher struct {
	llm     *llmClient
	gateway *gateway.Gateway
	cfg     config.ResearchConfig
	logger  *log.Logger
}

func NewResearcher(llm *llmClient, gw *gateway.Gateway, cfg config.ResearchConfig) *Researcher {
	return &Researcher{
		llm:     llm,
		gateway: gw,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

type analyzeResponse struct {
	Findings []struct {
		Claim      string  `json:"claim"`
		URL        string  `json:"url"`
		Confidence float64 `json:"confidence"`
	} `json:"findings"`
	Sufficient  bool     `json:"sufficient"`
	NextQueries []string `json:"next_queries"`
	Symbols     []string `json:"symbols"`
}

// Run researches every pending aspect in order. The cancelled callback is
// polled before each aspect and before each iteration; on cancellation the
// loop returns immediately with the work done so far kept on the aspects.
func (r *Researcher) Run(ctx context.Context, session *Session, aspects []Aspect, cancelled func() bool) ([]Aspect, error) {
	tools := toolset.ForResearchType(string(session.Type))
	for i := range aspects {
		if aspects[i].Status != AspectPending {
			continue
		}
		if cancelled() {
			return aspects, nil
		}
		aspects[i].Status = AspectResearching
		if err := r.researchAspect(ctx, session, &aspects[i], tools, cancelled); err != nil {
			return aspects, fmt.Errorf("researching aspect %q: %w", aspects[i].Title, err)
		}
	}
	return aspects, nil
}

func (r *Researcher) researchAspect(ctx context.Context, session *Session, aspect *Aspect, tools []string, cancelled func() bool) error {
	queries := initialQueries(session, aspect)
	seen := make(map[string]bool)

	for iter := 0; iter < r.cfg.MaxIterations; iter++ {
		if cancelled() {
			return nil
		}
		query := queries[0]
		if len(queries) > 1 {
			queries = queries[1:]
		}

		pages, degraded := r.gatherPages(ctx, tools, query, seen)
		analysis, err := r.analyze(ctx, session, aspect, query, pages)
		if err != nil {
			return err
		}
		for _, f := range analysis.Findings {
			if strings.TrimSpace(f.Claim) == "" {
				continue
			}
			aspect.Findings = appendFinding(aspect.Findings, Finding{
				Claim:      strings.TrimSpace(f.Claim),
				SourceURL:  helpers.NormalizeURL(f.URL),
				SourceName: helpers.Domain(f.URL),
				Confidence: f.Confidence,
			})
		}
		if len(analysis.Symbols) > 0 && contains(tools, toolset.ToolFinanceData) {
			r.gatherQuotes(ctx, aspect, analysis.Symbols[0])
		}
		if analysis.Sufficient {
			break
		}
		if degraded && len(analysis.Findings) == 0 {
			// Every backend for this hop was down; further iterations would
			// only repeat the failure.
			r.logger.Printf("aspect %q: tools unavailable, stopping after iteration %d", aspect.Title, iter+1)
			break
		}
		if len(analysis.NextQueries) > 0 {
			queries = append(analysis.NextQueries, queries...)
		}
	}

	if len(aspect.Findings) == 0 {
		aspect.NoEvidence = true
		aspect.Summary = "No reliable evidence could be gathered for this aspect."
		aspect.Status = AspectCompleted
		r.logger.Printf("aspect %q completed with no evidence", aspect.Title)
		return nil
	}

	summary, err := r.summarize(ctx, session, aspect)
	if err != nil {
		return err
	}
	aspect.Summary = summary
	aspect.Status = AspectCompleted
	r.logger.Printf("aspect %q completed with %d findings", aspect.Title, len(aspect.Findings))
	return nil
}

type pageExtract struct {
	URL   string
	Title string
	Text  string
}

// gatherPages runs one search-and-extract hop. It returns whatever pages it
// managed to pull plus whether every search backend was unavailable. When a
// page cannot be extracted the search-result snippet stands in for it, so a
// broken extractor degrades the evidence instead of dropping the source.
func (r *Researcher) gatherPages(ctx context.Context, tools []string, query string, seen map[string]bool) ([]pageExtract, bool) {
	type searchHit struct {
		title   string
		snippet string
	}
	var urls []string
	hits := make(map[string]searchHit)
	searched, unavailable := 0, 0
	for _, tool := range tools {
		if tool != toolset.ToolWebSearch && tool != toolset.ToolAcademicSearch {
			continue
		}
		searched++
		out, err := r.gateway.Invoke(ctx, tool, map[string]interface{}{
			"query": query,
			"limit": r.cfg.SearchResultsPerHop,
		})
		if err != nil {
			var unavail gateway.ErrToolUnavailable
			if errors.As(err, &unavail) || errors.Is(err, gateway.ErrUnknownTool) {
				r.logger.Printf("search via %s unavailable: %v", tool, err)
				unavailable++
				continue
			}
			r.logger.Printf("search via %s failed: %v", tool, err)
			unavailable++
			continue
		}
		results, _ := out["results"].([]interface{})
		for _, raw := range results {
			m, _ := raw.(map[string]interface{})
			u, _ := m["url"].(string)
			u = helpers.NormalizeURL(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
			title, _ := m["title"].(string)
			snippet, _ := m["snippet"].(string)
			hits[u] = searchHit{title: title, snippet: snippet}
		}
	}

	snippetPage := func(u string) (pageExtract, bool) {
		h := hits[u]
		if strings.TrimSpace(h.snippet) == "" {
			return pageExtract{}, false
		}
		return pageExtract{URL: u, Title: h.title, Text: helpers.Snippet(h.snippet, 280)}, true
	}

	var pages []pageExtract
	for _, u := range urls {
		if len(pages) >= r.cfg.ExtractsPerHop {
			break
		}
		out, err := r.gateway.Invoke(ctx, toolset.ToolExtract, map[string]interface{}{"url": u})
		if err != nil {
			r.logger.Printf("extract %s failed: %v", u, err)
			if p, ok := snippetPage(u); ok {
				pages = append(pages, p)
			}
			continue
		}
		text, _ := out["text"].(string)
		title, _ := out["title"].(string)
		if strings.TrimSpace(text) == "" {
			if p, ok := snippetPage(u); ok {
				pages = append(pages, p)
			}
			continue
		}
		pages = append(pages, pageExtract{URL: u, Title: title, Text: text})
	}
	return pages, searched > 0 && unavailable == searched
}

func (r *Researcher) gatherQuotes(ctx context.Context, aspect *Aspect, symbol string) {
	out, err := r.gateway.Invoke(ctx, toolset.ToolFinanceData, map[string]interface{}{"symbol": symbol, "limit": 30})
	if err != nil {
		r.logger.Printf("finance_data %s unavailable: %v", symbol, err)
		return
	}
	quotes, _ := out["quotes"].([]interface{})
	if len(quotes) == 0 {
		return
	}
	last, _ := quotes[len(quotes)-1].(map[string]interface{})
	date, _ := last["date"].(string)
	closePx, _ := last["close"].(float64)
	aspect.Findings = appendFinding(aspect.Findings, Finding{
		Claim:      fmt.Sprintf("%s closed at %.2f on %s (last of %d daily quotes).", strings.ToUpper(symbol), closePx, date, len(quotes)),
		SourceURL:  "https://stooq.com/q/d/?s=" + strings.ToLower(symbol),
		SourceName: "stooq.com",
		Confidence: 0.9,
	})
}

func (r *Researcher) analyze(ctx context.Context, session *Session, aspect *Aspect, query string, pages []pageExtract) (analyzeResponse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "RESEARCH analysis for aspect %q of topic %q.\n", aspect.Title, session.Topic)
	b.WriteString("Key questions:\n")
	for _, q := range aspect.KeyQuestions {
		fmt.Fprintf(&b, "  - %s\n", q)
	}
	fmt.Fprintf(&b, "Search query used: %s\n\n", query)
	if len(pages) == 0 {
		b.WriteString("No pages could be retrieved this round.\n")
	}
	for _, p := range pages {
		fmt.Fprintf(&b, "--- %s (%s) ---\n%s\n\n", p.Title, p.URL, referenceExcerpt(p.Text, 2500))
	}
	if len(aspect.Findings) > 0 {
		b.WriteString("Findings already collected:\n")
		for _, f := range aspect.Findings {
			fmt.Fprintf(&b, "  - %s\n", f.Claim)
		}
	}
	b.WriteString("\nExtract factual findings with their source URL and a 0..1 confidence. ")
	b.WriteString("Set sufficient=true when the key questions are answered. ")
	b.WriteString("Suggest next_queries when more searching would help; list stock symbols when market data would help.\n")
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"findings":[{"claim":"...","url":"...","confidence":0.8}],"sufficient":false,"next_queries":[],"symbols":[]}`)

	response, err := r.llm.generate(ctx, opResearch, b.String())
	if err != nil {
		return analyzeResponse{}, err
	}
	var parsed analyzeResponse
	if err := decodeJSON(response, &parsed); err != nil {
		// Treat a garbled analysis as an empty round rather than failing the
		// whole aspect.
		r.logger.Printf("aspect %q: unparseable analysis: %v", aspect.Title, err)
		return analyzeResponse{}, nil
	}
	return parsed, nil
}

func (r *Researcher) summarize(ctx context.Context, session *Session, aspect *Aspect) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "RESEARCH summary for aspect %q of topic %q.\n", aspect.Title, session.Topic)
	b.WriteString("Write a compact paragraph answering the key questions from these findings. Plain text, no preamble.\n\n")
	for _, f := range aspect.Findings {
		fmt.Fprintf(&b, "- %s (%s, confidence %.1f)\n", f.Claim, f.SourceURL, f.Confidence)
	}
	response, err := r.llm.generate(ctx, opResearch, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

func initialQueries(session *Session, aspect *Aspect) []string {
	queries := []string{session.Topic + " " + aspect.Title}
	for _, q := range aspect.KeyQuestions {
		queries = append(queries, q)
	}
	return queries
}

func appendFinding(findings []Finding, f Finding) []Finding {
	for _, existing := range findings {
		if existing.Claim == f.Claim && existing.SourceURL == f.SourceURL {
			return findings
		}
	}
	return append(findings, f)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
