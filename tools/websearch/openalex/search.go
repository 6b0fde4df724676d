package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/prismlab/prism/tools/websearch/models"
)

const defaultEndpoint = "https://api.openalex.org/works"

// Search queries the OpenAlex scholarly works index. No API key required;
// a mailto identifies the caller for their polite pool.
type Search struct {
	Endpoint string
	MailTo   string
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u := fmt.Sprintf("%s?search=%s&per-page=%d", endpoint, url.QueryEscape(q), k)
	if s.MailTo != "" {
		u += "&mailto=" + url.QueryEscape(s.MailTo)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openalex returned status %d", resp.StatusCode)
	}
	var raw struct {
		Results []struct {
			Title      string `json:"title"`
			DOI        string `json:"doi"`
			ID         string `json:"id"`
			PrimaryLoc struct {
				LandingPage string `json:"landing_page_url"`
			} `json:"primary_location"`
			AbstractInverted map[string][]int `json:"abstract_inverted_index"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []models.Result
	for i, w := range raw.Results {
		if i >= k {
			break
		}
		link := w.DOI
		if link == "" {
			link = w.PrimaryLoc.LandingPage
		}
		if link == "" {
			link = w.ID
		}
		out = append(out, models.Result{
			Title:   w.Title,
			URL:     link,
			Snippet: reconstructAbstract(w.AbstractInverted, 60),
		})
	}
	return out, nil
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index,
// capped at maxWords.
func reconstructAbstract(inverted map[string][]int, maxWords int) string {
	if len(inverted) == 0 {
		return ""
	}
	max := 0
	for _, positions := range inverted {
		for _, p := range positions {
			if p > max {
				max = p
			}
		}
	}
	words := make([]string, max+1)
	for w, positions := range inverted {
		for _, p := range positions {
			words[p] = w
		}
	}
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.TrimSpace(strings.Join(words, " "))
}
