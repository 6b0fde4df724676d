package finance

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultEndpoint = "https://stooq.com/q/d/l/"

// Quote is one daily OHLC record for a symbol.
type Quote struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Client fetches daily quote history from the Stooq CSV API (keyless).
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// History returns up to limit most recent daily quotes for a symbol, newest
// last, e.g. symbol "aapl.us".
func (c Client) History(ctx context.Context, symbol string, limit int) ([]Quote, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	httpc := c.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}

	u := fmt.Sprintf("%s?s=%s&i=d", endpoint, strings.ToLower(strings.TrimSpace(symbol)))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stooq returned status %d", resp.StatusCode)
	}

	r := csv.NewReader(resp.Body)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing quote csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no quote data for %s", symbol)
	}

	// Header: Date,Open,High,Low,Close,Volume
	var out []Quote
	for _, row := range rows[1:] {
		if len(row) < 5 {
			continue
		}
		q := Quote{Date: row[0]}
		q.Open, _ = strconv.ParseFloat(row[1], 64)
		q.High, _ = strconv.ParseFloat(row[2], 64)
		q.Low, _ = strconv.ParseFloat(row[3], 64)
		q.Close, _ = strconv.ParseFloat(row[4], 64)
		if len(row) > 5 {
			q.Volume, _ = strconv.ParseFloat(row[5], 64)
		}
		out = append(out, q)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
