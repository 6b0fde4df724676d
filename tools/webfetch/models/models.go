package models

// Result is one extracted page.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	Text     string `json:"text"`
	HTMLHash string `json:"html_hash,omitempty"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}
