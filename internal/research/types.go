package research

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResearchType selects which external tools a session may use.
type ResearchType string

const (
	TypeBasicWeb      ResearchType = "basic-web"
	TypeAdvancedWeb   ResearchType = "advanced-web"
	TypeAcademic      ResearchType = "academic"
	TypeFinancial     ResearchType = "financial"
	TypeComprehensive ResearchType = "comprehensive"
)

// SessionStatus is the lifecycle state of a research session. Transitions are
// monotonic along pending → processing → {completed|failed|cancelled};
// cancelling is only reachable from processing and always resolves to
// cancelled.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusCancelling SessionStatus = "cancelling"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AspectStatus is the per-aspect completion state.
type AspectStatus string

const (
	AspectPending     AspectStatus = "pending"
	AspectResearching AspectStatus = "researching"
	AspectCompleted   AspectStatus = "completed"
	AspectSkipped     AspectStatus = "skipped"
)

// DepthProfile is dimension-count × aspects-per-dimension.
type DepthProfile struct {
	Dimensions          int `json:"dimensions"`
	AspectsPerDimension int `json:"aspects_per_dimension"`
}

func (d DepthProfile) String() string {
	return fmt.Sprintf("%dx%d", d.Dimensions, d.AspectsPerDimension)
}

// ParseDepthProfile parses "NxM". Both N and M must be within 2..5; values
// outside the range are rejected, not clamped.
func ParseDepthProfile(s string) (DepthProfile, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return DepthProfile{}, fmt.Errorf("invalid depth profile %q (want NxM)", s)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return DepthProfile{}, fmt.Errorf("invalid depth profile %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return DepthProfile{}, fmt.Errorf("invalid depth profile %q: %w", s, err)
	}
	if n < 2 || n > 5 || m < 2 || m > 5 {
		return DepthProfile{}, fmt.Errorf("depth profile %q out of range (2..5 x 2..5)", s)
	}
	return DepthProfile{Dimensions: n, AspectsPerDimension: m}, nil
}

// Session identifies one research run. Owned exclusively by the controller.
type Session struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	Context      string            `json:"context,omitempty"`
	Type         ResearchType      `json:"research_type"`
	Depth        DepthProfile      `json:"depth"`
	Status       SessionStatus     `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	Progress     float64           `json:"progress"`
	Error        string            `json:"error,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`     // format -> locator
	FormatErrors map[string]string `json:"format_errors,omitempty"` // format -> reason
	Version      string            `json:"report_version,omitempty"`
	CostUSD      float64           `json:"cost_usd"`
	TokensUsed   int64             `json:"tokens_used"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// ReferenceInput is a user-supplied reference before preprocessing.
type ReferenceInput struct {
	URL      string `json:"url,omitempty"`
	Document string `json:"document,omitempty"` // inline text or a file handle
	Name     string `json:"name,omitempty"`
}

// Origin is the label carried onto the extracted document.
func (r ReferenceInput) Origin() string {
	if r.Name != "" {
		return r.Name
	}
	if r.URL != "" {
		return r.URL
	}
	return "inline-document"
}

// RefStatus is the extraction outcome for one reference.
type RefStatus string

const (
	RefOK     RefStatus = "ok"
	RefFailed RefStatus = "failed"
)

// ReferenceDocument is a preprocessed external source. Immutable once created.
type ReferenceDocument struct {
	Origin string    `json:"origin"`
	Text   string    `json:"text"`
	Status RefStatus `json:"status"`
}

// Dimension is a major research theme. Ordinal determines report section
// order; the narrative is written once by the synthesizer.
type Dimension struct {
	ID          string `json:"id"`
	Ordinal     int    `json:"ordinal"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Narrative   string `json:"narrative,omitempty"`
}

// Aspect is a specific research question within a dimension. The dimension
// back-reference is by ID only; an aspect never owns its dimension.
type Aspect struct {
	ID                  string       `json:"id"`
	DimensionID         string       `json:"dimension_id"`
	Ordinal             int          `json:"ordinal"`
	Title               string       `json:"title"`
	Reasoning           string       `json:"reasoning,omitempty"`
	KeyQuestions        []string     `json:"key_questions"`
	AnsweredByReference bool         `json:"answered_by_reference"`
	Status              AspectStatus `json:"status"`
	Findings            []Finding    `json:"findings,omitempty"`
	Summary             string       `json:"summary,omitempty"`
	NoEvidence          bool         `json:"no_evidence,omitempty"`
}

// Finding is one unit of evidence gathered during the research loop.
// Append-only; consumed unchanged by the synthesizer.
type Finding struct {
	Claim      string  `json:"claim"`
	SourceURL  string  `json:"source_url"`
	SourceName string  `json:"source_name,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Report is the final composed artifact. Sections follow dimension ordinal
// order. Versions are append-only; the store keeps every prior version.
type Report struct {
	SessionID        string     `json:"session_id"`
	Version          string     `json:"version"`
	Topic            string     `json:"topic"`
	ExecutiveSummary string     `json:"executive_summary"`
	Sections         []Section  `json:"sections"`
	Conclusions      string     `json:"conclusions"`
	Charts           []ChartRef `json:"charts,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Section is a single report section, bound to a dimension ordinal.
type Section struct {
	Ordinal int    `json:"ordinal"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// ChartRef points at a rendered chart image spliced into a section.
type ChartRef struct {
	SectionOrdinal int    `json:"section_ordinal"`
	Title          string `json:"title"`
	Locator        string `json:"locator"`
}

// Markdown renders the report into its canonical plain-text form.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# " + r.Topic + "\n\n")
	if r.ExecutiveSummary != "" {
		b.WriteString("## Executive Summary\n\n" + r.ExecutiveSummary + "\n\n")
	}
	for _, s := range r.Sections {
		b.WriteString("## " + s.Title + "\n\n" + s.Body + "\n\n")
	}
	if r.Conclusions != "" {
		b.WriteString("## Conclusions\n\n" + r.Conclusions + "\n")
	}
	return b.String()
}

// StatusRecord is the externally polled progress snapshot. The controller is
// the sole writer; collaborators only read.
type StatusRecord struct {
	SessionID    string            `json:"session_id"`
	Status       SessionStatus     `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	Progress     float64           `json:"progress"`
	Error        string            `json:"error,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	FormatErrors map[string]string `json:"format_errors,omitempty"`
	Version      string            `json:"report_version,omitempty"`
	CostUSD      float64           `json:"cost_usd"`
	TokensUsed   int64             `json:"tokens_used"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
