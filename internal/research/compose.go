package research

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Composer assembles the final report once every dimension narrative exists.
// Sections follow dimension ordinal order; the executive summary and
// conclusions are written last, with the whole report in view.
type Composer struct {
	llm    *llmClient
	logger *log.Logger
}

func NewComposer(llm *llmClient) *Composer {
	return &Composer{
		llm:    llm,
		logger: log.New(log.Writer(), "[COMPOSE] ", log.LstdFlags),
	}
}

type composeResponse struct {
	ExecutiveSummary string `json:"executive_summary"`
	Conclusions      string `json:"conclusions"`
}

// Run builds the report under the given version label.
func (c *Composer) Run(ctx context.Context, session *Session, dims []Dimension, version string) (Report, error) {
	ordered := make([]Dimension, len(dims))
	copy(ordered, dims)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })

	for _, d := range ordered {
		if strings.TrimSpace(d.Narrative) == "" {
			return Report{}, ErrStageViolation{Stage: "compose", Detail: fmt.Sprintf("dimension %q has no narrative", d.Title)}
		}
	}

	sections := make([]Section, 0, len(ordered))
	for _, d := range ordered {
		sections = append(sections, Section{Ordinal: d.Ordinal, Title: d.Title, Body: d.Narrative})
	}

	framing, err := c.frame(ctx, session, sections)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		SessionID:        session.ID,
		Version:          version,
		Topic:            session.Topic,
		ExecutiveSummary: framing.ExecutiveSummary,
		Sections:         sections,
		Conclusions:      framing.Conclusions,
		CreatedAt:        time.Now(),
	}
	c.logger.Printf("composed report %s with %d sections", version, len(sections))
	return report, nil
}

func (c *Composer) frame(ctx context.Context, session *Session, sections []Section) (composeResponse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "COMPOSE the framing for a research report on %q.\n", session.Topic)
	b.WriteString("Given the sections below, write an executive summary and a conclusions paragraph.\n\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Title, referenceExcerpt(s.Body, 2000))
	}
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"executive_summary":"...","conclusions":"..."}`)

	response, err := c.llm.generate(ctx, opCompose, b.String())
	if err != nil {
		return composeResponse{}, err
	}
	var parsed composeResponse
	if err := decodeJSON(response, &parsed); err != nil {
		return composeResponse{}, ErrStageViolation{Stage: "compose", Detail: err.Error()}
	}
	if strings.TrimSpace(parsed.ExecutiveSummary) == "" {
		return composeResponse{}, ErrStageViolation{Stage: "compose", Detail: "empty executive summary"}
	}
	return parsed, nil
}
