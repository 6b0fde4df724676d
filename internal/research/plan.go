package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Planner expands each dimension into its aspects. Dimensions are planned
// concurrently; each worker touches only its own dimension's slice slot, so
// results land in dimension order regardless of completion order.
type Planner struct {
	llm    *llmClient
	logger *log.Logger
}

func NewPlanner(llm *llmClient) *Planner {
	return &Planner{
		llm:    llm,
		logger: log.New(log.Writer(), "[PLAN] ", log.LstdFlags),
	}
}

type planResponse struct {
	Aspects []struct {
		Title               string   `json:"title"`
		Reasoning           string   `json:"reasoning"`
		KeyQuestions        []string `json:"key_questions"`
		AnsweredByReference bool     `json:"answered_by_reference"`
	} `json:"aspects"`
}

// Run plans every dimension and returns the combined aspect list, ordered by
// dimension ordinal then aspect ordinal.
func (p *Planner) Run(ctx context.Context, session *Session, dims []Dimension, refs []ReferenceDocument) ([]Aspect, error) {
	perDim := make([][]Aspect, len(dims))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range dims {
		i, dim := i, dim
		g.Go(func() error {
			aspects, err := p.planDimension(gctx, session, dim, refs)
			if err != nil {
				return fmt.Errorf("planning dimension %q: %w", dim.Title, err)
			}
			mu.Lock()
			perDim[i] = aspects
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Aspect
	for _, aspects := range perDim {
		all = append(all, aspects...)
	}
	p.logger.Printf("planned %d aspects across %d dimensions", len(all), len(dims))
	return all, nil
}

func (p *Planner) planDimension(ctx context.Context, session *Session, dim Dimension, refs []ReferenceDocument) ([]Aspect, error) {
	prompt := p.buildPrompt(session, dim, refs)

	var parsed planResponse
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		response, err := p.llm.generate(ctx, opPlan, prompt)
		if err != nil {
			return nil, err
		}
		parsed = planResponse{}
		if err := decodeJSON(response, &parsed); err != nil {
			lastErr = err
			continue
		}
		if len(parsed.Aspects) != session.Depth.AspectsPerDimension {
			lastErr = fmt.Errorf("got %d aspects, want %d", len(parsed.Aspects), session.Depth.AspectsPerDimension)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, ErrStageViolation{Stage: "plan", Detail: lastErr.Error()}
	}

	aspects := make([]Aspect, 0, len(parsed.Aspects))
	for i, item := range parsed.Aspects {
		aspects = append(aspects, Aspect{
			ID:                  uuid.New().String(),
			DimensionID:         dim.ID,
			Ordinal:             i,
			Title:               strings.TrimSpace(item.Title),
			Reasoning:           strings.TrimSpace(item.Reasoning),
			KeyQuestions:        item.KeyQuestions,
			AnsweredByReference: item.AnsweredByReference,
			Status:              AspectPending,
		})
	}
	return aspects, nil
}

func (p *Planner) buildPrompt(session *Session, dim Dimension, refs []ReferenceDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PLAN the research dimension %q into exactly %d aspects.\n", dim.Title, session.Depth.AspectsPerDimension)
	b.WriteString("An aspect is a concrete question answerable by focused web research.\n\n")
	fmt.Fprintf(&b, "Overall topic: %s\n", session.Topic)
	fmt.Fprintf(&b, "Dimension description: %s\n", dim.Description)
	if usable := usableReferences(refs); len(usable) > 0 {
		b.WriteString("\nReference material already in hand. Mark an aspect answered_by_reference when this material plausibly answers it:\n")
		for _, doc := range usable {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", doc.Origin, referenceExcerpt(doc.Text, 1000))
		}
	}
	b.WriteString("\nRespond with JSON only:\n")
	b.WriteString(`{"aspects":[{"title":"...","reasoning":"...","key_questions":["..."],"answered_by_reference":false}]}`)
	return b.String()
}
