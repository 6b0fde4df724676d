package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// Decomposer splits a topic into exactly the configured number of research
// dimensions. A malformed model response gets one retry; a second failure is
// fatal for the session.
type Decomposer struct {
	llm    *llmClient
	logger *log.Logger
}

func NewDecomposer(llm *llmClient) *Decomposer {
	return &Decomposer{
		llm:    llm,
		logger: log.New(log.Writer(), "[DECOMP] ", log.LstdFlags),
	}
}

type decomposeResponse struct {
	Dimensions []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"dimensions"`
}

// Run produces the session's dimensions in presentation order.
func (d *Decomposer) Run(ctx context.Context, session *Session, refs []ReferenceDocument) ([]Dimension, error) {
	prompt := d.buildPrompt(session, refs)

	var parsed decomposeResponse
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		response, err := d.llm.generate(ctx, opDecompose, prompt)
		if err != nil {
			return nil, err
		}
		parsed = decomposeResponse{}
		if err := decodeJSON(response, &parsed); err != nil {
			lastErr = err
			d.logger.Printf("attempt %d: unparseable decomposition: %v", attempt+1, err)
			continue
		}
		if len(parsed.Dimensions) != session.Depth.Dimensions {
			lastErr = fmt.Errorf("got %d dimensions, want %d", len(parsed.Dimensions), session.Depth.Dimensions)
			d.logger.Printf("attempt %d: %v", attempt+1, lastErr)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, ErrStageViolation{Stage: "decompose", Detail: lastErr.Error()}
	}

	dims := make([]Dimension, 0, len(parsed.Dimensions))
	for i, item := range parsed.Dimensions {
		dims = append(dims, Dimension{
			ID:          uuid.New().String(),
			Ordinal:     i,
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
		})
	}
	d.logger.Printf("topic split into %d dimensions", len(dims))
	return dims, nil
}

func (d *Decomposer) buildPrompt(session *Session, refs []ReferenceDocument) string {
	var b strings.Builder
	b.WriteString("DECOMPOSE the research topic below into exactly ")
	fmt.Fprintf(&b, "%d distinct dimensions. A dimension is a major theme that can be investigated independently.\n\n", session.Depth.Dimensions)
	fmt.Fprintf(&b, "Topic: %s\n", session.Topic)
	if session.Context != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", session.Context)
	}
	if usable := usableReferences(refs); len(usable) > 0 {
		b.WriteString("\nReference material supplied by the requester:\n")
		for _, doc := range usable {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", doc.Origin, referenceExcerpt(doc.Text, 1500))
		}
	}
	b.WriteString("\nRespond with JSON only:\n")
	b.WriteString(`{"dimensions":[{"title":"...","description":"..."}]}`)
	return b.String()
}

func usableReferences(refs []ReferenceDocument) []ReferenceDocument {
	out := make([]ReferenceDocument, 0, len(refs))
	for _, r := range refs {
		if r.Status == RefOK && strings.TrimSpace(r.Text) != "" {
			out = append(out, r)
		}
	}
	return out
}

func referenceExcerpt(text string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes]) + "..."
}
