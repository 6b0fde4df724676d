package research

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prismlab/prism/internal/helpers"
)

// Synthesizer writes one narrative per dimension from its finished aspects.
// Dimensions synthesize concurrently; a dimension's narrative depends only on
// its own aspects, which are complete and immutable by the time this stage
// starts. Within a narrative, aspects always appear in ordinal order no
// matter which finished first.
type Synthesizer struct {
	llm    *llmClient
	logger *log.Logger
}

func NewSynthesizer(llm *llmClient) *Synthesizer {
	return &Synthesizer{
		llm:    llm,
		logger: log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
	}
}

// Run fills in Narrative on every dimension.
func (s *Synthesizer) Run(ctx context.Context, session *Session, dims []Dimension, aspects []Aspect) ([]Dimension, error) {
	byDim := aspectsByDimension(aspects)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := range dims {
		i := i
		g.Go(func() error {
			narrative, err := s.synthesizeDimension(gctx, session, dims[i], byDim[dims[i].ID])
			if err != nil {
				return fmt.Errorf("synthesizing dimension %q: %w", dims[i].Title, err)
			}
			mu.Lock()
			dims[i].Narrative = narrative
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Printf("synthesized %d dimension narratives", len(dims))
	return dims, nil
}

func (s *Synthesizer) synthesizeDimension(ctx context.Context, session *Session, dim Dimension, aspects []Aspect) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SYNTHESIZE a narrative for the dimension %q of the research topic %q.\n", dim.Title, session.Topic)
	b.WriteString("Weave the aspect summaries below into a coherent section in the order given. Cite claims inline as (source). Plain prose, no headings.\n\n")
	for _, a := range aspects {
		fmt.Fprintf(&b, "Aspect: %s\n", a.Title)
		switch {
		case a.Status == AspectSkipped:
			fmt.Fprintf(&b, "Answered from supplied references: %s\n\n", a.Summary)
		case a.NoEvidence:
			b.WriteString("No reliable evidence was found; say so briefly.\n\n")
		default:
			fmt.Fprintf(&b, "Summary: %s\n", a.Summary)
			for _, f := range a.Findings {
				fmt.Fprintf(&b, "  - %s [%s]\n", f.Claim, f.SourceName)
			}
			b.WriteString("\n")
		}
	}

	narrative, err := s.llm.generate(ctx, opSynthesis, b.String())
	if err != nil {
		return "", err
	}
	narrative = strings.TrimSpace(narrative)

	if sources := dimensionSources(aspects); len(sources) > 0 {
		narrative += "\n\nSources:\n" + strings.Join(helpers.FormatCitations(sources), "\n")
	}
	return narrative, nil
}

// aspectsByDimension groups aspects by dimension ID in ordinal order.
func aspectsByDimension(aspects []Aspect) map[string][]Aspect {
	byDim := make(map[string][]Aspect)
	for _, a := range aspects {
		byDim[a.DimensionID] = append(byDim[a.DimensionID], a)
	}
	for id := range byDim {
		group := byDim[id]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Ordinal < group[j].Ordinal })
		byDim[id] = group
	}
	return byDim
}

// dimensionSources collects the distinct sources cited across a dimension's
// aspects, preserving first-seen order.
func dimensionSources(aspects []Aspect) []helpers.Citation {
	seen := make(map[string]bool)
	var out []helpers.Citation
	n := 0
	for _, a := range aspects {
		for _, f := range a.Findings {
			if f.SourceURL == "" || seen[f.SourceURL] {
				continue
			}
			seen[f.SourceURL] = true
			n++
			out = append(out, helpers.Citation{
				SourceID: fmt.Sprintf("S%d", n),
				Title:    f.SourceName,
				URL:      f.SourceURL,
				Snippet:  f.Claim,
				Accessed: time.Now(),
			})
		}
	}
	return out
}
