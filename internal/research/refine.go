package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/blevesearch/bleve"
)

// Refiner is the barrier between planning and research. It checks every
// aspect against the actual reference material, whether or not the planner
// speculatively flagged it: a BM25 pass over an in-memory index gates the
// candidates, then the model gives the final verdict with the matching
// passages in front of it. Confirmed aspects are skipped with the reference
// answer as their summary; everything else goes back to pending. The
// planner's answered_by_reference flag is only a hint and carries no weight
// here.
type Refiner struct {
	llm           *llmClient
	coverageFloor float64
	logger        *log.Logger
}

func NewRefiner(llm *llmClient, coverageFloor float64) *Refiner {
	return &Refiner{
		llm:           llm,
		coverageFloor: coverageFloor,
		logger:        log.New(log.Writer(), "[REFINE] ", log.LstdFlags),
	}
}

type refChunk struct {
	Origin string `json:"origin"`
	Text   string `json:"text"`
}

type refineCandidate struct {
	idx      int
	passages []refChunk
}

type refineResponse struct {
	Aspects []struct {
		ID                  string `json:"id"`
		AnsweredByReference bool   `json:"answered_by_reference"`
		ReferenceAnswer     string `json:"reference_answer"`
	} `json:"aspects"`
}

// Run mutates aspects in place. It never adds or removes aspects.
func (r *Refiner) Run(ctx context.Context, aspects []Aspect, refs []ReferenceDocument) ([]Aspect, error) {
	usable := usableReferences(refs)
	if len(usable) == 0 || len(aspects) == 0 {
		for i := range aspects {
			aspects[i].AnsweredByReference = false
			aspects[i].Status = AspectPending
		}
		return aspects, nil
	}

	index, chunks, err := indexReferences(usable)
	if err != nil {
		return nil, fmt.Errorf("indexing references: %w", err)
	}
	defer index.Close()

	var confirmable []refineCandidate
	for i := range aspects {
		coverage, hits, err := r.coverage(index, chunks, aspects[i])
		if err != nil {
			return nil, fmt.Errorf("scoring aspect %q: %w", aspects[i].Title, err)
		}
		if coverage < r.coverageFloor {
			r.logger.Printf("aspect %q coverage %.2f below floor %.2f, keeping for research", aspects[i].Title, coverage, r.coverageFloor)
			aspects[i].AnsweredByReference = false
			aspects[i].Status = AspectPending
			continue
		}
		confirmable = append(confirmable, refineCandidate{idx: i, passages: hits})
	}
	if len(confirmable) == 0 {
		return aspects, nil
	}

	prompt := r.buildPrompt(aspects, confirmable)
	response, err := r.llm.generate(ctx, opRefine, prompt)
	if err != nil {
		return nil, err
	}
	var parsed refineResponse
	if err := decodeJSON(response, &parsed); err != nil {
		// A broken verdict must not lose research coverage: fall back to
		// researching every candidate.
		r.logger.Printf("unparseable refine verdict, researching all candidates: %v", err)
		for _, c := range confirmable {
			aspects[c.idx].AnsweredByReference = false
			aspects[c.idx].Status = AspectPending
		}
		return aspects, nil
	}

	verdicts := make(map[string]struct {
		confirmed bool
		answer    string
	}, len(parsed.Aspects))
	for _, v := range parsed.Aspects {
		verdicts[v.ID] = struct {
			confirmed bool
			answer    string
		}{v.AnsweredByReference, strings.TrimSpace(v.ReferenceAnswer)}
	}

	skipped := 0
	for _, c := range confirmable {
		a := &aspects[c.idx]
		v, ok := verdicts[a.ID]
		if ok && v.confirmed && v.answer != "" {
			a.AnsweredByReference = true
			a.Status = AspectSkipped
			a.Summary = v.answer
			skipped++
		} else {
			a.AnsweredByReference = false
			a.Status = AspectPending
		}
	}
	r.logger.Printf("refined %d candidates, %d answered by references", len(confirmable), skipped)
	return aspects, nil
}

func indexReferences(refs []ReferenceDocument) (bleve.Index, map[string]refChunk, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, nil, err
	}
	chunks := make(map[string]refChunk)
	for i, doc := range refs {
		for j, part := range chunkText(doc.Text, 1200) {
			id := fmt.Sprintf("%d-%d", i, j)
			chunk := refChunk{Origin: doc.Origin, Text: part}
			chunks[id] = chunk
			if err := index.Index(id, chunk); err != nil {
				index.Close()
				return nil, nil, err
			}
		}
	}
	return index, chunks, nil
}

// coverage runs a BM25 query for the aspect and squashes the top score into
// 0..1 so the floor is a stable knob across corpora sizes.
func (r *Refiner) coverage(index bleve.Index, chunks map[string]refChunk, a Aspect) (float64, []refChunk, error) {
	q := a.Title + " " + strings.Join(a.KeyQuestions, " ")
	query := bleve.NewMatchQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, 3, 0, false)
	res, err := index.Search(searchReq)
	if err != nil {
		return 0, nil, err
	}
	if len(res.Hits) == 0 {
		return 0, nil, nil
	}
	var passages []refChunk
	for _, hit := range res.Hits {
		if c, ok := chunks[hit.ID]; ok {
			passages = append(passages, c)
		}
	}
	top := res.Hits[0].Score
	return top / (top + 1), passages, nil
}

func (r *Refiner) buildPrompt(aspects []Aspect, confirmable []refineCandidate) string {
	var b strings.Builder
	b.WriteString("REFINE: decide for each aspect below whether the quoted reference passages fully answer it.\n")
	b.WriteString("Only confirm when the passages genuinely answer the key questions; when they do, write the answer from the passages alone.\n\n")
	for _, c := range confirmable {
		a := aspects[c.idx]
		fmt.Fprintf(&b, "Aspect id=%s: %s\n", a.ID, a.Title)
		for _, q := range a.KeyQuestions {
			fmt.Fprintf(&b, "  - %s\n", q)
		}
		for _, p := range c.passages {
			fmt.Fprintf(&b, "  [%s] %s\n", p.Origin, referenceExcerpt(p.Text, 800))
		}
		b.WriteString("\n")
	}
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"aspects":[{"id":"...","answered_by_reference":true,"reference_answer":"..."}]}`)
	return b.String()
}

func chunkText(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
