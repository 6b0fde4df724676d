package research

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/prismlab/prism/tools/webfetch"
)

const maxPDFBytes = 20 << 20

// Preprocessor turns user-supplied references into plain-text documents before
// any LLM stage runs. References are handled one at a time; a reference that
// cannot be extracted is recorded as failed and never aborts the session.
type Preprocessor struct {
	fetcher  webfetch.Fetcher
	client   *http.Client
	maxChars int
	logger   *log.Logger
}

func NewPreprocessor(fetcher webfetch.Fetcher, maxChars int) *Preprocessor {
	if maxChars <= 0 {
		maxChars = webfetch.MaxCharsDefault
	}
	return &Preprocessor{
		fetcher:  fetcher,
		client:   &http.Client{Timeout: 30 * time.Second},
		maxChars: maxChars,
		logger:   log.New(log.Writer(), "[PREP] ", log.LstdFlags),
	}
}

// Run processes every reference in order and returns one document per input.
func (p *Preprocessor) Run(ctx context.Context, refs []ReferenceInput) []ReferenceDocument {
	docs := make([]ReferenceDocument, 0, len(refs))
	for i, ref := range refs {
		doc, err := p.process(ctx, ref)
		if err != nil {
			p.logger.Printf("reference %d (%s) failed: %v", i, ref.Origin(), err)
			docs = append(docs, ReferenceDocument{Origin: ref.Origin(), Status: RefFailed})
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

func (p *Preprocessor) process(ctx context.Context, ref ReferenceInput) (ReferenceDocument, error) {
	switch {
	case ref.Document != "":
		text := ref.Document
		if len(text) > p.maxChars {
			text = text[:p.maxChars]
		}
		return ReferenceDocument{Origin: ref.Origin(), Text: text, Status: RefOK}, nil
	case ref.URL != "":
		if strings.HasSuffix(strings.ToLower(ref.URL), ".pdf") {
			return p.processPDF(ctx, ref)
		}
		res, err := p.fetcher.Exec(ctx, ref.URL)
		if err != nil {
			return ReferenceDocument{}, fmt.Errorf("fetching %s: %w", ref.URL, err)
		}
		if strings.TrimSpace(res.Text) == "" {
			return ReferenceDocument{}, fmt.Errorf("no extractable text at %s", ref.URL)
		}
		return ReferenceDocument{Origin: ref.Origin(), Text: res.Text, Status: RefOK}, nil
	default:
		return ReferenceDocument{}, fmt.Errorf("reference has neither url nor document")
	}
}

func (p *Preprocessor) processPDF(ctx context.Context, ref ReferenceInput) (ReferenceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return ReferenceDocument{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ReferenceDocument{}, fmt.Errorf("downloading %s: %w", ref.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ReferenceDocument{}, fmt.Errorf("downloading %s: status %d", ref.URL, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return ReferenceDocument{}, fmt.Errorf("reading %s: %w", ref.URL, err)
	}
	text, err := extractPDFText(raw)
	if err != nil {
		return ReferenceDocument{}, fmt.Errorf("parsing pdf %s: %w", ref.URL, err)
	}
	if len(text) > p.maxChars {
		text = text[:p.maxChars]
	}
	return ReferenceDocument{Origin: ref.Origin(), Text: text, Status: RefOK}, nil
}

func extractPDFText(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return text, nil
}
