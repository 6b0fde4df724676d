package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/budget"
	fetchmodels "github.com/prismlab/prism/tools/webfetch/models"
)

// scriptedProvider routes prompts to canned responses. Scripts key on the
// operation marker each component embeds at the start of its prompt.
type scriptedProvider struct {
	mu    sync.Mutex
	route func(prompt string) (string, error)
	calls []string
}

func (p *scriptedProvider) Generate(_ context.Context, prompt, _ string, _ map[string]interface{}) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, prompt)
	p.mu.Unlock()
	return p.route(prompt)
}

func (p *scriptedProvider) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	text, err := p.Generate(ctx, prompt, model, options)
	if err != nil {
		return "", 0, 0, err
	}
	return text, 10, 20, nil
}

func (p *scriptedProvider) CalculateCost(_, _ int64, _ string) float64 { return 0.001 }

func (p *scriptedProvider) prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func testLLM(route func(prompt string) (string, error)) (*llmClient, *scriptedProvider) {
	p := &scriptedProvider{route: route}
	llm := newLLMClient(p, config.LLMRoutingConfig{Fallback: "test-model"}, budget.NewMonitor(budget.Config{}), nil)
	return llm, p
}

// memBlob is an in-memory blob store with optional per-locator failures.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	failFor func(locator string) error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Put(_ context.Context, locator string, data []byte) error {
	if b.failFor != nil {
		if err := b.failFor(locator); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[locator] = append([]byte(nil), data...)
	return nil
}

func (b *memBlob) Get(_ context.Context, locator string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[locator]
	if !ok {
		return nil, fmt.Errorf("no object at %s", locator)
	}
	return data, nil
}

func (b *memBlob) Presign(locator string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + locator, nil
}

func (b *memBlob) has(locator string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[locator]
	return ok
}

func (b *memBlob) locators() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	return out
}

// fakeFetcher serves canned page text for preprocessor tests.
type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Exec(_ context.Context, url string) (fetchmodels.Result, error) {
	text, ok := f.pages[url]
	if !ok {
		return fetchmodels.Result{}, fmt.Errorf("unreachable: %s", url)
	}
	return fetchmodels.Result{URL: url, Title: url, Text: text, Status: 200}, nil
}

func testSession(depth string) *Session {
	d, _ := ParseDepthProfile(depth)
	return &Session{
		ID:        "sess-1",
		Topic:     "solid state batteries",
		Type:      TypeBasicWeb,
		Depth:     d,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
	}
}
