package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/tools/gateway"
)

// memSink records every persisted status snapshot in order.
type memSink struct {
	mu   sync.Mutex
	recs map[string][]StatusRecord
}

func newMemSink() *memSink {
	return &memSink{recs: make(map[string][]StatusRecord)}
}

func (s *memSink) Put(_ context.Context, rec StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.SessionID] = append(s.recs[rec.SessionID], rec)
	return nil
}

func (s *memSink) latest(sessionID string) (StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[sessionID]
	if len(recs) == 0 {
		return StatusRecord{}, false
	}
	return recs[len(recs)-1], true
}

func (s *memSink) history(sessionID string) []StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatusRecord, len(s.recs[sessionID]))
	copy(out, s.recs[sessionID])
	return out
}

func pipelineProvider() *scriptedProvider {
	return &scriptedProvider{route: func(prompt string) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "DECOMPOSE"):
			return validDecomposition(2), nil
		case strings.HasPrefix(prompt, "PLAN"):
			return validPlan(2, false), nil
		case strings.HasPrefix(prompt, "REFINE"):
			return `{"aspects":[]}`, nil
		case strings.Contains(prompt, "Extract factual findings"):
			return `{"findings":[{"claim":"a fact","url":"https://a.example/x","confidence":0.9}],"sufficient":true}`, nil
		case strings.HasPrefix(prompt, "RESEARCH summary"):
			return "aspect summary", nil
		case strings.HasPrefix(prompt, "SYNTHESIZE"):
			return "dimension narrative", nil
		case strings.HasPrefix(prompt, "COMPOSE"):
			return `{"executive_summary":"es","conclusions":"c"}`, nil
		default:
			return "", nil
		}
	}}
}

func newTestController(p *scriptedProvider, blobs *memBlob, meta *InMemoryMetadata, sink *memSink) *Controller {
	gw := gateway.New(testGatewayConfig(), nil,
		searchStub("https://a.example/x"), extractStub("page text about the topic"))
	cfg := config.ResearchConfig{
		DefaultDepth:        "2x2",
		MaxIterations:       2,
		SearchResultsPerHop: 3,
		ExtractsPerHop:      2,
		CoverageFloor:       0.3,
		StageTimeout:        30 * time.Second,
	}
	return NewController(cfg, p, config.LLMRoutingConfig{Fallback: "m"}, gw,
		NewPreprocessor(&fakeFetcher{}, 0), blobs, meta, sink, nil)
}

func TestControllerStageTableShape(t *testing.T) {
	t.Parallel()
	c := newTestController(pipelineProvider(), newMemBlob(), NewInMemoryMetadata(), newMemSink())

	stages := c.stages()
	byName := make(map[string]stage, len(stages))
	total := 0.0
	for _, st := range stages {
		byName[st.name] = st
		total += st.weight
	}
	if total != 100 {
		t.Fatalf("stage weights sum to %v, want 100", total)
	}
	for _, name := range []string{"refine", "compose"} {
		if !byName[name].barrier {
			t.Errorf("%s must be a barrier stage", name)
		}
	}
	for _, name := range []string{"plan", "synthesize"} {
		if !byName[name].parallel {
			t.Errorf("%s must be a parallel stage", name)
		}
	}
	if byName["research"].parallel {
		t.Error("research is strictly sequential")
	}
}

func waitTerminal(t *testing.T, sink *memSink, sessionID string) StatusRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := sink.latest(sessionID); ok && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal status")
	return StatusRecord{}
}

func TestControllerRunsFullPipeline(t *testing.T) {
	t.Parallel()
	blobs := newMemBlob()
	meta := NewInMemoryMetadata()
	sink := newMemSink()
	c := newTestController(pipelineProvider(), blobs, meta, sink)

	session, err := c.Launch(SessionRequest{Topic: "solid state batteries", Formats: []string{"markdown", "html"}})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	rec := waitTerminal(t, sink, session.ID)
	if rec.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", rec.Status, rec.Error)
	}
	if rec.Progress != 1 {
		t.Fatalf("expected progress 1, got %v", rec.Progress)
	}
	if rec.Version != "v1" {
		t.Fatalf("expected report version v1, got %q", rec.Version)
	}
	if rec.CostUSD <= 0 || rec.TokensUsed <= 0 {
		t.Fatalf("expected tracked spend, got cost=%v tokens=%v", rec.CostUSD, rec.TokensUsed)
	}
	for _, format := range []string{FormatMarkdown, FormatHTML} {
		locator, ok := rec.Artifacts[format]
		if !ok {
			t.Fatalf("missing %s artifact: %v", format, rec.Artifacts)
		}
		if !blobs.has(locator) {
			t.Fatalf("artifact %s not in blob store", locator)
		}
	}
	if got := len(meta.Versions(session.ID)); got != 1 {
		t.Fatalf("expected 1 stored report version, got %d", got)
	}
}

func TestControllerReportsFormatFailures(t *testing.T) {
	t.Parallel()
	blobs := newMemBlob()
	blobs.failFor = func(locator string) error {
		if strings.HasSuffix(locator, ".pdf") {
			return fmt.Errorf("disk full")
		}
		return nil
	}
	sink := newMemSink()
	c := newTestController(pipelineProvider(), blobs, NewInMemoryMetadata(), sink)

	session, err := c.Launch(SessionRequest{Topic: "solid state batteries", Formats: []string{"markdown", "pdf"}})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	rec := waitTerminal(t, sink, session.ID)
	if rec.Status != StatusCompleted {
		t.Fatalf("a failing format must not fail the session: %s (%s)", rec.Status, rec.Error)
	}
	if rec.FormatErrors["pdf"] == "" {
		t.Fatalf("pdf failure missing from status record: %+v", rec.FormatErrors)
	}
	if _, ok := rec.Artifacts[FormatMarkdown]; !ok {
		t.Fatalf("markdown artifact missing: %v", rec.Artifacts)
	}
}

func TestControllerProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	blobs := newMemBlob()
	meta := NewInMemoryMetadata()
	sink := newMemSink()
	c := newTestController(pipelineProvider(), blobs, meta, sink)

	session, err := c.Launch(SessionRequest{Topic: "progress check"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitTerminal(t, sink, session.ID)

	last := -1.0
	for _, rec := range sink.history(session.ID) {
		if rec.Progress < last {
			t.Fatalf("progress went backwards: %v after %v", rec.Progress, last)
		}
		last = rec.Progress
	}
	if last != 1 {
		t.Fatalf("final progress %v, want 1", last)
	}
}

func TestControllerCancellationMidResearch(t *testing.T) {
	t.Parallel()
	blobs := newMemBlob()
	meta := NewInMemoryMetadata()
	sink := newMemSink()

	var c *Controller
	var sessionID string
	var once sync.Once
	p := pipelineProvider()
	base := p.route
	p.route = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Extract factual findings") {
			once.Do(func() { c.Cancel(context.Background(), sessionID) })
			return `{"findings":[],"sufficient":false}`, nil
		}
		return base(prompt)
	}
	c = newTestController(p, blobs, meta, sink)

	session, err := c.Launch(SessionRequest{Topic: "to be cancelled"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	sessionID = session.ID

	rec := waitTerminal(t, sink, session.ID)
	if rec.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", rec.Status, rec.Error)
	}

	sawCancelling := false
	for _, r := range sink.history(session.ID) {
		if r.Status == StatusCancelling {
			sawCancelling = true
		}
	}
	if !sawCancelling {
		t.Fatal("cancellation must pass through the cancelling status")
	}

	locator, ok := rec.Artifacts["partial"]
	if !ok {
		t.Fatalf("expected partial artifact, got %v", rec.Artifacts)
	}
	if !blobs.has(locator) {
		t.Fatal("partial artifact not uploaded")
	}
}

func TestControllerStageFailureLandsInFailed(t *testing.T) {
	t.Parallel()
	blobs := newMemBlob()
	meta := NewInMemoryMetadata()
	sink := newMemSink()

	p := pipelineProvider()
	base := p.route
	p.route = func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "DECOMPOSE") {
			return validDecomposition(5), nil // contract asks for 2
		}
		return base(prompt)
	}
	c := newTestController(p, blobs, meta, sink)

	session, err := c.Launch(SessionRequest{Topic: "doomed"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	rec := waitTerminal(t, sink, session.ID)
	if rec.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if !strings.Contains(rec.Error, "decompose") {
		t.Fatalf("error should attribute the stage: %q", rec.Error)
	}
}

func TestControllerRejectsBadRequests(t *testing.T) {
	t.Parallel()
	c := newTestController(pipelineProvider(), newMemBlob(), NewInMemoryMetadata(), newMemSink())

	if _, err := c.Launch(SessionRequest{}); err == nil {
		t.Fatal("empty topic must be rejected")
	}
	if _, err := c.Launch(SessionRequest{Topic: "t", Depth: "9x9"}); err == nil {
		t.Fatal("out-of-range depth must be rejected")
	}
}

func TestControllerCancelUnknownSession(t *testing.T) {
	t.Parallel()
	c := newTestController(pipelineProvider(), newMemBlob(), NewInMemoryMetadata(), newMemSink())
	if c.Cancel(context.Background(), "missing") {
		t.Fatal("cancelling a non-running session must report false")
	}
}
