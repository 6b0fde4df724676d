package research

import (
	"context"
	"strings"
	"testing"
)

func TestPreprocessorKeepsGoingPastFailures(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://a.example/page": "battery chemistry overview",
		"https://b.example/page": "manufacturing cost analysis",
	}}
	p := NewPreprocessor(fetcher, 0)

	docs := p.Run(context.Background(), []ReferenceInput{
		{URL: "https://a.example/page"},
		{URL: "https://dead.example/404"},
		{URL: "https://b.example/page"},
	})

	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	if docs[0].Status != RefOK || docs[0].Text != "battery chemistry overview" {
		t.Fatalf("unexpected first doc: %+v", docs[0])
	}
	if docs[1].Status != RefFailed {
		t.Fatalf("expected second doc failed, got %+v", docs[1])
	}
	if docs[1].Text != "" {
		t.Fatalf("failed doc should carry no text, got %q", docs[1].Text)
	}
	if docs[2].Status != RefOK {
		t.Fatalf("failure must not abort later references: %+v", docs[2])
	}
}

func TestPreprocessorInlineDocument(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(&fakeFetcher{}, 10)

	docs := p.Run(context.Background(), []ReferenceInput{
		{Name: "notes", Document: "this inline text is longer than ten chars"},
	})

	if len(docs) != 1 || docs[0].Status != RefOK {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	if docs[0].Origin != "notes" {
		t.Fatalf("expected origin from name, got %q", docs[0].Origin)
	}
	if len(docs[0].Text) != 10 {
		t.Fatalf("expected text truncated to max chars, got %d", len(docs[0].Text))
	}
}

func TestPreprocessorEmptyReference(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(&fakeFetcher{}, 0)
	docs := p.Run(context.Background(), []ReferenceInput{{}})
	if len(docs) != 1 || docs[0].Status != RefFailed {
		t.Fatalf("expected failed doc for empty reference, got %+v", docs)
	}
}

func TestUsableReferencesFiltersFailed(t *testing.T) {
	t.Parallel()
	refs := []ReferenceDocument{
		{Origin: "a", Text: "content", Status: RefOK},
		{Origin: "b", Status: RefFailed},
		{Origin: "c", Text: "   ", Status: RefOK},
	}
	usable := usableReferences(refs)
	if len(usable) != 1 || usable[0].Origin != "a" {
		t.Fatalf("unexpected usable refs: %+v", usable)
	}
	if !strings.Contains(usable[0].Text, "content") {
		t.Fatalf("unexpected text: %q", usable[0].Text)
	}
}
