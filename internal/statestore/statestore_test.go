package statestore

import (
	"context"
	"testing"

	"github.com/prismlab/prism/internal/research"
)

func TestInMemoryPutGet(t *testing.T) {
	t.Parallel()
	st := NewInMemory()
	ctx := context.Background()

	rec := research.StatusRecord{
		SessionID: "sess-1",
		Status:    research.StatusProcessing,
		Stage:     "research",
		Progress:  0.4,
	}
	if err := st.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := st.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}
	if got.Stage != "research" || got.Progress != 0.4 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestInMemoryPutReplacesSnapshot(t *testing.T) {
	t.Parallel()
	st := NewInMemory()
	ctx := context.Background()

	first := research.StatusRecord{
		SessionID: "sess-1",
		Status:    research.StatusProcessing,
		Stage:     "decompose",
		Error:     "transient",
	}
	if err := st.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}
	second := research.StatusRecord{
		SessionID: "sess-1",
		Status:    research.StatusCompleted,
		Progress:  1,
	}
	if err := st.Put(ctx, second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := st.Get(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Stage != "" || got.Error != "" {
		t.Fatalf("stale fields survived replacement: %+v", got)
	}
	if got.Status != research.StatusCompleted {
		t.Fatalf("unexpected status %q", got.Status)
	}
}

func TestInMemoryGetMissing(t *testing.T) {
	t.Parallel()
	st := NewInMemory()

	_, ok, err := st.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected missing session")
	}
}

func TestKeyNamespacesSessions(t *testing.T) {
	t.Parallel()
	if key("abc") != "session:abc" {
		t.Fatalf("unexpected key %q", key("abc"))
	}
}
