package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InMemoryMetadata is a process-local MetadataStore for the one-shot CLI and
// tests. Report versions keep the same v1, v2, ... labelling as the database.
type InMemoryMetadata struct {
	mu        sync.Mutex
	sessions  map[string]Session
	statuses  map[string]StatusRecord
	reports   map[string][]json.RawMessage
	artifacts map[string][]ArtifactEntry
}

// ArtifactEntry mirrors the persisted artifact record.
type ArtifactEntry struct {
	Version string
	Format  string
	Locator string
	Size    int64
}

func NewInMemoryMetadata() *InMemoryMetadata {
	return &InMemoryMetadata{
		sessions:  make(map[string]Session),
		statuses:  make(map[string]StatusRecord),
		reports:   make(map[string][]json.RawMessage),
		artifacts: make(map[string][]ArtifactEntry),
	}
}

func (m *InMemoryMetadata) CreateSession(_ context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	m.sessions[sess.ID] = sess
	return nil
}

func (m *InMemoryMetadata) UpdateSessionStatus(_ context.Context, rec StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[rec.SessionID]; !exists {
		return fmt.Errorf("session %s not found", rec.SessionID)
	}
	m.statuses[rec.SessionID] = rec
	return nil
}

func (m *InMemoryMetadata) AppendReportVersion(_ context.Context, sessionID string, report json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[sessionID] = append(m.reports[sessionID], report)
	return fmt.Sprintf("v%d", len(m.reports[sessionID])), nil
}

func (m *InMemoryMetadata) RecordArtifact(_ context.Context, sessionID, version, format, locator string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[sessionID] = append(m.artifacts[sessionID], ArtifactEntry{
		Version: version,
		Format:  format,
		Locator: locator,
		Size:    size,
	})
	return nil
}

// Status returns the latest persisted snapshot for a session.
func (m *InMemoryMetadata) Status(sessionID string) (StatusRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.statuses[sessionID]
	return rec, ok
}

// Artifacts returns the recorded artifacts for a session.
func (m *InMemoryMetadata) Artifacts(sessionID string) []ArtifactEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ArtifactEntry, len(m.artifacts[sessionID]))
	copy(out, m.artifacts[sessionID])
	return out
}

// Versions returns the stored report payloads in append order.
func (m *InMemoryMetadata) Versions(sessionID string) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]json.RawMessage, len(m.reports[sessionID]))
	copy(out, m.reports[sessionID])
	return out
}
