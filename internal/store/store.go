// Package store persists session metadata, the append-only report version
// log, and artifact records in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/prismlab/prism/internal/research"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// SessionRecord is the persisted view of a research session.
type SessionRecord struct {
	ID          string
	Topic       string
	Context     string
	Type        string
	Depth       string
	Status      string
	Stage       string
	Progress    float64
	Error       string
	Version     string
	CostUSD     float64
	TokensUsed  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ReportVersionRecord is one entry in a session's append-only version log.
type ReportVersionRecord struct {
	ID        int64
	SessionID string
	Version   string
	Report    json.RawMessage
	CreatedAt time.Time
}

// ArtifactRecord points at one generated artifact in blob storage.
type ArtifactRecord struct {
	ID        int64
	SessionID string
	Version   string
	Format    string
	Locator   string
	SizeBytes int64
	CreatedAt time.Time
}

// CreateSession inserts a new session in pending state.
func (s *Store) CreateSession(ctx context.Context, sess research.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id required")
	}
	if strings.TrimSpace(sess.Topic) == "" {
		return fmt.Errorf("topic required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (id, topic, context, research_type, depth, status)
VALUES ($1,$2,$3,$4,$5,$6)
`, sess.ID, sess.Topic, nullableString(sess.Context), string(sess.Type), sess.Depth.String(), string(sess.Status))
	return err
}

// UpdateSessionStatus persists the durable progress snapshot for a session.
func (s *Store) UpdateSessionStatus(ctx context.Context, rec research.StatusRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("session id required")
	}
	var completed interface{}
	if rec.Status.Terminal() {
		completed = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE sessions
SET status=$2, stage=$3, progress=$4, error=$5, report_version=$6,
    cost_usd=$7, tokens_used=$8, updated_at=NOW(),
    completed_at=COALESCE(completed_at, $9)
WHERE id=$1
`, rec.SessionID, string(rec.Status), nullableString(rec.Stage), rec.Progress,
		nullableString(rec.Error), nullableString(rec.Version), rec.CostUSD, rec.TokensUsed, completed)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	} else if err != nil {
		return err
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, topic, COALESCE(context,''), research_type, depth, status,
       COALESCE(stage,''), progress, COALESCE(error,''), COALESCE(report_version,''),
       cost_usd, tokens_used, created_at, updated_at, completed_at
FROM sessions
WHERE id=$1
`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// AppendReportVersion adds the next entry to a session's version log and
// returns its label. Labels are v1, v2, ... in append order.
func (s *Store) AppendReportVersion(ctx context.Context, sessionID string, report json.RawMessage) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_versions WHERE session_id=$1`, sessionID,
	).Scan(&count); err != nil {
		return "", err
	}
	version := fmt.Sprintf("v%d", count+1)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO report_versions (session_id, version, report)
VALUES ($1,$2,$3)
`, sessionID, version, []byte(report)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return version, nil
}

// ListReportVersions returns a session's version log, oldest first.
func (s *Store) ListReportVersions(ctx context.Context, sessionID string) ([]ReportVersionRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, version, report, created_at
FROM report_versions
WHERE session_id=$1
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportVersionRecord
	for rows.Next() {
		var rec ReportVersionRecord
		var report []byte
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Version, &report, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Report = report
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetReportVersion fetches one labelled report version.
func (s *Store) GetReportVersion(ctx context.Context, sessionID, version string) (ReportVersionRecord, bool, error) {
	var rec ReportVersionRecord
	var report []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, session_id, version, report, created_at
FROM report_versions
WHERE session_id=$1 AND version=$2
`, sessionID, version).Scan(&rec.ID, &rec.SessionID, &rec.Version, &report, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return ReportVersionRecord{}, false, nil
	}
	if err != nil {
		return ReportVersionRecord{}, false, err
	}
	rec.Report = report
	return rec, true, nil
}

// InsertArtifact records one generated artifact.
func (s *Store) InsertArtifact(ctx context.Context, rec ArtifactRecord) (ArtifactRecord, error) {
	if strings.TrimSpace(rec.SessionID) == "" {
		return ArtifactRecord{}, fmt.Errorf("session id required")
	}
	if strings.TrimSpace(rec.Locator) == "" {
		return ArtifactRecord{}, fmt.Errorf("locator required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO artifacts (session_id, version, format, locator, size_bytes)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, session_id, COALESCE(version,''), format, locator, COALESCE(size_bytes,0), created_at
`, rec.SessionID, nullableString(rec.Version), rec.Format, rec.Locator, nullableInt64(rec.SizeBytes))
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Version, &rec.Format, &rec.Locator, &rec.SizeBytes, &rec.CreatedAt); err != nil {
		return ArtifactRecord{}, err
	}
	return rec, nil
}

// RecordArtifact is the controller-facing wrapper over InsertArtifact.
func (s *Store) RecordArtifact(ctx context.Context, sessionID, version, format, locator string, size int64) error {
	_, err := s.InsertArtifact(ctx, ArtifactRecord{
		SessionID: sessionID,
		Version:   version,
		Format:    format,
		Locator:   locator,
		SizeBytes: size,
	})
	return err
}

// ListArtifacts returns a session's artifacts, oldest first.
func (s *Store) ListArtifacts(ctx context.Context, sessionID string) ([]ArtifactRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, COALESCE(version,''), format, locator, COALESCE(size_bytes,0), created_at
FROM artifacts
WHERE session_id=$1
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		var rec ArtifactRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Version, &rec.Format, &rec.Locator, &rec.SizeBytes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scannable) (SessionRecord, error) {
	var rec SessionRecord
	var completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Topic, &rec.Context, &rec.Type, &rec.Depth, &rec.Status,
		&rec.Stage, &rec.Progress, &rec.Error, &rec.Version,
		&rec.CostUSD, &rec.TokensUsed, &rec.CreatedAt, &rec.UpdatedAt, &completed); err != nil {
		return SessionRecord{}, err
	}
	if completed.Valid {
		ts := completed.Time
		rec.CompletedAt = &ts
	}
	return rec, nil
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
