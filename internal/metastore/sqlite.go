package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps content documents as JSON objects so that merge writes
// preserve fields owned by other writers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer avoids SQLITE_BUSY between the lease and merge transactions
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// BootstrapSQLite creates tables if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content (
  hub_id      TEXT NOT NULL,
  content_id  TEXT NOT NULL,
  doc         JSON NOT NULL DEFAULT '{}',
  updated_at  TEXT NOT NULL,
  PRIMARY KEY (hub_id, content_id)
);`,
		`CREATE TABLE IF NOT EXISTS render_leases (
  lease_key   TEXT PRIMARY KEY,
  holder      TEXT NOT NULL,
  expires_at  INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS render_jobs (
  job_id      TEXT PRIMARY KEY,
  hub_id      TEXT NOT NULL,
  content_id  TEXT NOT NULL,
  status      TEXT NOT NULL,
  record      JSON NOT NULL,
  started_at  TEXT NOT NULL,
  finished_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS render_jobs_content_idx ON render_jobs(hub_id, content_id, started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MergeContent sets the renderer fields on the content document, creating the
// document when absent.
func (s *SQLiteStore) MergeContent(ctx context.Context, hubID, contentID string, rec models.ContentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc := map[string]interface{}{}
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM content WHERE hub_id = ? AND content_id = ?`, hubID, contentID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read content %s/%s: %w", hubID, contentID, err)
	default:
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("decode content %s/%s: %w", hubID, contentID, err)
		}
	}

	for k, v := range rec.Fields() {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO content (hub_id, content_id, doc, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(hub_id, content_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		hubID, contentID, string(merged), s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write content %s/%s: %w", hubID, contentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// PutContent replaces the whole content document. It seeds fields owned by
// other writers, as the admin console does in production.
func (s *SQLiteStore) PutContent(ctx context.Context, hubID, contentID string, doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO content (hub_id, content_id, doc, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(hub_id, content_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		hubID, contentID, string(raw), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write content %s/%s: %w", hubID, contentID, err)
	}
	return nil
}

// GetContent returns the content document, or nil when it does not exist.
func (s *SQLiteStore) GetContent(ctx context.Context, hubID, contentID string) (map[string]interface{}, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM content WHERE hub_id = ? AND content_id = ?`, hubID, contentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read content %s/%s: %w", hubID, contentID, err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode content %s/%s: %w", hubID, contentID, err)
	}
	return doc, nil
}

// AcquireLease takes the lease when it is free, expired or already ours.
func (s *SQLiteStore) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO render_leases (lease_key, holder, expires_at) VALUES (?, ?, ?)
ON CONFLICT(lease_key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
WHERE render_leases.expires_at <= ? OR render_leases.holder = excluded.holder`,
		key, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("lease %s: %w", key, models.ErrLeaseHeld)
	}
	return nil
}

// ReleaseLease drops the lease if holder still owns it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, key, holder string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM render_leases WHERE lease_key = ? AND holder = ?`, key, holder); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) RecordJob(ctx context.Context, job *models.RenderJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	var finished sql.NullString
	if !job.FinishedAt.IsZero() {
		finished = sql.NullString{String: job.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO render_jobs (job_id, hub_id, content_id, status, record, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET status = excluded.status, record = excluded.record, finished_at = excluded.finished_at`,
		job.JobID, job.HubID, job.ContentID, job.Status, string(raw),
		job.StartedAt.UTC().Format(time.RFC3339Nano), finished)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.JobID, err)
	}
	return nil
}

// Jobs returns the recorded jobs for a content item, oldest first.
func (s *SQLiteStore) Jobs(ctx context.Context, hubID, contentID string) ([]models.RenderJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM render_jobs WHERE hub_id = ? AND content_id = ? ORDER BY started_at, job_id`, hubID, contentID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.RenderJob
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job models.RenderJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
