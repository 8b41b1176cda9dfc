// Package history keeps an append-only journal of persisted scene
// revisions in SQLite.
//
// Each successful mutation records the document id, the resulting revision
// hash, the operation that produced it and the changed element ids. The
// journal is advisory: the scene files remain the source of truth and the
// service keeps working when the journal is unavailable.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Limits for List.
const (
	DefaultLimit = 20
	MaxLimit     = 500
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Entry is one journaled revision.
type Entry struct {
	ID           int64     `json:"id"`
	DocumentID   string    `json:"documentId"`
	RevisionHash string    `json:"revisionHash"`
	Operation    string    `json:"operation"`
	ChangedIDs   []string  `json:"changedIds"`
	ElementCount int       `json:"elementCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Journal is the SQLite-backed revision log.
type Journal struct {
	db *sql.DB
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Open opens (or creates) the journal database at path and runs migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS revisions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id   TEXT    NOT NULL,
			revision_hash TEXT    NOT NULL,
			operation     TEXT    NOT NULL,
			changed_ids   TEXT    NOT NULL DEFAULT '[]',
			element_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_revisions_document ON revisions(document_id, id DESC);
	`)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Record appends e and returns its row id. CreatedAt defaults to now.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	if e.DocumentID == "" {
		return 0, fmt.Errorf("history: document id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	changed := e.ChangedIDs
	if changed == nil {
		changed = []string{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return 0, fmt.Errorf("history: encode changed ids: %w", err)
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO revisions (document_id, revision_hash, operation, changed_ids, element_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.DocumentID, e.RevisionHash, e.Operation, string(changedJSON), e.ElementCount,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("history: insert revision: %w", err)
	}
	return res.LastInsertId()
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// List returns up to limit entries for a document, newest first. A
// non-positive limit means DefaultLimit; limits above MaxLimit are capped.
func (j *Journal) List(ctx context.Context, documentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, document_id, revision_hash, operation, changed_ids, element_count, created_at
		FROM revisions
		WHERE document_id = ?
		ORDER BY id DESC
		LIMIT ?`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query revisions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e           Entry
			changedJSON string
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.RevisionHash, &e.Operation,
			&changedJSON, &e.ElementCount, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan revision: %w", err)
		}
		if err := json.Unmarshal([]byte(changedJSON), &e.ChangedIDs); err != nil {
			return nil, fmt.Errorf("history: decode changed ids of revision %d: %w", e.ID, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("history: decode timestamp of revision %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
