package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/synapse-cli/internal/predcache"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
    id             TEXT PRIMARY KEY,
    event_id       TEXT NOT NULL DEFAULT '',
    fingerprint    TEXT NOT NULL,
    category       TEXT NOT NULL,
    severity       INTEGER NOT NULL,
    orders         INTEGER NOT NULL,
    template_id    TEXT NOT NULL,
    match_kind     TEXT NOT NULL,
    score          REAL NOT NULL,
    projected_roi  REAL NOT NULL,
    confidence     REAL NOT NULL,
    low_confidence INTEGER NOT NULL,
    decided_at     INTEGER NOT NULL,
    payload        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at);
CREATE TABLE IF NOT EXISTS cache_snapshot (
    digest     TEXT PRIMARY KEY,
    similarity TEXT NOT NULL,
    signature  TEXT NOT NULL,
    candidates TEXT NOT NULL,
    hits       INTEGER NOT NULL,
    last_used  INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// SQLite is the single-file implementation of Ledger. Timestamps are stored
// as UTC unix nanoseconds.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens or creates the database at path and applies the schema.
// The parent directory is created if it does not exist.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if file := strings.TrimPrefix(path, "file:"); file != ":memory:" {
		if i := strings.IndexByte(file, '?'); i >= 0 {
			file = file[:i]
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between the recorder and snapshots.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &SQLite{db: db, log: logger.Named("store.sqlite")}, nil
}

// RecordDecisions appends a batch of decisions in one transaction.
func (s *SQLite) RecordDecisions(ctx context.Context, records []DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO decisions (id, event_id, fingerprint, category, severity, orders, template_id, match_kind,
            score, projected_roi, confidence, low_confidence, decided_at, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare decision insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode decision %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.EventID, r.Fingerprint, string(r.Category), r.Severity, r.Orders, r.TemplateID, string(r.Match),
			r.Score, r.ProjectedROI, r.Confidence, boolInt(r.LowConfidence), r.DecidedAt.UTC().UnixNano(), string(payload),
		); err != nil {
			return fmt.Errorf("failed to insert decision %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *SQLite) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM decisions ORDER BY decided_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		var r DecisionRecord
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("failed to decode decision row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// SaveSnapshot replaces the stored cache snapshot in one transaction.
func (s *SQLite) SaveSnapshot(ctx context.Context, entries []predcache.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_snapshot`); err != nil {
		return fmt.Errorf("failed to clear cache snapshot: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO cache_snapshot (digest, similarity, signature, candidates, hits, last_used, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		r, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.digest, r.similarity, string(r.signature), string(r.candidates),
			r.hits, r.lastUsed.UnixNano(), r.updatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert snapshot entry %s: %w", r.digest, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Cache snapshot saved.", zap.Int("entries", len(entries)))
	return nil
}

// LoadSnapshot returns up to limit snapshot entries, most recently used first.
func (s *SQLite) LoadSnapshot(ctx context.Context, limit int) ([]predcache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT digest, similarity, signature, candidates, hits, last_used, updated_at
        FROM cache_snapshot
        ORDER BY last_used DESC, digest
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache snapshot: %w", err)
	}
	defer rows.Close()

	var out []predcache.Entry
	for rows.Next() {
		var (
			r                   snapshotRow
			sig, cands          string
			lastUsed, updatedAt int64
		)
		if err := rows.Scan(&r.digest, &r.similarity, &sig, &cands, &r.hits, &lastUsed, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		r.signature, r.candidates = []byte(sig), []byte(cands)
		r.lastUsed = time.Unix(0, lastUsed).UTC()
		r.updatedAt = time.Unix(0, updatedAt).UTC()

		e, err := decodeEntry(r)
		if err != nil {
			s.log.Warn("Skipping undecodable snapshot row.", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
