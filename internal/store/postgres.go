package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/internal/predcache"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

const (
	pgCreateDecisions = `
        CREATE TABLE IF NOT EXISTS decisions (
            id             UUID PRIMARY KEY,
            event_id       TEXT NOT NULL DEFAULT '',
            fingerprint    TEXT NOT NULL,
            category       TEXT NOT NULL,
            severity       INTEGER NOT NULL,
            orders         INTEGER NOT NULL,
            template_id    TEXT NOT NULL,
            match_kind     TEXT NOT NULL,
            score          DOUBLE PRECISION NOT NULL,
            projected_roi  DOUBLE PRECISION NOT NULL,
            confidence     DOUBLE PRECISION NOT NULL,
            low_confidence BOOLEAN NOT NULL,
            decided_at     TIMESTAMPTZ NOT NULL,
            payload        JSONB NOT NULL
        );
    `
	pgCreateSnapshot = `
        CREATE TABLE IF NOT EXISTS cache_snapshot (
            digest     TEXT PRIMARY KEY,
            similarity TEXT NOT NULL,
            signature  JSONB NOT NULL,
            candidates JSONB NOT NULL,
            hits       BIGINT NOT NULL,
            last_used  TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	pgRecentDecisions = `
        SELECT payload FROM decisions
        ORDER BY decided_at DESC
        LIMIT $1;
    `
	pgLoadSnapshot = `
        SELECT digest, similarity, signature, candidates, hits, last_used, updated_at
        FROM cache_snapshot
        ORDER BY last_used DESC
        LIMIT $1;
    `
	pgClearSnapshot = `DELETE FROM cache_snapshot;`
)

var (
	decisionColumns = []string{
		"id", "event_id", "fingerprint", "category", "severity", "orders", "template_id", "match_kind",
		"score", "projected_roi", "confidence", "low_confidence", "decided_at", "payload",
	}
	snapshotColumns = []string{"digest", "similarity", "signature", "candidates", "hits", "last_used", "updated_at"}
)

// Postgres is the PostgreSQL implementation of Ledger.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates the ledger tables if needed. The pool is expected to be
// connected; the caller pings it.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, ddl := range []string{pgCreateDecisions, pgCreateSnapshot} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return &Postgres{pool: pool, log: logger.Named("store.postgres")}, nil
}

// RecordDecisions appends a batch of decisions with a single COPY.
func (p *Postgres) RecordDecisions(ctx context.Context, records []DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode decision %s: %w", r.ID, err)
		}
		rows[i] = []interface{}{
			r.ID, r.EventID, r.Fingerprint, string(r.Category), r.Severity, r.Orders, r.TemplateID, string(r.Match),
			r.Score, r.ProjectedROI, r.Confidence, r.LowConfidence, r.DecidedAt.UTC(), payload,
		}
	}

	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{"decisions"}, decisionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy decisions: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("mismatch in copied decisions count: expected %d, got %d", len(records), n)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (p *Postgres) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := p.pool.Query(ctx, pgRecentDecisions, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		var r DecisionRecord
		if err := json.Unmarshal(payload, &r); err != nil {
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
func (p *Postgres) SaveSnapshot(ctx context.Context, entries []predcache.Entry) error {
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		r, err := encodeEntry(e)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{r.digest, r.similarity, r.signature, r.candidates, r.hits, r.lastUsed, r.updatedAt})
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := replaceSnapshot(ctx, tx, rows); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	p.log.Debug("Cache snapshot saved.", zap.Int("entries", len(rows)))
	return nil
}

func replaceSnapshot(ctx context.Context, tx pgx.Tx, rows [][]interface{}) error {
	if _, err := tx.Exec(ctx, pgClearSnapshot); err != nil {
		return fmt.Errorf("failed to clear cache snapshot: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"cache_snapshot"}, snapshotColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy cache snapshot: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied snapshot count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// LoadSnapshot returns up to limit snapshot entries, most recently used first.
// Rows that fail to decode are skipped and logged.
func (p *Postgres) LoadSnapshot(ctx context.Context, limit int) ([]predcache.Entry, error) {
	rows, err := p.pool.Query(ctx, pgLoadSnapshot, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache snapshot: %w", err)
	}
	defer rows.Close()

	var out []predcache.Entry
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(&r.digest, &r.similarity, &r.signature, &r.candidates, &r.hits, &r.lastUsed, &r.updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		e, err := decodeEntry(r)
		if err != nil {
			p.log.Warn("Skipping undecodable snapshot row.", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
