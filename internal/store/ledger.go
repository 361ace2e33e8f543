// Package store persists decisions and prediction cache snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupportedURL is returned for database URLs with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Ledger is the persistence port of the decision engine. The core never calls
// it; the service layer records decisions and snapshots the cache through it.
type Ledger interface {
	RecordDecisions(ctx context.Context, records []DecisionRecord) error
	RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	SaveSnapshot(ctx context.Context, entries []predcache.Entry) error
	LoadSnapshot(ctx context.Context, limit int) ([]predcache.Entry, error)
	Close() error
}

// DecisionRecord is one row of the decision ledger.
type DecisionRecord struct {
	ID            string           `json:"id"`
	EventID       string           `json:"event_id,omitempty"`
	Fingerprint   string           `json:"fingerprint"`
	Category      schemas.Category `json:"category"`
	Severity      int              `json:"severity"`
	Orders        int              `json:"orders"`
	TemplateID    string           `json:"template_id"`
	Match         schemas.Match    `json:"match"`
	Score         float64          `json:"score"`
	ProjectedROI  float64          `json:"projected_roi"`
	Confidence    float64          `json:"confidence"`
	LowConfidence bool             `json:"low_confidence"`
	DecidedAt     time.Time        `json:"decided_at"`
	Decision      schemas.Decision `json:"decision"`
}

// NewRecord builds a ledger row for a decision taken on ctx.
func NewRecord(ctx schemas.DisruptionContext, d schemas.Decision, at time.Time) DecisionRecord {
	return DecisionRecord{
		ID:            uuid.NewString(),
		EventID:       ctx.ID,
		Fingerprint:   d.Fingerprint,
		Category:      ctx.Category,
		Severity:      ctx.Severity,
		Orders:        ctx.OrderCount(),
		TemplateID:    d.Winner.TemplateID,
		Match:         d.Match,
		Score:         d.Winner.Score,
		ProjectedROI:  d.ProjectedROI,
		Confidence:    d.Confidence,
		LowConfidence: d.LowConfidence,
		DecidedAt:     at.UTC(),
		Decision:      d,
	}
}

// Connector opens a PostgreSQL pool for a URL.
type Connector func(ctx context.Context, url string) (DBPool, error)

// Open selects a backend from the URL scheme: postgres:// or postgresql://
// for PostgreSQL, sqlite:// or file: for SQLite.
func Open(ctx context.Context, url string, pg Connector, logger *zap.Logger) (Ledger, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		if pg == nil {
			return nil, fmt.Errorf("%w: no postgres connector", ErrUnsupportedURL)
		}
		pool, err := pg(ctx, url)
		if err != nil {
			return nil, err
		}
		l, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return l, nil
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"), logger)
	case strings.HasPrefix(url, "file:"):
		return OpenSQLite(ctx, url, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(url))
	}
}

// redact drops credentials from a URL before it is logged or returned.
func redact(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 && scheme < at {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}

// -- Payload codec --

type snapshotRow struct {
	digest     string
	similarity string
	signature  []byte
	candidates []byte
	hits       int64
	lastUsed   time.Time
	updatedAt  time.Time
}

func encodeEntry(e predcache.Entry) (snapshotRow, error) {
	sig, err := json.Marshal(e.Fingerprint.Signature)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("failed to encode signature of %s: %w", e.Fingerprint.Digest, err)
	}
	cands, err := json.Marshal(e.Candidates)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("failed to encode candidates of %s: %w", e.Fingerprint.Digest, err)
	}
	return snapshotRow{
		digest:     e.Fingerprint.Digest,
		similarity: string(e.Fingerprint.Similarity),
		signature:  sig,
		candidates: cands,
		hits:       int64(e.Hits),
		lastUsed:   e.LastUsed.UTC(),
		updatedAt:  e.UpdatedAt.UTC(),
	}, nil
}

func decodeEntry(r snapshotRow) (predcache.Entry, error) {
	e := predcache.Entry{
		Fingerprint: schemas.Fingerprint{
			Digest:     r.digest,
			Similarity: schemas.SimilarityKey(r.similarity),
		},
		Hits:      uint64(r.hits),
		LastUsed:  r.lastUsed,
		UpdatedAt: r.updatedAt,
	}
	if len(r.signature) > 0 {
		if err := json.Unmarshal(r.signature, &e.Fingerprint.Signature); err != nil {
			return predcache.Entry{}, fmt.Errorf("failed to decode signature of %s: %w", r.digest, err)
		}
	}
	if err := json.Unmarshal(r.candidates, &e.Candidates); err != nil {
		return predcache.Entry{}, fmt.Errorf("failed to decode candidates of %s: %w", r.digest, err)
	}
	return e, nil
}
