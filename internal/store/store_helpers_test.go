package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var testTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func sampleDecision() schemas.Decision {
	winner := schemas.ScoredCandidate{
		CandidateSolution: schemas.CandidateSolution{
			TemplateID:     "traffic-reroute-notify",
			Approach:       "proactive_rerouting",
			Actions:        []schemas.Action{{Type: "optimize_routes", Cost: 4}},
			ImmediateCost:  21.5,
			RetainedValue:  21.37,
			PenaltyAvoided: 24,
		},
		Score:   24.4,
		Benefit: 45.9,
		ROI:     23.87,
	}
	return schemas.Decision{
		Winner:       winner,
		ProjectedROI: winner.ROI,
		Confidence:   0.53,
		Source:       schemas.SourceSynthesized,
		Match:        schemas.MatchMiss,
		Fingerprint:  "abc123",
		HorizonDays:  30,
	}
}

func sampleContext() schemas.DisruptionContext {
	return schemas.DisruptionContext{
		ID:             "evt-1",
		Category:       schemas.CategoryTraffic,
		Severity:       4,
		AffectedOrders: []string{"o1", "o2", "o3"},
		Timestamp:      testTime,
	}
}

func sampleEntry(digest string, lastUsed time.Time) predcache.Entry {
	return predcache.Entry{
		Fingerprint: schemas.Fingerprint{
			Digest:     digest,
			Similarity: "traffic/high",
			Signature:  schemas.Signature{{Name: "congestion", Bucket: 8}},
		},
		Candidates: []schemas.ScoredCandidate{sampleDecision().Winner},
		Hits:       3,
		LastUsed:   lastUsed,
		UpdatedAt:  lastUsed.Add(-time.Minute),
	}
}
