package predcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
)

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	src := newTestCache(t, 8, clock)

	require.NoError(t, src.Write(fp("a", 1), cands("a1", "a2")))
	clock.Advance(time.Minute)
	require.NoError(t, src.Write(fp("b", 20), cands("b1")))
	clock.Advance(time.Minute)
	src.Lookup(fp("a", 1), sk, nil)
	src.Lookup(fp("a", 1), sk, nil)

	snap := src.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Fingerprint.Digest, "most recently used first")
	assert.Equal(t, uint64(2), snap[0].Hits)
	assert.Equal(t, clock.Now(), snap[0].LastUsed)

	dst := newTestCache(t, 8, clock)
	assert.Equal(t, 2, dst.Restore(snap))
	assert.Equal(t, 2, dst.Len())

	res := dst.Lookup(fp("a", 1), sk, nil)
	require.Equal(t, schemas.MatchExact, res.Match)
	assert.Equal(t, []string{"a1", "a2"}, []string{res.Candidates[0].TemplateID, res.Candidates[1].TemplateID})
	assert.Equal(t, snap, src.Snapshot(), "snapshot does not disturb the source")

	// Restoring again is a no-op for keys already present.
	assert.Zero(t, dst.Restore(snap))
}

func TestRestore_RespectsCapacityAndAge(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()
	entries := []Entry{
		{Fingerprint: fp("old-used", 1), Candidates: cands("x"), LastUsed: now.Add(-3 * time.Minute), UpdatedAt: now.Add(-3 * time.Minute)},
		{Fingerprint: fp("recent", 10), Candidates: cands("y"), LastUsed: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute)},
		{Fingerprint: fp("middle", 20), Candidates: cands("z"), LastUsed: now.Add(-2 * time.Minute), UpdatedAt: now.Add(-2 * time.Minute)},
		{Fingerprint: fp("expired", 30), Candidates: cands("w"), LastUsed: now, UpdatedAt: now.Add(-3 * time.Hour)},
		{Fingerprint: fp("", 40), Candidates: cands("v"), LastUsed: now, UpdatedAt: now},
		{Fingerprint: fp("empty", 50), LastUsed: now, UpdatedAt: now},
	}

	c := newTestCache(t, 2, clock)
	assert.Equal(t, 2, c.Restore(entries))

	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("recent", 10), sk, nil).Match)
	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("middle", 20), sk, nil).Match)
	assert.NotEqual(t, schemas.MatchExact, c.Lookup(fp("old-used", 1), sk, nil).Match)
	assert.NotEqual(t, schemas.MatchExact, c.Lookup(fp("expired", 30), sk, nil).Match)
}

func TestRestore_SkipsMissingTimestamps(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()
	entries := []Entry{
		{Fingerprint: fp("no-update", 1), Candidates: cands("x"), LastUsed: now},
		{Fingerprint: fp("no-use", 2), Candidates: cands("y"), UpdatedAt: now},
		{Fingerprint: fp("ok", 3), Candidates: cands("z"), LastUsed: now, UpdatedAt: now},
	}

	// Without a max age nothing else would filter the zero timestamps out.
	c := New(config.CacheConfig{Capacity: 8, Shards: 4, SimilarityThreshold: 2}, zaptest.NewLogger(t), WithClock(clock.Now))
	assert.Equal(t, 1, c.Restore(entries))
	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("ok", 3), sk, nil).Match)
	assert.NotEqual(t, schemas.MatchExact, c.Lookup(fp("no-update", 1), sk, nil).Match)
	assert.NotEqual(t, schemas.MatchExact, c.Lookup(fp("no-use", 2), sk, nil).Match)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, now, snap[0].UpdatedAt)
}

func TestSnapshot_Empty(t *testing.T) {
	c := newTestCache(t, 2, newFakeClock())
	assert.Empty(t, c.Snapshot())
	assert.Zero(t, c.Restore(nil))
}
