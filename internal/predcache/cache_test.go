package predcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// -- Test Helpers --

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

const sk = schemas.SimilarityKey("traffic/high")

func fp(digest string, congestion int) schemas.Fingerprint {
	return schemas.Fingerprint{
		Digest:     digest,
		Similarity: sk,
		Signature:  schemas.Signature{{Name: "congestion", Bucket: congestion}},
	}
}

func cands(ids ...string) []schemas.ScoredCandidate {
	out := make([]schemas.ScoredCandidate, len(ids))
	for i, id := range ids {
		out[i] = schemas.ScoredCandidate{
			CandidateSolution: schemas.CandidateSolution{
				TemplateID:    id,
				Actions:       []schemas.Action{{Type: "notify", Cost: 1}},
				Parameters:    map[string]float64{"credit": float64(i)},
				ImmediateCost: 10,
				RetainedValue: 20,
			},
			Score: float64(100 - i),
		}
	}
	return out
}

func newTestCache(t *testing.T, capacity int, clock *fakeClock) *Cache {
	t.Helper()
	cfg := config.CacheConfig{Capacity: capacity, Shards: 4, SimilarityThreshold: 2, MaxAge: time.Hour}
	return New(cfg, zaptest.NewLogger(t), WithClock(clock.Now))
}

// pinEntry pins an entry the way an in-flight reader would.
func pinEntry(t *testing.T, c *Cache, f schemas.Fingerprint) *entry {
	t.Helper()
	sh := c.shardFor(f.Similarity)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[f.Digest]
	require.True(t, ok)
	e.pin()
	return e
}

// -- Lookup --

func TestLookup_MissOnEmptyCache(t *testing.T) {
	c := newTestCache(t, 4, newFakeClock())
	res := c.Lookup(fp("a", 1), sk, nil)
	assert.Equal(t, schemas.MatchMiss, res.Match)
	assert.False(t, res.Hit())
	assert.Empty(t, res.Candidates)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestLookup_ExactHitAfterWrite(t *testing.T) {
	c := newTestCache(t, 4, newFakeClock())
	want := cands("t1", "t2")
	require.NoError(t, c.Write(fp("a", 1), want))

	res := c.Lookup(fp("a", 1), sk, nil)
	require.Equal(t, schemas.MatchExact, res.Match)
	assert.True(t, res.Hit())
	assert.Equal(t, "a", res.Digest)
	if diff := cmp.Diff(want, res.Candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(1), c.Stats().Hits)
}

func TestLookup_ReturnsPrivateCopies(t *testing.T) {
	c := newTestCache(t, 4, newFakeClock())
	written := cands("t1")
	require.NoError(t, c.Write(fp("a", 1), written))

	// Mutating the written slice or a result must not leak into the cache.
	written[0].TemplateID = "mutated"
	res := c.Lookup(fp("a", 1), sk, nil)
	res.Candidates[0].Actions[0].Type = "mutated"
	res.Candidates[0].Parameters["credit"] = 99

	again := c.Lookup(fp("a", 1), sk, nil)
	assert.Equal(t, "t1", again.Candidates[0].TemplateID)
	assert.Equal(t, "notify", again.Candidates[0].Actions[0].Type)
	assert.Equal(t, 0.0, again.Candidates[0].Parameters["credit"])
}

func TestLookup_Approximate(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 8, clock)
	require.NoError(t, c.Write(fp("a", 5), cands("near")))

	t.Run("within threshold", func(t *testing.T) {
		res := c.Lookup(fp("b", 6), sk, nil)
		require.Equal(t, schemas.MatchApproximate, res.Match)
		assert.Equal(t, 1.0, res.Distance)
		assert.Equal(t, "a", res.Digest)
		assert.Equal(t, "near", res.Candidates[0].TemplateID)
	})

	t.Run("beyond threshold", func(t *testing.T) {
		res := c.Lookup(fp("b", 9), sk, nil)
		assert.Equal(t, schemas.MatchMiss, res.Match)
	})

	t.Run("different similarity key", func(t *testing.T) {
		other := fp("b", 5)
		other.Similarity = "traffic/low"
		res := c.Lookup(other, other.Similarity, nil)
		assert.Equal(t, schemas.MatchMiss, res.Match)
	})

	t.Run("verifier rejects", func(t *testing.T) {
		res := c.Lookup(fp("b", 6), sk, func([]schemas.ScoredCandidate) bool { return false })
		assert.Equal(t, schemas.MatchMiss, res.Match)
	})

	t.Run("stale entries never serve approximate hits", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		res := c.Lookup(fp("b", 6), sk, nil)
		assert.Equal(t, schemas.MatchMiss, res.Match)

		// The exact key still hits; staleness only gates similarity.
		assert.Equal(t, schemas.MatchExact, c.Lookup(fp("a", 5), sk, nil).Match)
	})

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Approximate)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(4), stats.Misses)
}

func TestLookup_ApproximatePrefersNearestThenLowestDigest(t *testing.T) {
	c := newTestCache(t, 8, newFakeClock())
	require.NoError(t, c.Write(fp("z-far", 7), cands("far")))
	require.NoError(t, c.Write(fp("m-near", 4), cands("near-m")))
	require.NoError(t, c.Write(fp("c-near", 6), cands("near-c")))

	res := c.Lookup(fp("query", 5), sk, nil)
	require.Equal(t, schemas.MatchApproximate, res.Match)
	assert.Equal(t, "c-near", res.Digest, "equal distance resolves to the lower digest")

	// When the nearest entries fail verification the next one is used.
	res = c.Lookup(fp("query", 5), sk, func(cs []schemas.ScoredCandidate) bool {
		return cs[0].TemplateID == "far"
	})
	require.Equal(t, schemas.MatchApproximate, res.Match)
	assert.Equal(t, "z-far", res.Digest)
	assert.Equal(t, 2.0, res.Distance)
}

// -- Write --

func TestWrite_Errors(t *testing.T) {
	c := newTestCache(t, 4, newFakeClock())
	assert.ErrorIs(t, c.Write(fp("", 1), cands("x")), ErrInvalidFingerprint)
	assert.ErrorIs(t, c.Write(fp("a", 1), nil), ErrEmptyCandidates)
	assert.Zero(t, c.Len())
}

func TestWrite_IdempotentForEquivalentSets(t *testing.T) {
	c := newTestCache(t, 4, newFakeClock())
	require.NoError(t, c.Write(fp("a", 1), cands("t1", "t2")))
	first := c.Lookup(fp("a", 1), sk, nil)

	require.NoError(t, c.Write(fp("a", 1), cands("t1", "t2")))
	second := c.Lookup(fp("a", 1), sk, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.Len())
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Writes)
	assert.Equal(t, uint64(1), stats.Refreshes)
}

func TestWrite_Replaces(t *testing.T) {
	c := newTestCache(t, 4, newFakeClock())
	require.NoError(t, c.Write(fp("a", 1), cands("old")))
	require.NoError(t, c.Write(fp("a", 1), cands("new", "other")))

	res := c.Lookup(fp("a", 1), sk, nil)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "new", res.Candidates[0].TemplateID)
	assert.Equal(t, 1, c.Len())
}

// -- Eviction --

func TestEviction_LeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 2, clock)

	require.NoError(t, c.Write(fp("a", 1), cands("a")))
	clock.Advance(time.Second)
	require.NoError(t, c.Write(fp("b", 20), cands("b")))
	clock.Advance(time.Second)
	c.Lookup(fp("a", 1), sk, nil) // a is now more recent than b
	clock.Advance(time.Second)
	require.NoError(t, c.Write(fp("c", 40), cands("c")))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("a", 1), sk, nil).Match)
	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("c", 40), sk, nil).Match)
	// An evicted key never comes back as a stale exact hit.
	assert.NotEqual(t, schemas.MatchExact, c.Lookup(fp("b", 20), sk, nil).Match)
}

func TestEviction_TieBreaks(t *testing.T) {
	t.Run("lowest hit count", func(t *testing.T) {
		c := newTestCache(t, 2, newFakeClock()) // the clock never moves
		require.NoError(t, c.Write(fp("a", 1), cands("a")))
		require.NoError(t, c.Write(fp("b", 20), cands("b")))
		c.Lookup(fp("a", 1), sk, nil)
		require.NoError(t, c.Write(fp("c", 40), cands("c")))

		assert.Equal(t, schemas.MatchExact, c.Lookup(fp("a", 1), sk, nil).Match)
		assert.Equal(t, schemas.MatchMiss, c.Lookup(fp("b", 20), sk, nil).Match)
	})

	t.Run("lowest digest", func(t *testing.T) {
		c := newTestCache(t, 2, newFakeClock())
		require.NoError(t, c.Write(fp("b", 20), cands("b")))
		require.NoError(t, c.Write(fp("a", 1), cands("a")))
		require.NoError(t, c.Write(fp("c", 40), cands("c")))

		assert.Equal(t, schemas.MatchMiss, c.Lookup(fp("a", 1), sk, nil).Match)
		assert.Equal(t, schemas.MatchExact, c.Lookup(fp("b", 20), sk, nil).Match)
	})
}

func TestEviction_SkipsPinnedEntries(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 1, clock)

	require.NoError(t, c.Write(fp("a", 1), cands("a")))
	pinned := pinEntry(t, c, fp("a", 1))

	clock.Advance(time.Second)
	require.NoError(t, c.Write(fp("b", 20), cands("b")))

	// Over capacity while "a" is being read: the eviction is deferred.
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().DeferredEvictions)
	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("a", 1), sk, nil).Match)

	pinned.unpin()
	clock.Advance(time.Second)
	require.NoError(t, c.Write(fp("c", 40), cands("c")))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(2), c.Stats().Evictions)
	assert.Equal(t, schemas.MatchExact, c.Lookup(fp("c", 40), sk, nil).Match)
}

func TestEviction_DeferredWhileVerifying(t *testing.T) {
	c := newTestCache(t, 1, newFakeClock())
	require.NoError(t, c.Write(fp("a", 5), cands("a")))

	verifying := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Result)
	go func() {
		done <- c.Lookup(fp("q", 6), sk, func([]schemas.ScoredCandidate) bool {
			close(verifying)
			<-release
			return true
		})
	}()

	<-verifying
	// "a" is pinned by the in-flight approximate lookup and must survive.
	require.NoError(t, c.Write(fp("b", 30), cands("b")))
	close(release)

	res := <-done
	require.Equal(t, schemas.MatchApproximate, res.Match)
	assert.Equal(t, "a", res.Candidates[0].TemplateID)
	assert.Equal(t, uint64(1), c.Stats().DeferredEvictions)
}

// -- Concurrency --

func TestConcurrentAccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(config.CacheConfig{Capacity: 32, Shards: 8, SimilarityThreshold: 1, MaxAge: time.Hour}, zaptest.NewLogger(t))
	setA, setB := cands("x1", "x2"), cands("y1", "y2", "y3")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := (w*7 + i) % 64
				f := fp(fmt.Sprintf("d-%d", idx), idx%10)
				f.Similarity = schemas.SimilarityKey(fmt.Sprintf("k-%d", idx%5))
				set := setA
				if i%2 == 0 {
					set = setB
				}
				assert.NoError(t, c.Write(f, set))

				res := c.Lookup(f, f.Similarity, nil)
				if res.Hit() {
					// Reads observe a whole candidate set, never a mix.
					ok := cmp.Equal(res.Candidates, setA) || cmp.Equal(res.Candidates, setB)
					assert.True(t, ok, "torn read: %v", res.Candidates)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 32)
	stats := c.Stats()
	assert.Equal(t, uint64(8*200), stats.Hits+stats.Approximate+stats.Misses)
}

// -- Maintenance --

func TestPurge(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 8, clock)
	require.NoError(t, c.Write(fp("old", 1), cands("old")))
	clock.Advance(90 * time.Minute)
	require.NoError(t, c.Write(fp("fresh", 10), cands("fresh")))

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, schemas.MatchMiss, c.Lookup(fp("old", 1), sk, nil).Match)
	assert.Equal(t, uint64(1), c.Stats().Purged)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, 8, newFakeClock())
	require.NoError(t, c.Write(fp("a", 1), cands("a")))
	require.NoError(t, c.Write(fp("b", 9), cands("b")))

	e := pinEntry(t, c, fp("b", 9))
	assert.False(t, c.Delete("b"), "pinned entries are not deleted")
	e.unpin()

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.True(t, c.Delete("b"))
	assert.Zero(t, c.Len())
}

func TestStatsHitRate(t *testing.T) {
	assert.Zero(t, Stats{}.HitRate())
	assert.InDelta(t, 0.75, Stats{Hits: 2, Approximate: 1, Misses: 1}.HitRate(), 1e-9)
}

func TestNew_Defaults(t *testing.T) {
	c := New(config.CacheConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, 1024, c.Capacity())
	assert.Len(t, c.shards, 16)
}
