// Package predcache implements the scenario prediction cache: a bounded,
// sharded map from fingerprint digest to the last ranked candidate set.
//
// Entries are grouped into shards by similarity key, so an approximate lookup
// only ever scans one shard. Each entry publishes its candidates through an
// atomic pointer to an immutable slice; readers see either the old or the new
// slice, never a mix. Readers pin an entry while they hold on to it and the
// evictor skips pinned entries, deferring the eviction to a later write.
package predcache

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/fingerprint"
	"go.uber.org/zap"
)

var (
	// ErrEmptyCandidates is returned when writing an empty candidate set.
	ErrEmptyCandidates = errors.New("predcache: refusing to cache an empty candidate set")
	// ErrInvalidFingerprint is returned when writing without a digest.
	ErrInvalidFingerprint = errors.New("predcache: fingerprint has no digest")
)

// Verifier re-checks cached candidates against the current context before an
// approximate hit is served. Returning false skips the entry.
type Verifier func(candidates []schemas.ScoredCandidate) bool

// Result is the outcome of a lookup. Candidates is a private copy.
type Result struct {
	Match      schemas.Match
	Candidates []schemas.ScoredCandidate
	// Distance is the signature distance of an approximate hit.
	Distance float64
	// Digest identifies the entry that served the hit.
	Digest string
}

// Hit reports whether the lookup produced candidates.
func (r Result) Hit() bool { return r.Match == schemas.MatchExact || r.Match == schemas.MatchApproximate }

type entry struct {
	fp         schemas.Fingerprint
	candidates atomic.Pointer[[]schemas.ScoredCandidate]
	hits       atomic.Uint64
	lastUsed   atomic.Int64 // unix nanos
	updatedAt  atomic.Int64 // unix nanos
	pins       atomic.Int32
}

func (e *entry) pin()   { e.pins.Add(1) }
func (e *entry) unpin() { e.pins.Add(-1) }

type shard struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	bySimilarity map[schemas.SimilarityKey]map[string]*entry
}

func (s *shard) insert(e *entry) {
	s.entries[e.fp.Digest] = e
	group := s.bySimilarity[e.fp.Similarity]
	if group == nil {
		group = make(map[string]*entry)
		s.bySimilarity[e.fp.Similarity] = group
	}
	group[e.fp.Digest] = e
}

func (s *shard) remove(e *entry) {
	delete(s.entries, e.fp.Digest)
	if group := s.bySimilarity[e.fp.Similarity]; group != nil {
		delete(group, e.fp.Digest)
		if len(group) == 0 {
			delete(s.bySimilarity, e.fp.Similarity)
		}
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is safe for concurrent use.
type Cache struct {
	logger    *zap.Logger
	shards    []*shard
	capacity  int
	threshold float64
	maxAge    time.Duration
	now       func() time.Time
	size      atomic.Int64

	// evictMu serializes evictors; readers and writers of other shards are unaffected.
	evictMu sync.Mutex

	hits, approximate, misses            atomic.Uint64
	writes, refreshes                    atomic.Uint64
	evictions, deferredEvictions, purged atomic.Uint64
}

// New creates an empty cache.
func New(cfg config.CacheConfig, logger *zap.Logger, opts ...Option) *Cache {
	n := cfg.Shards
	if n <= 0 {
		n = 16
	}
	c := &Cache{
		logger:    logger.Named("predcache"),
		shards:    make([]*shard, n),
		capacity:  cfg.Capacity,
		threshold: cfg.SimilarityThreshold,
		maxAge:    cfg.MaxAge,
		now:       time.Now,
	}
	if c.capacity <= 0 {
		c.capacity = 1024
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries:      make(map[string]*entry),
			bySimilarity: make(map[schemas.SimilarityKey]map[string]*entry),
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shardFor(sk schemas.SimilarityKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sk))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// -- Lookup --

// Lookup resolves a fingerprint. An exact hit needs digest identity. Failing
// that, the nearest fresh entry under sk within the similarity threshold whose
// candidates pass verify is an approximate hit; ties go to the lower digest.
// A nil verify accepts everything.
func (c *Cache) Lookup(fp schemas.Fingerprint, sk schemas.SimilarityKey, verify Verifier) Result {
	sh := c.shardFor(sk)
	now := c.now()

	sh.mu.RLock()
	if e, ok := sh.entries[fp.Digest]; ok {
		e.pin()
		sh.mu.RUnlock()
		defer e.unpin()

		e.hits.Add(1)
		e.lastUsed.Store(now.UnixNano())
		c.hits.Add(1)
		return Result{Match: schemas.MatchExact, Candidates: cloneCandidates(*e.candidates.Load()), Digest: fp.Digest}
	}

	type near struct {
		e        *entry
		distance float64
	}
	var nearby []near
	for digest, e := range sh.bySimilarity[sk] {
		if digest == fp.Digest || c.stale(e, now) {
			continue
		}
		d := fingerprint.Distance(fp.Signature, e.fp.Signature)
		if d > c.threshold {
			continue
		}
		e.pin()
		nearby = append(nearby, near{e: e, distance: d})
	}
	sh.mu.RUnlock()

	defer func() {
		for _, n := range nearby {
			n.e.unpin()
		}
	}()

	sort.Slice(nearby, func(i, j int) bool {
		if nearby[i].distance != nearby[j].distance {
			return nearby[i].distance < nearby[j].distance
		}
		return nearby[i].e.fp.Digest < nearby[j].e.fp.Digest
	})

	for _, n := range nearby {
		cands := *n.e.candidates.Load()
		if verify != nil && !verify(cands) {
			continue
		}
		n.e.hits.Add(1)
		n.e.lastUsed.Store(now.UnixNano())
		c.approximate.Add(1)
		return Result{
			Match:      schemas.MatchApproximate,
			Candidates: cloneCandidates(cands),
			Distance:   n.distance,
			Digest:     n.e.fp.Digest,
		}
	}

	c.misses.Add(1)
	return Result{Match: schemas.MatchMiss}
}

func (c *Cache) stale(e *entry, now time.Time) bool {
	return c.maxAge > 0 && now.Sub(time.Unix(0, e.updatedAt.Load())) > c.maxAge
}

// -- Write --

// Write inserts or replaces the candidates of fp. Writing a set equivalent to
// the cached one only refreshes recency. Inserting beyond capacity evicts.
func (c *Cache) Write(fp schemas.Fingerprint, candidates []schemas.ScoredCandidate) error {
	if fp.Digest == "" {
		return ErrInvalidFingerprint
	}
	if len(candidates) == 0 {
		return ErrEmptyCandidates
	}

	snapshot := cloneCandidates(candidates)
	now := c.now().UnixNano()
	sh := c.shardFor(fp.Similarity)

	sh.mu.Lock()
	e, exists := sh.entries[fp.Digest]
	switch {
	case exists && equivalent(*e.candidates.Load(), snapshot):
		e.lastUsed.Store(now)
		e.updatedAt.Store(now)
		sh.mu.Unlock()
		c.refreshes.Add(1)
		return nil
	case exists:
		e.candidates.Store(&snapshot)
		e.lastUsed.Store(now)
		e.updatedAt.Store(now)
		sh.mu.Unlock()
		c.writes.Add(1)
		return nil
	}

	e = &entry{fp: cloneFingerprint(fp)}
	e.candidates.Store(&snapshot)
	e.lastUsed.Store(now)
	e.updatedAt.Store(now)
	sh.insert(e)
	sh.mu.Unlock()

	c.writes.Add(1)
	if c.size.Add(1) > int64(c.capacity) {
		c.evictOverflow(fp.Digest)
	}
	return nil
}

func equivalent(a, b []schemas.ScoredCandidate) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

// -- Eviction --

// evictOverflow evicts until the cache is back within capacity. The entry
// just written is never its own victim. When every other entry is pinned the
// eviction is deferred to the next write.
func (c *Cache) evictOverflow(keep string) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	for c.size.Load() > int64(c.capacity) {
		victim, sh := c.pickVictim(keep)
		if victim == nil {
			c.deferredEvictions.Add(1)
			c.logger.Debug("Eviction deferred; all candidates pinned.", zap.Int64("size", c.size.Load()))
			return
		}

		sh.mu.Lock()
		// No new pins can be taken while the write lock is held.
		if cur, ok := sh.entries[victim.fp.Digest]; !ok || cur != victim || victim.pins.Load() > 0 {
			sh.mu.Unlock()
			c.deferredEvictions.Add(1)
			return
		}
		sh.remove(victim)
		sh.mu.Unlock()

		c.size.Add(-1)
		c.evictions.Add(1)
	}
}

// pickVictim finds the least recently used unpinned entry, ties broken by
// lowest hit count and then lowest digest.
func (c *Cache) pickVictim(keep string) (*entry, *shard) {
	var (
		best      *entry
		bestShard *shard
	)
	for _, sh := range c.shards {
		sh.mu.RLock()
		for digest, e := range sh.entries {
			if digest == keep || e.pins.Load() > 0 {
				continue
			}
			if best == nil || lessRecent(e, best) {
				best, bestShard = e, sh
			}
		}
		sh.mu.RUnlock()
	}
	return best, bestShard
}

func lessRecent(a, b *entry) bool {
	if la, lb := a.lastUsed.Load(), b.lastUsed.Load(); la != lb {
		return la < lb
	}
	if ha, hb := a.hits.Load(), b.hits.Load(); ha != hb {
		return ha < hb
	}
	return a.fp.Digest < b.fp.Digest
}

// -- Maintenance --

// Delete removes an entry. Pinned entries are left alone and reported as not deleted.
func (c *Cache) Delete(digest string) bool {
	for _, sh := range c.shards {
		sh.mu.Lock()
		e, ok := sh.entries[digest]
		if ok && e.pins.Load() == 0 {
			sh.remove(e)
			sh.mu.Unlock()
			c.size.Add(-1)
			return true
		}
		sh.mu.Unlock()
		if ok {
			return false
		}
	}
	return false
}

// Purge drops every unpinned entry older than the configured max age and
// returns how many were removed.
func (c *Cache) Purge() int {
	if c.maxAge <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			if c.stale(e, now) && e.pins.Load() == 0 {
				sh.remove(e)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		c.size.Add(-int64(removed))
		c.purged.Add(uint64(removed))
		c.logger.Debug("Purged stale cache entries.", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of cached fingerprints.
func (c *Cache) Len() int { return int(c.size.Load()) }

// Capacity returns the configured capacity.
func (c *Cache) Capacity() int { return c.capacity }

// -- Stats --

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Entries           int    `json:"entries"`
	Capacity          int    `json:"capacity"`
	Hits              uint64 `json:"hits"`
	Approximate       uint64 `json:"approximate"`
	Misses            uint64 `json:"misses"`
	Writes            uint64 `json:"writes"`
	Refreshes         uint64 `json:"refreshes"`
	Evictions         uint64 `json:"evictions"`
	DeferredEvictions uint64 `json:"deferred_evictions"`
	Purged            uint64 `json:"purged"`
}

// HitRate is the share of lookups served from the cache, exact or approximate.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Approximate + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits+s.Approximate) / float64(total)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:           c.Len(),
		Capacity:          c.capacity,
		Hits:              c.hits.Load(),
		Approximate:       c.approximate.Load(),
		Misses:            c.misses.Load(),
		Writes:            c.writes.Load(),
		Refreshes:         c.refreshes.Load(),
		Evictions:         c.evictions.Load(),
		DeferredEvictions: c.deferredEvictions.Load(),
		Purged:            c.purged.Load(),
	}
}

// -- Cloning --

func cloneCandidates(in []schemas.ScoredCandidate) []schemas.ScoredCandidate {
	out := make([]schemas.ScoredCandidate, len(in))
	for i, c := range in {
		out[i] = c
		if c.Actions != nil {
			out[i].Actions = append([]schemas.Action(nil), c.Actions...)
		}
		if c.Parameters != nil {
			params := make(map[string]float64, len(c.Parameters))
			for k, v := range c.Parameters {
				params[k] = v
			}
			out[i].Parameters = params
		}
	}
	return out
}

func cloneFingerprint(fp schemas.Fingerprint) schemas.Fingerprint {
	fp.Signature = append(schemas.Signature(nil), fp.Signature...)
	return fp
}
