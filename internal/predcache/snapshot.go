package predcache

import (
	"sort"
	"time"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"go.uber.org/zap"
)

// Entry is the exported form of one cache entry, used for persistence.
type Entry struct {
	Fingerprint schemas.Fingerprint       `json:"fingerprint"`
	Candidates  []schemas.ScoredCandidate `json:"candidates"`
	Hits        uint64                    `json:"hits"`
	LastUsed    time.Time                 `json:"last_used"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Snapshot copies every entry, most recently used first (ties: lower digest).
func (c *Cache) Snapshot() []Entry {
	var out []Entry
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			out = append(out, Entry{
				Fingerprint: cloneFingerprint(e.fp),
				Candidates:  cloneCandidates(*e.candidates.Load()),
				Hits:        e.hits.Load(),
				LastUsed:    time.Unix(0, e.lastUsed.Load()).UTC(),
				UpdatedAt:   time.Unix(0, e.updatedAt.Load()).UTC(),
			})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].LastUsed.After(out[j].LastUsed)
		}
		return out[i].Fingerprint.Digest < out[j].Fingerprint.Digest
	})
	return out
}

// Restore loads entries into the cache, keeping their metadata. Entries that
// are already cached, malformed, missing a timestamp, or past the max age are
// skipped. When the
// snapshot exceeds capacity the most recently used entries win. It returns the
// number of entries restored.
func (c *Cache) Restore(entries []Entry) int {
	now := c.now()
	ordered := append([]Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].LastUsed.After(ordered[j].LastUsed) })

	restored := 0
	for _, in := range ordered {
		if c.Len() >= c.capacity {
			break
		}
		if in.Fingerprint.Digest == "" || len(in.Candidates) == 0 {
			continue
		}
		if in.UpdatedAt.IsZero() || in.LastUsed.IsZero() {
			continue
		}
		if c.maxAge > 0 && now.Sub(in.UpdatedAt) > c.maxAge {
			continue
		}

		sh := c.shardFor(in.Fingerprint.Similarity)
		sh.mu.Lock()
		if _, exists := sh.entries[in.Fingerprint.Digest]; exists {
			sh.mu.Unlock()
			continue
		}
		e := &entry{fp: cloneFingerprint(in.Fingerprint)}
		snapshot := cloneCandidates(in.Candidates)
		e.candidates.Store(&snapshot)
		e.hits.Store(in.Hits)
		e.lastUsed.Store(in.LastUsed.UnixNano())
		e.updatedAt.Store(in.UpdatedAt.UnixNano())
		sh.insert(e)
		sh.mu.Unlock()

		c.size.Add(1)
		restored++
	}

	if restored > 0 {
		c.logger.Info("Restored prediction cache entries.", zap.Int("restored", restored), zap.Int("offered", len(entries)))
	}
	return restored
}
