// Package fingerprint canonicalizes disruption contexts into cache keys.
//
// A Fingerprint's digest covers the category, the severity bucket and the
// quantized percept signature. Location, timestamp, affected orders and the
// free-text description never take part, so two reports of the same situation
// collapse onto the same cache entry. Order-dependent pricing is redone by the
// template store on every hit.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
)

// Version is mixed into every digest. Bump it whenever the canonical form
// changes so persisted snapshots from an older layout stop matching.
const Version = "fp2"

// Severity buckets.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Fingerprinter derives fingerprints and similarity keys. It is immutable and
// safe for concurrent use.
type Fingerprinter struct {
	width     float64
	maxBucket int
}

// New creates a Fingerprinter. Non-positive settings fall back to a bucket
// width of 0.1 and a key space of ±1000 buckets.
func New(cfg config.FingerprintConfig) *Fingerprinter {
	f := &Fingerprinter{width: cfg.PerceptBucketWidth, maxBucket: cfg.MaxBucket}
	if !(f.width > 0) || math.IsInf(f.width, 0) {
		f.width = 0.1
	}
	if f.maxBucket <= 0 {
		f.maxBucket = 1000
	}
	return f
}

// Fingerprint returns the cache identity of ctx. It never fails: unknown
// categories and non-finite percepts still produce a stable digest.
func (f *Fingerprinter) Fingerprint(ctx schemas.DisruptionContext) schemas.Fingerprint {
	sig := f.Signature(ctx)
	sk := f.SimilarityKey(ctx)

	var b strings.Builder
	b.WriteString(Version)
	b.WriteByte('|')
	b.WriteString(string(sk))
	for _, p := range sig {
		b.WriteByte('|')
		b.WriteString(strconv.Quote(p.Name))
		b.WriteByte('=')
		if p.Label != "" {
			b.WriteString(strconv.Quote(p.Label))
		} else {
			b.WriteString(strconv.Itoa(p.Bucket))
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return schemas.Fingerprint{
		Digest:     hex.EncodeToString(sum[:]),
		Similarity: sk,
		Signature:  sig,
	}
}

// SimilarityKey returns the coarse key: normalized category plus severity bucket.
func (f *Fingerprinter) SimilarityKey(ctx schemas.DisruptionContext) schemas.SimilarityKey {
	category := strings.ToLower(strings.TrimSpace(string(ctx.Category)))
	return schemas.SimilarityKey(category + "/" + SeverityBucket(ctx.Severity))
}

// Signature returns the quantized percepts of ctx sorted by name. Duplicate
// names after normalization keep the lexically smallest raw name's value.
func (f *Fingerprinter) Signature(ctx schemas.DisruptionContext) schemas.Signature {
	if len(ctx.Percepts) == 0 {
		return nil
	}

	raw := make([]string, 0, len(ctx.Percepts))
	for name := range ctx.Percepts {
		raw = append(raw, name)
	}
	sort.Strings(raw)

	seen := make(map[string]struct{}, len(raw))
	sig := make(schemas.Signature, 0, len(raw))
	for _, name := range raw {
		norm := strings.ToLower(strings.TrimSpace(name))
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}

		p := ctx.Percepts[name]
		if p.IsCategorical() {
			sig = append(sig, schemas.PerceptBucket{Name: norm, Label: strings.ToLower(strings.TrimSpace(p.Label))})
			continue
		}
		sig = append(sig, schemas.PerceptBucket{Name: norm, Bucket: f.Quantize(p.Value)})
	}
	sort.Slice(sig, func(i, j int) bool { return sig[i].Name < sig[j].Name })
	return sig
}

// Quantize maps v onto its bucket index, clamped to [-maxBucket, maxBucket].
// NaN and +Inf land on the sentinel maxBucket+1, -Inf on -(maxBucket+1).
func (f *Fingerprinter) Quantize(v float64) int {
	sentinel := f.maxBucket + 1
	switch {
	case math.IsNaN(v), math.IsInf(v, 1):
		return sentinel
	case math.IsInf(v, -1):
		return -sentinel
	}

	q := math.Floor(v/f.width + 1e-9)
	if q > float64(f.maxBucket) {
		return f.maxBucket
	}
	if q < -float64(f.maxBucket) {
		return -f.maxBucket
	}
	return int(q)
}

// SeverityBucket maps a 1–5 severity onto low, medium or high. Out-of-range
// values are clamped.
func SeverityBucket(severity int) string {
	switch {
	case severity <= 2:
		return SeverityLow
	case severity == 3:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Distance is the L1 distance between two signatures in bucket units over the
// union of percept names. A categorical mismatch counts 1 and a percept present
// on one side only counts its bucket magnitude plus one.
func Distance(a, b schemas.Signature) float64 {
	var d float64
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Name < b[j].Name):
			d += onlyOneSide(a[i])
			i++
		case i >= len(a) || b[j].Name < a[i].Name:
			d += onlyOneSide(b[j])
			j++
		default:
			d += pairDistance(a[i], b[j])
			i++
			j++
		}
	}
	return d
}

func onlyOneSide(p schemas.PerceptBucket) float64 {
	if p.Label != "" {
		return 1
	}
	return math.Abs(float64(p.Bucket)) + 1
}

func pairDistance(x, y schemas.PerceptBucket) float64 {
	xCat, yCat := x.Label != "", y.Label != ""
	switch {
	case xCat && yCat:
		if x.Label == y.Label {
			return 0
		}
		return 1
	case xCat || yCat:
		// One side numeric, the other categorical.
		return 1
	default:
		return math.Abs(float64(x.Bucket - y.Bucket))
	}
}
