// Package selector turns a ranked candidate list into a Decision.
package selector

import (
	"errors"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
)

// ErrEmptyRanking is returned when there is nothing to select from.
var ErrEmptyRanking = errors.New("selector: ranking is empty")

// Meta carries the lookup details recorded on the Decision.
type Meta struct {
	Fingerprint string
	Match       schemas.Match
	Distance    float64
	HorizonDays int
}

// Selector applies the confidence threshold. It holds no mutable state.
type Selector struct {
	threshold    float64
	alternatives int
}

// New creates a Selector. Fewer than two alternatives is raised to two.
func New(cfg config.SelectorConfig) *Selector {
	s := &Selector{threshold: cfg.ConfidenceThreshold, alternatives: cfg.Alternatives}
	if s.alternatives < 2 {
		s.alternatives = 2
	}
	return s
}

// Threshold returns the score an auto-committed decision must exceed.
func (s *Selector) Threshold() float64 { return s.threshold }

// Select picks the top candidate. Only a top score above the threshold is
// auto-committed; anything else yields a low-confidence decision listing the
// top candidates as alternatives.
func (s *Selector) Select(ranked []schemas.ScoredCandidate, meta Meta) (schemas.Decision, error) {
	if len(ranked) == 0 {
		return schemas.Decision{}, ErrEmptyRanking
	}

	winner := ranked[0]
	d := schemas.Decision{
		Winner:       winner,
		ProjectedROI: winner.ROI,
		Confidence:   Confidence(winner, meta),
		Source:       schemas.SourceSynthesized,
		Match:        meta.Match,
		Distance:     meta.Distance,
		Fingerprint:  meta.Fingerprint,
		HorizonDays:  meta.HorizonDays,
	}
	if meta.Match == schemas.MatchExact || meta.Match == schemas.MatchApproximate {
		d.Source = schemas.SourceCacheHit
	}
	if len(ranked) > 1 {
		d.RunnerUps = append([]schemas.ScoredCandidate(nil), ranked[1:]...)
	}

	if winner.Score <= s.threshold {
		d.LowConfidence = true
		n := s.alternatives
		if n > len(ranked) {
			n = len(ranked)
		}
		d.Alternatives = append([]schemas.ScoredCandidate(nil), ranked[:n]...)
	}
	return d, nil
}

// Confidence is the share of the weighted benefit left after cost, clamped to
// [0, 1] and discounted by 1/(1+distance) for approximate hits.
func Confidence(c schemas.ScoredCandidate, meta Meta) float64 {
	if c.Benefit <= 0 {
		return 0
	}
	conf := c.Score / c.Benefit
	switch {
	case conf < 0:
		conf = 0
	case conf > 1:
		conf = 1
	}
	if meta.Match == schemas.MatchApproximate {
		conf /= 1 + meta.Distance
	}
	return conf
}
