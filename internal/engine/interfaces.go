// internal/engine/interfaces.go
package engine

import (
	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
	"github.com/xkilldash9x/synapse-cli/internal/selector"
)

// -- Interfaces for Dependency Inversion --

// Fingerprinter derives cache keys from contexts.
type Fingerprinter interface {
	Fingerprint(ctx schemas.DisruptionContext) schemas.Fingerprint
}

// PredictionCache is the lookup/write surface the engine needs.
type PredictionCache interface {
	Lookup(fp schemas.Fingerprint, sk schemas.SimilarityKey, verify predcache.Verifier) predcache.Result
	Write(fp schemas.Fingerprint, candidates []schemas.ScoredCandidate) error
}

// TemplateStore synthesizes candidates on a miss, re-checks them on an
// approximate hit and re-prices cached candidates for the current context.
type TemplateStore interface {
	Synthesize(ctx schemas.DisruptionContext) []schemas.CandidateSolution
	Applicable(templateID string, ctx schemas.DisruptionContext) bool
	Reprice(cands []schemas.CandidateSolution, ctx schemas.DisruptionContext) []schemas.CandidateSolution
}

// Ranker scores candidates and keeps the optimization history.
type Ranker interface {
	Rank(candidates []schemas.CandidateSolution, ctx schemas.DisruptionContext) ([]schemas.ScoredCandidate, error)
	Record(ctx schemas.DisruptionContext, winner schemas.ScoredCandidate)
	Horizon() int
}

// DecisionSelector applies the confidence policy.
type DecisionSelector interface {
	Select(ranked []schemas.ScoredCandidate, meta selector.Meta) (schemas.Decision, error)
}

// Observer receives one Observation per decision cycle. Implementations must
// be safe for concurrent use and should return quickly.
type Observer interface {
	Observe(obs schemas.Observation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(schemas.Observation)

// Observe calls f.
func (f ObserverFunc) Observe(obs schemas.Observation) { f(obs) }

// MultiObserver fans an observation out to several observers in order.
type MultiObserver []Observer

// Observe forwards obs to every non-nil observer.
func (m MultiObserver) Observe(obs schemas.Observation) {
	for _, o := range m {
		if o != nil {
			o.Observe(obs)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(schemas.Observation) {}
