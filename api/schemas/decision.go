package schemas

import (
	"time"
)

// -- Fingerprint Schemas --

// SimilarityKey is the coarse key (category + severity bucket) used for
// approximate lookups.
type SimilarityKey string

// PerceptBucket is one quantized percept in a signature.
type PerceptBucket struct {
	Name   string `json:"name"`
	Bucket int    `json:"bucket"`
	Label  string `json:"label,omitempty"`
}

// Signature is the sorted list of quantized percepts of a context.
type Signature []PerceptBucket

// Fingerprint is the cache identity of a disruption context. Two contexts with
// equal digests are interchangeable for caching.
type Fingerprint struct {
	Digest     string        `json:"digest"`
	Similarity SimilarityKey `json:"similarity"`
	Signature  Signature     `json:"signature,omitempty"`
}

// -- Candidate Schemas --

// Action is a single corrective step of a candidate solution.
type Action struct {
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Cost        float64 `json:"cost"`
}

// CandidateSolution is one possible corrective action set with its projected
// cost and benefit.
type CandidateSolution struct {
	TemplateID string             `json:"template_id"`
	Approach   string             `json:"approach,omitempty"`
	Actions    []Action           `json:"actions"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	// ImmediateCost is what executing the actions costs now.
	ImmediateCost float64 `json:"immediate_cost"`
	// RetainedValue is the customer value retained over the ROI horizon.
	RetainedValue float64 `json:"retained_value"`
	// PenaltyAvoided is the SLA penalty the actions avoid.
	PenaltyAvoided float64 `json:"penalty_avoided"`
	// BindingRisk is the monetary exposure of the bound parameters
	// (refunds, credits). Lower is preferred on equal score.
	BindingRisk float64 `json:"binding_risk"`
}

// ROI is the projected return: (retained value + penalty avoided) - immediate cost.
func (c CandidateSolution) ROI() float64 {
	return c.RetainedValue + c.PenaltyAvoided - c.ImmediateCost
}

// ScoredCandidate is a candidate with the optimizer's verdict attached.
type ScoredCandidate struct {
	CandidateSolution
	Score float64 `json:"score"`
	// Benefit is the weighted benefit term of the score, before cost.
	Benefit     float64 `json:"benefit"`
	ROI         float64 `json:"roi"`
	PaybackDays float64 `json:"payback_days"`
}

// -- Decision Schemas --

// Source says where a decision's candidates came from.
type Source string

const (
	SourceCacheHit    Source = "cache-hit"
	SourceSynthesized Source = "synthesized"
)

// Match classifies the cache lookup that fed a decision.
type Match string

const (
	MatchExact       Match = "exact"
	MatchApproximate Match = "approximate"
	MatchMiss        Match = "miss"
)

// Decision is the terminal, immutable output of one decision cycle.
type Decision struct {
	Winner    ScoredCandidate   `json:"winner"`
	RunnerUps []ScoredCandidate `json:"runner_ups,omitempty"`
	// Alternatives is populated for low-confidence decisions with the top
	// candidates offered for human or agent review.
	Alternatives  []ScoredCandidate `json:"alternatives,omitempty"`
	ProjectedROI  float64           `json:"projected_roi"`
	Confidence    float64           `json:"confidence"`
	LowConfidence bool              `json:"low_confidence"`
	Source        Source            `json:"source"`
	Match         Match             `json:"match"`
	Distance      float64           `json:"distance,omitempty"`
	Fingerprint   string            `json:"fingerprint"`
	HorizonDays   int               `json:"horizon_days"`
}

// AutoCommit reports whether the decision may be executed without review.
func (d Decision) AutoCommit() bool { return !d.LowConfidence }

// -- Observability Schemas --

// Observation is what the core hands to the observability collaborator for
// every decision cycle. The core itself performs no I/O for it.
type Observation struct {
	Fingerprint   string        `json:"fingerprint"`
	Category      Category      `json:"category"`
	Match         Match         `json:"match"`
	TemplateID    string        `json:"template_id,omitempty"`
	Score         float64       `json:"score"`
	ROI           float64       `json:"roi"`
	LowConfidence bool          `json:"low_confidence"`
	Latency       time.Duration `json:"latency"`
	Err           error         `json:"-"`
}
