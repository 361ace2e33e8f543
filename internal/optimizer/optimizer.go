// Package optimizer scores candidate solutions on projected profit over a
// finite horizon and keeps a bounded history of the winners.
package optimizer

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"go.uber.org/zap"
)

// ErrNoCandidates is a caller error: Rank needs at least one candidate.
var ErrNoCandidates = errors.New("optimizer: no candidates to rank")

// MaxPaybackDays caps the payback period of candidates that never pay back.
const MaxPaybackDays = 365.0

// Weights are the objective weights of one category.
type Weights struct {
	Retention float64
	Penalty   float64
	Cost      float64
}

// Optimizer ranks candidates. Ranking is pure; only Record mutates state.
type Optimizer struct {
	logger   *zap.Logger
	horizon  int
	defaults Weights
	weights  map[schemas.Category]Weights

	mu      sync.Mutex
	history []Record
	next    int
	full    bool
	totals  totals
}

type totals struct {
	optimizations uint64
	positive      uint64
	profit        float64
}

// New builds an optimizer from configuration. A missing history size falls
// back to 1000 and a missing horizon to 30 days.
func New(cfg config.OptimizerConfig, logger *zap.Logger) *Optimizer {
	o := &Optimizer{
		logger:   logger.Named("optimizer"),
		horizon:  cfg.HorizonDays,
		defaults: Weights(cfg.DefaultWeights),
		weights:  make(map[schemas.Category]Weights, len(cfg.Weights)),
	}
	if o.horizon <= 0 {
		o.horizon = 30
	}
	for category, w := range cfg.Weights {
		o.weights[schemas.Category(strings.ToLower(category))] = Weights(w)
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = 1000
	}
	o.history = make([]Record, size)
	return o
}

// Horizon returns the ROI horizon in days.
func (o *Optimizer) Horizon() int { return o.horizon }

// WeightsFor returns the weights of a category, falling back to the defaults.
func (o *Optimizer) WeightsFor(category schemas.Category) Weights {
	if w, ok := o.weights[category]; ok {
		return w
	}
	return o.defaults
}

// Rank scores every candidate and orders them by descending score. Ties go to
// lower immediate cost, then lower binding risk, then template id.
func (o *Optimizer) Rank(candidates []schemas.CandidateSolution, ctx schemas.DisruptionContext) ([]schemas.ScoredCandidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	w := o.WeightsFor(ctx.Category)
	ranked := make([]schemas.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = o.score(c, w)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
	return ranked, nil
}

// Less is the ranking order.
func Less(a, b schemas.ScoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.ImmediateCost != b.ImmediateCost {
		return a.ImmediateCost < b.ImmediateCost
	}
	if a.BindingRisk != b.BindingRisk {
		return a.BindingRisk < b.BindingRisk
	}
	return a.TemplateID < b.TemplateID
}

func (o *Optimizer) score(c schemas.CandidateSolution, w Weights) schemas.ScoredCandidate {
	benefit := w.Retention*c.RetainedValue + w.Penalty*c.PenaltyAvoided
	return schemas.ScoredCandidate{
		CandidateSolution: c,
		Score:             benefit - w.Cost*c.ImmediateCost,
		Benefit:           benefit,
		ROI:               c.ROI(),
		PaybackDays:       o.payback(c),
	}
}

// payback is the number of days the projected gains need to cover the
// immediate cost, capped at MaxPaybackDays.
func (o *Optimizer) payback(c schemas.CandidateSolution) float64 {
	if c.ImmediateCost <= 0 {
		return 0
	}
	gain := c.RetainedValue + c.PenaltyAvoided
	if gain <= 0 {
		return MaxPaybackDays
	}
	days := c.ImmediateCost / (gain / float64(o.horizon))
	return math.Min(days, MaxPaybackDays)
}

// -- History --

// Record is one optimization outcome kept in the history ring.
type Record struct {
	Category   schemas.Category `json:"category"`
	TemplateID string           `json:"template_id"`
	Approach   string           `json:"approach"`
	Score      float64          `json:"score"`
	ROI        float64          `json:"roi"`
	// ROIPercent is ROI relative to immediate cost.
	ROIPercent float64   `json:"roi_percent"`
	Cost       float64   `json:"cost"`
	At         time.Time `json:"at"`
}

// Record appends the winner of a decision to the history.
func (o *Optimizer) Record(ctx schemas.DisruptionContext, winner schemas.ScoredCandidate) {
	rec := Record{
		Category:   ctx.Category,
		TemplateID: winner.TemplateID,
		Approach:   winner.Approach,
		Score:      winner.Score,
		ROI:        winner.ROI,
		ROIPercent: roiPercent(winner),
		Cost:       winner.ImmediateCost,
		At:         ctx.Timestamp,
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.history[o.next] = rec
	o.next = (o.next + 1) % len(o.history)
	if o.next == 0 {
		o.full = true
	}

	o.totals.optimizations++
	if rec.ROI > 0 {
		o.totals.positive++
	}
	o.totals.profit += rec.ROI
}

func roiPercent(c schemas.ScoredCandidate) float64 {
	if c.ImmediateCost <= 0 {
		return 0
	}
	return c.ROI / c.ImmediateCost * 100
}

// History returns the retained records, oldest first.
func (o *Optimizer) History() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.historyLocked()
}

func (o *Optimizer) historyLocked() []Record {
	if !o.full {
		return append([]Record(nil), o.history[:o.next]...)
	}
	out := make([]Record, 0, len(o.history))
	out = append(out, o.history[o.next:]...)
	return append(out, o.history[:o.next]...)
}

// Stats summarizes every optimization since start, not only the retained history.
type Stats struct {
	TotalOptimizations uint64  `json:"total_optimizations"`
	PositiveROI        uint64  `json:"positive_roi"`
	AverageROI         float64 `json:"average_roi"`
	TotalProjected     float64 `json:"total_projected_profit"`
	HistorySize        int     `json:"history_size"`
}

// Stats returns the running totals.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		TotalOptimizations: o.totals.optimizations,
		PositiveROI:        o.totals.positive,
		TotalProjected:     o.totals.profit,
		HistorySize:        len(o.historyLocked()),
	}
	if s.TotalOptimizations > 0 {
		s.AverageROI = o.totals.profit / float64(s.TotalOptimizations)
	}
	return s
}

// ApproachStats aggregates the retained history per approach.
type ApproachStats struct {
	Approach          string  `json:"approach"`
	AverageROIPercent float64 `json:"average_roi_percent"`
	Uses              int     `json:"uses"`
}

// TopApproaches returns up to n approaches by average ROI percentage over the
// retained history, ties broken by name.
func (o *Optimizer) TopApproaches(n int) []ApproachStats {
	if n <= 0 {
		return nil
	}

	o.mu.Lock()
	records := o.historyLocked()
	o.mu.Unlock()

	agg := make(map[string]*ApproachStats)
	for _, r := range records {
		a := agg[r.Approach]
		if a == nil {
			a = &ApproachStats{Approach: r.Approach}
			agg[r.Approach] = a
		}
		a.AverageROIPercent += r.ROIPercent
		a.Uses++
	}

	out := make([]ApproachStats, 0, len(agg))
	for _, a := range agg {
		a.AverageROIPercent /= float64(a.Uses)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageROIPercent != out[j].AverageROIPercent {
			return out[i].AverageROIPercent > out[j].AverageROIPercent
		}
		return out[i].Approach < out[j].Approach
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
