// Package prewarm pre-computes cache entries for disruptions a forecast
// expects, so the first real occurrence is a cache hit.
package prewarm

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
)

// Time-of-day and weather multipliers applied to a pattern's base probability.
const (
	RushHourFactor = 1.4
	LunchFactor    = 1.2
	AdverseFactor  = 1.5
	ClearFactor    = 0.8
)

// Warmer is the engine surface the prewarmer drives.
type Warmer interface {
	Prewarm(ctx schemas.DisruptionContext) error
}

// Stats counts what happened to forecast patterns.
type Stats struct {
	Considered int `json:"considered"`
	Prewarmed  int `json:"prewarmed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *Stats) add(o Stats) {
	s.Considered += o.Considered
	s.Prewarmed += o.Prewarmed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Prewarmer feeds likely contexts to a Warmer at a bounded rate.
type Prewarmer struct {
	warmer         Warmer
	logger         *zap.Logger
	limiter        *rate.Limiter
	minProbability float64

	mu    sync.Mutex
	total Stats
}

// New creates a Prewarmer.
func New(cfg config.PrewarmConfig, warmer Warmer, logger *zap.Logger) (*Prewarmer, error) {
	if warmer == nil {
		return nil, errors.New("warmer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Prewarmer{
		warmer:         warmer,
		logger:         logger.Named("prewarm"),
		limiter:        rate.NewLimiter(limit, burst),
		minProbability: cfg.MinProbability,
	}, nil
}

// Probability adjusts a pattern's base probability for the hour of at and the
// weather condition, capped at 1.
func Probability(base float64, at time.Time, weather string) float64 {
	p := base * TimeFactor(at) * WeatherFactor(weather)
	return math.Max(0, math.Min(1, p))
}

// TimeFactor is 1.4 during the morning (7-9h) and evening (17-19h) rush, 1.2
// over lunch (11-14h) and 1 otherwise. Hour ranges are inclusive.
func TimeFactor(at time.Time) float64 {
	h := at.Hour()
	switch {
	case (h >= 7 && h <= 9) || (h >= 17 && h <= 19):
		return RushHourFactor
	case h >= 11 && h <= 14:
		return LunchFactor
	default:
		return 1
	}
}

// WeatherFactor is 1.5 for rain, storm or snow, 0.8 for clear skies and 1
// otherwise.
func WeatherFactor(condition string) float64 {
	switch strings.ToLower(strings.TrimSpace(condition)) {
	case "rain", "storm", "snow":
		return AdverseFactor
	case "clear":
		return ClearFactor
	default:
		return 1
	}
}

// weatherOf picks the most specific condition: pattern, then the context's
// weather percept, then the forecast default.
func weatherOf(f Forecast, p Pattern) string {
	if p.Weather != "" {
		return p.Weather
	}
	for name, v := range p.Context.Percepts {
		if strings.EqualFold(strings.TrimSpace(name), "weather") && v.Label != "" {
			return v.Label
		}
	}
	return f.Weather
}

// Run warms every pattern whose adjusted probability exceeds the configured
// minimum. Contexts without a timestamp are stamped with at. A failed pattern
// is counted and logged; Run only returns an error when ctx is done.
func (p *Prewarmer) Run(ctx context.Context, f Forecast, at time.Time) (Stats, error) {
	var run Stats
	defer func() {
		p.mu.Lock()
		p.total.add(run)
		p.mu.Unlock()
	}()

	for _, pat := range f.Patterns {
		run.Considered++
		prob := Probability(pat.Probability, at, weatherOf(f, pat))
		if prob <= p.minProbability {
			run.Skipped++
			p.logger.Debug("Pattern below probability threshold.",
				zap.String("pattern", pat.Name), zap.Float64("probability", prob))
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Warn("Context cancelled while waiting for rate limiter", zap.Error(err))
			return run, err
		}

		dctx := pat.Context
		if dctx.Timestamp.IsZero() {
			dctx.Timestamp = at
		}
		if err := p.warmer.Prewarm(dctx); err != nil {
			run.Failed++
			p.logger.Warn("Failed to prewarm pattern.", zap.String("pattern", pat.Name), zap.Error(err))
			continue
		}
		run.Prewarmed++
	}

	p.logger.Info("Prewarm run complete.",
		zap.Int("considered", run.Considered),
		zap.Int("prewarmed", run.Prewarmed),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed))
	return run, nil
}

// Stats returns totals over every run.
func (p *Prewarmer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
