package observability

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
)

// Outcome labels.
const (
	OutcomeDecided   = "decided"
	OutcomeInvalid   = "invalid"
	OutcomeUnhandled = "unhandled"
	OutcomeError     = "error"
)

// OutcomeOf classifies an observation for logs and metric labels.
func OutcomeOf(o schemas.Observation) string {
	switch {
	case o.Err == nil:
		return OutcomeDecided
	case errors.Is(o.Err, schemas.ErrInvalidContext):
		return OutcomeInvalid
	case errors.Is(o.Err, schemas.ErrUnhandledScenario):
		return OutcomeUnhandled
	default:
		return OutcomeError
	}
}

// -- Log Observer --

// LogObserver writes one structured line per decision cycle.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses the global one.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = GetLogger()
	}
	return &LogObserver{logger: logger.Named("decisions")}
}

// Observe logs decisions at debug level, unhandled scenarios at warn level
// since they need escalation, and invalid input at info level.
func (l *LogObserver) Observe(o schemas.Observation) {
	fields := []zap.Field{
		zap.String("category", string(o.Category)),
		zap.String("match", string(o.Match)),
		zap.Duration("latency", o.Latency),
	}
	if o.Fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", o.Fingerprint))
	}

	switch OutcomeOf(o) {
	case OutcomeDecided:
		fields = append(fields,
			zap.String("template", o.TemplateID),
			zap.Float64("score", o.Score),
			zap.Float64("roi", o.ROI),
			zap.Bool("low_confidence", o.LowConfidence))
		l.logger.Debug("Decision made.", fields...)
	case OutcomeUnhandled:
		l.logger.Warn("Unhandled scenario; escalation required.", append(fields, zap.Error(o.Err))...)
	case OutcomeInvalid:
		l.logger.Info("Rejected invalid disruption context.", append(fields, zap.Error(o.Err))...)
	default:
		l.logger.Error("Decision cycle failed.", append(fields, zap.Error(o.Err))...)
	}
}

// -- Prometheus Metrics --

// Metrics exports decision counters and latency on a dedicated registry.
type Metrics struct {
	registry      *prometheus.Registry
	decisions     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	roi           prometheus.Histogram
	lowConfidence *prometheus.CounterVec
}

// NewMetrics creates the collectors and a registry holding them plus the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synapse",
			Name:      "decisions_total",
			Help:      "Decision cycles by category, cache match and outcome.",
		}, []string{"category", "match", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synapse",
			Name:      "decision_latency_seconds",
			Help:      "Decision cycle latency by cache match.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .3, 1},
		}, []string{"match"}),
		roi: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synapse",
			Name:      "projected_roi",
			Help:      "Projected ROI of selected solutions.",
			Buckets:   []float64{-100, -10, 0, 10, 25, 50, 100, 250, 500, 1000},
		}),
		lowConfidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synapse",
			Name:      "low_confidence_total",
			Help:      "Decisions that need review before execution.",
		}, []string{"category"}),
	}
	m.registry.MustRegister(
		m.decisions, m.latency, m.roi, m.lowConfidence,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one decision cycle.
func (m *Metrics) Observe(o schemas.Observation) {
	outcome := OutcomeOf(o)
	m.decisions.WithLabelValues(string(o.Category), string(o.Match), outcome).Inc()
	m.latency.WithLabelValues(string(o.Match)).Observe(o.Latency.Seconds())
	if outcome != OutcomeDecided {
		return
	}
	m.roi.Observe(o.ROI)
	if o.LowConfidence {
		m.lowConfidence.WithLabelValues(string(o.Category)).Inc()
	}
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "synapse",
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
