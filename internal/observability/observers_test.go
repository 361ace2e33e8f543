package observability

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
)

func decided(match schemas.Match, low bool) schemas.Observation {
	return schemas.Observation{
		Fingerprint:   "abc",
		Category:      schemas.CategoryTraffic,
		Match:         match,
		TemplateID:    "traffic-reroute-notify",
		Score:         24.4,
		ROI:           23.9,
		LowConfidence: low,
		Latency:       2 * time.Millisecond,
	}
}

func TestOutcomeOf(t *testing.T) {
	unhandled := fmt.Errorf("%w: nothing applies", schemas.ErrUnhandledScenario)
	invalid := &schemas.ValidationError{Field: "severity", Reason: "out of range"}

	assert.Equal(t, OutcomeDecided, OutcomeOf(schemas.Observation{}))
	assert.Equal(t, OutcomeUnhandled, OutcomeOf(schemas.Observation{Err: unhandled}))
	assert.Equal(t, OutcomeInvalid, OutcomeOf(schemas.Observation{Err: invalid}))
	assert.Equal(t, OutcomeError, OutcomeOf(schemas.Observation{Err: errors.New("boom")}))
}

func TestLogObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogObserver(zap.New(core))

	l.Observe(decided(schemas.MatchExact, false))
	l.Observe(schemas.Observation{Category: schemas.CategoryWeather, Match: schemas.MatchMiss,
		Err: fmt.Errorf("%w: none", schemas.ErrUnhandledScenario)})
	l.Observe(schemas.Observation{Err: &schemas.ValidationError{Field: "category", Reason: "unknown"}})

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "decisions", entries[0].LoggerName)
	assert.Equal(t, "traffic-reroute-notify", entries[0].ContextMap()["template"])
	assert.Equal(t, "exact", entries[0].ContextMap()["match"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "weather", entries[1].ContextMap()["category"])

	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()

	m.Observe(decided(schemas.MatchMiss, false))
	m.Observe(decided(schemas.MatchExact, true))
	m.Observe(decided(schemas.MatchExact, false))
	m.Observe(schemas.Observation{Category: schemas.CategoryTraffic, Match: schemas.MatchMiss,
		Err: fmt.Errorf("%w: none", schemas.ErrUnhandledScenario)})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("traffic", "miss", OutcomeDecided)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("traffic", "exact", OutcomeDecided)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("traffic", "miss", OutcomeUnhandled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lowConfidence.WithLabelValues("traffic")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.latency))
}

func TestMetrics_GaugeFuncAndHandler(t *testing.T) {
	m := NewMetrics()
	require.NoError(t, m.GaugeFunc("cache_entries", "Entries in the prediction cache.", func() float64 { return 42 }))
	assert.Error(t, m.GaugeFunc("cache_entries", "duplicate", func() float64 { return 0 }))

	m.Observe(decided(schemas.MatchMiss, false))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "synapse_cache_entries 42")
	assert.Contains(t, string(body), `synapse_decisions_total{category="traffic",match="miss",outcome="decided"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
