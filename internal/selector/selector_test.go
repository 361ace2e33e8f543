package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
)

func scored(id string, score, benefit float64) schemas.ScoredCandidate {
	return schemas.ScoredCandidate{
		CandidateSolution: schemas.CandidateSolution{TemplateID: id},
		Score:             score,
		Benefit:           benefit,
		ROI:               score,
	}
}

func TestSelect_Empty(t *testing.T) {
	s := New(config.SelectorConfig{ConfidenceThreshold: 5})
	_, err := s.Select(nil, Meta{})
	assert.ErrorIs(t, err, ErrEmptyRanking)
}

func TestSelect_AutoCommit(t *testing.T) {
	s := New(config.SelectorConfig{ConfidenceThreshold: 5, Alternatives: 2})
	ranked := []schemas.ScoredCandidate{scored("a", 30, 40), scored("b", 10, 20), scored("c", 1, 2)}

	d, err := s.Select(ranked, Meta{Fingerprint: "fp", Match: schemas.MatchMiss, HorizonDays: 30})
	require.NoError(t, err)

	assert.Equal(t, "a", d.Winner.TemplateID)
	assert.False(t, d.LowConfidence)
	assert.True(t, d.AutoCommit())
	assert.Empty(t, d.Alternatives)
	require.Len(t, d.RunnerUps, 2)
	assert.Equal(t, "b", d.RunnerUps[0].TemplateID)
	assert.Equal(t, schemas.SourceSynthesized, d.Source)
	assert.Equal(t, 30.0, d.ProjectedROI)
	assert.InDelta(t, 0.75, d.Confidence, 1e-9)
	assert.Equal(t, "fp", d.Fingerprint)
	assert.Equal(t, 30, d.HorizonDays)
}

func TestSelect_ScoreEqualToThresholdIsLowConfidence(t *testing.T) {
	s := New(config.SelectorConfig{ConfidenceThreshold: 10})
	d, err := s.Select([]schemas.ScoredCandidate{scored("a", 10, 20), scored("b", 5, 10)}, Meta{Match: schemas.MatchMiss})
	require.NoError(t, err)
	assert.True(t, d.LowConfidence)
	require.Len(t, d.Alternatives, 2)
	assert.Equal(t, "a", d.Alternatives[0].TemplateID)

	d, err = s.Select([]schemas.ScoredCandidate{scored("a", 10.000001, 20)}, Meta{Match: schemas.MatchMiss})
	require.NoError(t, err)
	assert.False(t, d.LowConfidence)
}

func TestSelect_LowConfidence(t *testing.T) {
	s := New(config.SelectorConfig{ConfidenceThreshold: 100, Alternatives: 2})

	t.Run("top two offered", func(t *testing.T) {
		ranked := []schemas.ScoredCandidate{scored("a", 30, 40), scored("b", 10, 20), scored("c", 1, 2)}
		d, err := s.Select(ranked, Meta{Match: schemas.MatchExact})
		require.NoError(t, err)

		assert.True(t, d.LowConfidence)
		assert.False(t, d.AutoCommit())
		require.Len(t, d.Alternatives, 2)
		assert.Equal(t, "a", d.Alternatives[0].TemplateID)
		assert.Equal(t, "b", d.Alternatives[1].TemplateID)
		assert.Equal(t, schemas.SourceCacheHit, d.Source)
	})

	t.Run("single candidate", func(t *testing.T) {
		d, err := s.Select([]schemas.ScoredCandidate{scored("only", 1, 2)}, Meta{Match: schemas.MatchMiss})
		require.NoError(t, err)
		assert.True(t, d.LowConfidence)
		require.Len(t, d.Alternatives, 1)
		assert.Empty(t, d.RunnerUps)
	})

	t.Run("does not alias the ranking", func(t *testing.T) {
		ranked := []schemas.ScoredCandidate{scored("a", 3, 4), scored("b", 1, 2)}
		d, err := s.Select(ranked, Meta{Match: schemas.MatchMiss})
		require.NoError(t, err)
		ranked[0].TemplateID = "mutated"
		ranked[1].TemplateID = "mutated"
		assert.Equal(t, "a", d.Alternatives[0].TemplateID)
		assert.Equal(t, "b", d.RunnerUps[0].TemplateID)
	})
}

func TestNew_MinimumAlternatives(t *testing.T) {
	s := New(config.SelectorConfig{ConfidenceThreshold: 1000, Alternatives: 0})
	ranked := []schemas.ScoredCandidate{scored("a", 3, 4), scored("b", 2, 4), scored("c", 1, 4)}
	d, err := s.Select(ranked, Meta{})
	require.NoError(t, err)
	assert.Len(t, d.Alternatives, 2)
	assert.Equal(t, 1000.0, s.Threshold())
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name string
		c    schemas.ScoredCandidate
		meta Meta
		want float64
	}{
		{"no benefit", scored("a", -5, 0), Meta{}, 0},
		{"negative score", scored("a", -5, 10), Meta{}, 0},
		{"share of benefit", scored("a", 5, 10), Meta{Match: schemas.MatchExact}, 0.5},
		{"approximate discount", scored("a", 5, 10), Meta{Match: schemas.MatchApproximate, Distance: 1}, 0.25},
		{"capped", scored("a", 20, 10), Meta{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.c, tt.meta), 1e-9)
		})
	}
}
