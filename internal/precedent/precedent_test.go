package precedent

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/eje-systems/eje/internal/model"
)

func TestNewRanker_NormalizesWeights(t *testing.T) {
	r := NewRanker(RankWeights{Similarity: 6, Recency: 2, Confidence: 1.5, OutcomeAlignment: 0.5}, 0, 0)
	sum := r.weights.Similarity + r.weights.Recency + r.weights.Confidence + r.weights.OutcomeAlignment
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.6, r.weights.Similarity, 1e-9)
}

func TestNewRanker_ZeroWeightsFallsBackToDefaults(t *testing.T) {
	r := NewRanker(RankWeights{}, 0, 0)
	assert.InDelta(t, 0.6, r.weights.Similarity, 1e-9)
}

func TestRank_RecentHigherConfidenceOutranksOlderLowerConfidence(t *testing.T) {
	r := NewRanker(DefaultRankWeights, 365, 10)
	now := time.Now()

	recent := ScoredPrecedent{
		Record: Record{
			PrecedentID:   uuid.New(),
			CreatedAt:     now.Add(-1 * 24 * time.Hour),
			CriticOutputs: []model.CriticOutput{{Verdict: model.VerdictAllow, Confidence: 0.9}},
			Verdict:       model.VerdictAllow,
		},
		Similarity: 0.8,
	}
	old := ScoredPrecedent{
		Record: Record{
			PrecedentID:   uuid.New(),
			CreatedAt:     now.Add(-900 * 24 * time.Hour),
			CriticOutputs: []model.CriticOutput{{Verdict: model.VerdictAllow, Confidence: 0.5}},
			Verdict:       model.VerdictAllow,
		},
		Similarity: 0.8,
	}

	ranked := r.Rank([]ScoredPrecedent{old, recent}, nil, now)
	assert.Equal(t, recent.Record.PrecedentID, ranked[0].Record.PrecedentID)
}

func TestRank_DeduplicatesByPrecedentID(t *testing.T) {
	r := NewRanker(DefaultRankWeights, 365, 10)
	id := uuid.New()
	now := time.Now()
	dup := ScoredPrecedent{Record: Record{PrecedentID: id, CreatedAt: now}, Similarity: 0.5}

	ranked := r.Rank([]ScoredPrecedent{dup, dup}, nil, now)
	assert.Len(t, ranked, 1)
}

func TestRank_OutcomeAlignmentNeutralWhenExpectedVerdictAbsent(t *testing.T) {
	r := NewRanker(DefaultRankWeights, 365, 10)
	now := time.Now()
	p := ScoredPrecedent{Record: Record{PrecedentID: uuid.New(), CreatedAt: now, Verdict: model.VerdictDeny}, Similarity: 0.5}

	ranked := r.Rank([]ScoredPrecedent{p}, nil, now)
	assert.Equal(t, 0.5, ranked[0].Scores.OutcomeAlignment)
}

func TestRank_CapsAtMaxResults(t *testing.T) {
	r := NewRanker(DefaultRankWeights, 365, 2)
	now := time.Now()
	var candidates []ScoredPrecedent
	for i := 0; i < 5; i++ {
		candidates = append(candidates, ScoredPrecedent{
			Record:     Record{PrecedentID: uuid.New(), CreatedAt: now},
			Similarity: float64(i) / 10,
		})
	}
	ranked := r.Rank(candidates, nil, now)
	assert.Len(t, ranked, 2)
}
