// Package precedent defines the Precedent Store contract (§4.7) and a
// hybrid ranker the core uses when a store only exposes raw similarity.
// Concrete storage lives in internal/pgstore and internal/sqlitestore;
// internal/qdrantstore is an optional ANN candidate index used by pgstore.
package precedent

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eje-systems/eje/internal/model"
)

// Metric selects the similarity measure a SearchSimilar call uses.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// Query describes a similarity search against the precedent store.
type Query struct {
	Text            string
	Context         map[string]any
	Limit           int
	MinSimilarity   float64
	Filters         map[string]any
	Metric          Metric
	ExpectedVerdict *model.Verdict
}

// Record is a stored precedent: the decision that was made plus the input
// that produced it, keyed for similarity search.
type Record struct {
	PrecedentID   uuid.UUID
	CaseHash      string
	InputText     string
	Context       map[string]any
	CriticOutputs []model.CriticOutput
	Verdict       model.Verdict
	CreatedAt     time.Time
}

// ScoredPrecedent is one SearchSimilar result: the stored record, the raw
// similarity the backend returned, and the component scores that fed the
// final ranking (populated by Ranker.Rank, zero otherwise).
type ScoredPrecedent struct {
	Record     Record
	Similarity float64
	Scores     ScoreBreakdown
	Final      float64
}

// ScoreBreakdown exposes the hybrid ranker's per-component contributions,
// for audit bundles and debugging.
type ScoreBreakdown struct {
	Similarity       float64
	Recency          float64
	Confidence       float64
	OutcomeAlignment float64
}

// Store is the interface the core consumes; it never depends on a concrete
// vector database. Store is idempotent on Record.CaseHash: storing the same
// case twice returns the same PrecedentID.
type Store interface {
	Store(ctx context.Context, record Record) (uuid.UUID, error)
	SearchSimilar(ctx context.Context, query Query) ([]ScoredPrecedent, error)
	GetByID(ctx context.Context, id uuid.UUID) (Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RankWeights are the hybrid ranker's component weights. They are
// normalized to sum to 1 by NewRanker regardless of caller input, per
// SPEC_FULL.md's ranker weight-normalization supplement.
type RankWeights struct {
	Similarity       float64
	Recency          float64
	Confidence       float64
	OutcomeAlignment float64
}

// DefaultRankWeights matches §4.7's defaults: 0.6/0.2/0.15/0.05.
var DefaultRankWeights = RankWeights{Similarity: 0.6, Recency: 0.2, Confidence: 0.15, OutcomeAlignment: 0.05}

// Ranker combines a backend's raw similarity with recency, average critic
// confidence, and outcome alignment into one blended relevance score, for
// stores that expose raw similarity only. See §4.7's ranking contract.
type Ranker struct {
	weights          RankWeights
	recencyDecayDays float64
	maxResults       int
}

// NewRanker constructs a Ranker. weights are normalized to sum to 1;
// recencyDecayDays defaults to 365 and maxResults to 50 when zero.
func NewRanker(weights RankWeights, recencyDecayDays float64, maxResults int) *Ranker {
	if recencyDecayDays <= 0 {
		recencyDecayDays = 365
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	sum := weights.Similarity + weights.Recency + weights.Confidence + weights.OutcomeAlignment
	if sum <= 0 {
		weights = DefaultRankWeights
		sum = weights.Similarity + weights.Recency + weights.Confidence + weights.OutcomeAlignment
	}
	weights.Similarity /= sum
	weights.Recency /= sum
	weights.Confidence /= sum
	weights.OutcomeAlignment /= sum

	return &Ranker{weights: weights, recencyDecayDays: recencyDecayDays, maxResults: maxResults}
}

// Rank blends raw similarity scores into final relevance, sorts descending,
// deduplicates by PrecedentID, and caps at the ranker's max results.
func (r *Ranker) Rank(candidates []ScoredPrecedent, expectedVerdict *model.Verdict, now time.Time) []ScoredPrecedent {
	tau := r.recencyDecayDays / math.Ln2

	seen := make(map[uuid.UUID]bool, len(candidates))
	ranked := make([]ScoredPrecedent, 0, len(candidates))

	for _, c := range candidates {
		if seen[c.Record.PrecedentID] {
			continue
		}
		seen[c.Record.PrecedentID] = true

		ageDays := math.Max(0, now.Sub(c.Record.CreatedAt).Hours()/24.0)
		recency := math.Exp(-ageDays / tau)
		confidence := averageConfidence(c.Record.CriticOutputs)
		outcomeAlignment := 0.5
		if expectedVerdict != nil {
			if c.Record.Verdict == *expectedVerdict {
				outcomeAlignment = 1
			} else {
				outcomeAlignment = 0
			}
		}

		breakdown := ScoreBreakdown{
			Similarity:       c.Similarity,
			Recency:          recency,
			Confidence:       confidence,
			OutcomeAlignment: outcomeAlignment,
		}
		final := r.weights.Similarity*breakdown.Similarity +
			r.weights.Recency*breakdown.Recency +
			r.weights.Confidence*breakdown.Confidence +
			r.weights.OutcomeAlignment*breakdown.OutcomeAlignment

		c.Scores = breakdown
		c.Final = final
		ranked = append(ranked, c)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Final > ranked[j].Final })

	if len(ranked) > r.maxResults {
		ranked = ranked[:r.maxResults]
	}
	return ranked
}

func averageConfidence(outputs []model.CriticOutput) float64 {
	if len(outputs) == 0 {
		return 0.5
	}
	var sum float64
	var n int
	for _, o := range outputs {
		if o.Verdict == model.VerdictError || o.Verdict == model.VerdictAbstain {
			continue
		}
		sum += o.Confidence
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}
