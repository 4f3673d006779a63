// Package aggregate implements the Aggregator: folding a set of critic
// outputs into a proposed verdict and confidence statistics, independent of
// governance rules. See §4.3.
package aggregate

import (
	"math"

	"github.com/eje-systems/eje/internal/model"
)

// verdictTieOrder is the conservative tie-break ordering: DENY wins ties,
// then REVIEW, then ALLOW, then ESCALATE. See §4.3 step 3.
var verdictTieOrder = map[model.Verdict]int{
	model.VerdictDeny:     0,
	model.VerdictReview:   1,
	model.VerdictAllow:    2,
	model.VerdictEscalate: 3,
}

// Aggregate folds outputs into an Aggregation per §4.3's five-step algorithm.
func Aggregate(outputs []model.CriticOutput) model.Aggregation {
	successful, _ := partition(outputs)

	if len(successful) == 0 {
		return model.Aggregation{
			OverallVerdict: model.VerdictReview,
			AvgConfidence:  0,
			ConsensusLevel: model.ConsensusConflicted,
		}
	}

	verdict, priorityEvents := resolvePriority(successful)
	if verdict == "" {
		verdict = weightedTally(successful)
	}

	avg, variance := confidenceStats(successful)
	distribution := verdictDistribution(successful)
	consensus := consensusLevel(distribution, len(successful))
	ambiguity := 1 - maxShare(distribution, len(successful))

	return model.Aggregation{
		OverallVerdict:      verdict,
		AvgConfidence:       avg,
		ConfidenceVariance:  variance,
		ConsensusLevel:      consensus,
		Ambiguity:           ambiguity,
		VerdictDistribution: distribution,
		PriorityEvents:      priorityEvents,
	}
}

// partition splits outputs into successful (verdict not ERROR/ABSTAIN) and failed.
func partition(outputs []model.CriticOutput) (successful, failed []model.CriticOutput) {
	for _, o := range outputs {
		if o.Verdict == model.VerdictError || o.Verdict == model.VerdictAbstain {
			failed = append(failed, o)
		} else {
			successful = append(successful, o)
		}
	}
	return successful, failed
}

// resolvePriority implements §4.3 step 2: veto-for-DENY wins outright;
// exactly one override wins outright; conflicting overrides fall through to
// the weighted tally and are recorded as a priority event.
func resolvePriority(successful []model.CriticOutput) (model.Verdict, []model.PriorityEvent) {
	for _, o := range successful {
		if o.Priority != nil && *o.Priority == model.PriorityVeto && o.Verdict == model.VerdictDeny {
			return model.VerdictDeny, nil
		}
	}

	var overrideVerdicts []model.Verdict
	var overrideCritics []string
	for _, o := range successful {
		if o.Priority != nil && *o.Priority == model.PriorityOverride {
			overrideVerdicts = append(overrideVerdicts, o.Verdict)
			overrideCritics = append(overrideCritics, o.Critic)
		}
	}

	switch len(overrideVerdicts) {
	case 0:
		return "", nil
	case 1:
		return overrideVerdicts[0], nil
	default:
		distinct := map[model.Verdict]bool{}
		for _, v := range overrideVerdicts {
			distinct[v] = true
		}
		if len(distinct) == 1 {
			// All overrides agree; treat as a single effective override.
			return overrideVerdicts[0], nil
		}
		return "", []model.PriorityEvent{{
			Kind:     "conflicting_override",
			Verdicts: overrideVerdicts,
			Critics:  overrideCritics,
		}}
	}
}

// weightedTally implements §4.3 step 3: for each verdict, sum weight*confidence
// over successful outputs with that verdict, and pick the argmax, breaking
// ties with the conservative ordering.
func weightedTally(successful []model.CriticOutput) model.Verdict {
	scores := map[model.Verdict]float64{}
	for _, o := range successful {
		scores[o.Verdict] += o.Weight * o.Confidence
	}

	var best model.Verdict
	bestScore := math.Inf(-1)
	for v, score := range scores {
		if score > bestScore || (score == bestScore && verdictTieOrder[v] < verdictTieOrder[best]) {
			best = v
			bestScore = score
		}
	}
	return best
}

// confidenceStats computes the mean and population variance of successful
// confidences, per §4.3 step 4.
func confidenceStats(successful []model.CriticOutput) (avg, variance float64) {
	n := float64(len(successful))
	var sum float64
	for _, o := range successful {
		sum += o.Confidence
	}
	avg = sum / n

	var sqDiff float64
	for _, o := range successful {
		d := o.Confidence - avg
		sqDiff += d * d
	}
	variance = sqDiff / n
	return avg, variance
}

func verdictDistribution(successful []model.CriticOutput) model.VerdictDistribution {
	dist := model.VerdictDistribution{}
	for _, o := range successful {
		dist[o.Verdict]++
	}
	return dist
}

// consensusLevel implements §4.3 step 5's share thresholds.
func consensusLevel(dist model.VerdictDistribution, total int) model.ConsensusLevel {
	if total == 0 {
		return model.ConsensusConflicted
	}
	share := maxShare(dist, total)
	switch {
	case len(dist) == 1:
		return model.ConsensusUnanimous
	case share >= 0.8:
		return model.ConsensusStrong
	case share >= 0.5:
		return model.ConsensusModerate
	case isPlurality(dist, total):
		return model.ConsensusWeak
	default:
		return model.ConsensusConflicted
	}
}

func maxShare(dist model.VerdictDistribution, total int) float64 {
	if total == 0 {
		return 0
	}
	max := 0
	for _, count := range dist {
		if count > max {
			max = count
		}
	}
	return float64(max) / float64(total)
}

// isPlurality reports whether exactly one verdict holds the strict maximum
// count (a plurality winner exists even without a majority).
func isPlurality(dist model.VerdictDistribution, total int) bool {
	if total == 0 || len(dist) == 0 {
		return false
	}
	max := 0
	ties := 0
	for _, count := range dist {
		switch {
		case count > max:
			max = count
			ties = 1
		case count == max:
			ties++
		}
	}
	return ties == 1
}
