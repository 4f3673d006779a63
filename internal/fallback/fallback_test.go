package fallback

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eje-systems/eje/internal/model"
)

func engine(t *testing.T) *Engine {
	t.Helper()
	return New(Config{}, slog.Default())
}

func TestShouldFallback_EmptyOutputs(t *testing.T) {
	e := engine(t)
	triggered, trigger, _ := e.ShouldFallback(nil, nil, 0, nil)
	assert.True(t, triggered)
	assert.Equal(t, model.TriggerAllCriticsFailed, trigger)
}

func TestShouldFallback_S2_MajorityFailure(t *testing.T) {
	e := engine(t)
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictAllow, Confidence: 0.9},
		{Critic: "b", Verdict: model.VerdictError, ErrorType: "exception"},
		{Critic: "c", Verdict: model.VerdictError, ErrorType: "exception"},
		{Critic: "d", Verdict: model.VerdictDeny, Confidence: 0.7},
	}
	triggered, trigger, _ := e.ShouldFallback(outputs, nil, 0, nil)
	require.True(t, triggered)
	assert.Equal(t, model.TriggerMajorityCriticsFailed, trigger)

	bundle := e.Apply(outputs, trigger, "", 0, nil, "req-s2", "")
	assert.Equal(t, model.StrategyConservative, bundle.FallbackDecision.StrategyUsed)
	assert.Equal(t, model.VerdictDeny, bundle.FallbackDecision.Verdict)
	assert.InDelta(t, 0.56, bundle.FallbackDecision.Confidence, 0.001)
	assert.Len(t, bundle.FailedCritics, 2)
}

func TestShouldFallback_S3_GlobalTimeout(t *testing.T) {
	e := New(Config{TimeoutThresholdMS: 2000}, slog.Default())
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictError, ErrorType: "timeout"},
		{Critic: "b", Verdict: model.VerdictError, ErrorType: "timeout"},
		{Critic: "c", Verdict: model.VerdictError, ErrorType: "timeout"},
	}
	triggered, trigger, _ := e.ShouldFallback(outputs, nil, 2100, nil)
	require.True(t, triggered)
	assert.Equal(t, model.TriggerTimeoutExceeded, trigger)

	bundle := e.Apply(outputs, trigger, model.StrategyConservative, 2100, nil, "req-s3", "")
	assert.Equal(t, model.VerdictReview, bundle.FallbackDecision.Verdict)
	assert.True(t, bundle.FallbackDecision.RequiresHumanReview)
	assert.Equal(t, 2100.0, bundle.SystemStateAtTrigger.ElapsedMS)
}

func TestShouldFallback_TimeoutBoundary_2of4NoFallback(t *testing.T) {
	e := engine(t)
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictError, ErrorType: "timeout"},
		{Critic: "b", Verdict: model.VerdictError, ErrorType: "timeout"},
		{Critic: "c", Verdict: model.VerdictAllow, Confidence: 0.9},
		{Critic: "d", Verdict: model.VerdictAllow, Confidence: 0.8},
	}
	triggered, _, _ := e.ShouldFallback(outputs, nil, 0, nil)
	assert.False(t, triggered)
}

func TestShouldFallback_TimeoutBoundary_2of3Triggers(t *testing.T) {
	e := engine(t)
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictError, ErrorType: "timeout"},
		{Critic: "b", Verdict: model.VerdictError, ErrorType: "timeout"},
		{Critic: "c", Verdict: model.VerdictAllow, Confidence: 0.9},
	}
	triggered, trigger, _ := e.ShouldFallback(outputs, nil, 0, nil)
	assert.True(t, triggered)
	assert.Equal(t, model.TriggerTimeoutExceeded, trigger)
}

func TestShouldFallback_AvgConfidenceExactlyPointThreeDoesNotTrigger(t *testing.T) {
	e := engine(t)
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictAllow, Confidence: 0.3},
	}
	agg := &model.Aggregation{AvgConfidence: 0.3}
	triggered, _, _ := e.ShouldFallback(outputs, agg, 0, nil)
	assert.False(t, triggered)
}

func TestApply_Permissive(t *testing.T) {
	e := engine(t)
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictAllow, Confidence: 0.9},
		{Critic: "b", Verdict: model.VerdictError, ErrorType: "exception"},
	}
	bundle := e.Apply(outputs, model.TriggerHighErrorRate, model.StrategyPermissive, 0, nil, "req", "")
	assert.Equal(t, model.VerdictAllow, bundle.FallbackDecision.Verdict)
	assert.InDelta(t, 0.63, bundle.FallbackDecision.Confidence, 0.001)
	assert.Contains(t, bundle.Warnings, "permissive fallback applied - monitor decision closely")
}

func TestApply_EscalateAlwaysReviewsAtZeroConfidence(t *testing.T) {
	e := engine(t)
	bundle := e.Apply(nil, model.TriggerManualOverride, model.StrategyEscalate, 0, nil, "req", "")
	assert.Equal(t, model.VerdictReview, bundle.FallbackDecision.Verdict)
	assert.Equal(t, 0.0, bundle.FallbackDecision.Confidence)
	assert.True(t, bundle.FallbackDecision.RequiresHumanReview)
}

func TestApply_FailSafeUsesSafeDefault(t *testing.T) {
	e := New(Config{SafeDefaultVerdict: model.VerdictDeny}, slog.Default())
	bundle := e.Apply(nil, model.TriggerSystemError, model.StrategyFailSafe, 0, nil, "req", "")
	assert.Equal(t, model.VerdictDeny, bundle.FallbackDecision.Verdict)
	assert.Equal(t, 0.5, bundle.FallbackDecision.Confidence)
}

func TestApply_MajorityFallsThroughToFailSafeWhenNoneSuccessful(t *testing.T) {
	e := engine(t)
	outputs := []model.CriticOutput{
		{Critic: "a", Verdict: model.VerdictError, ErrorType: "exception"},
	}
	bundle := e.Apply(outputs, model.TriggerAllCriticsFailed, model.StrategyMajority, 0, nil, "req", "")
	assert.Equal(t, model.StrategyFailSafe, bundle.FallbackDecision.StrategyUsed)
}

func TestApply_DecisionTimeMSNonNegative(t *testing.T) {
	e := engine(t)
	bundle := e.Apply(nil, model.TriggerSystemError, model.StrategyFailSafe, 0, nil, "req", "")
	assert.GreaterOrEqual(t, bundle.FallbackDecision.DecisionTimeMS, 0.0)
}
