package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/model"
)

func conf(v float64) *float64 { return &v }

func TestNormalize_MissingText(t *testing.T) {
	n := New()
	_, err := n.Normalize(Input{RawOutputs: []RawCriticOutput{{Verdict: model.VerdictAllow, Confidence: conf(0.9)}}})
	require.Error(t, err)
	assert.IsType(t, &ejerr.MissingInputError{}, err)
}

func TestNormalize_MissingCritics(t *testing.T) {
	n := New()
	_, err := n.Normalize(Input{InputText: "do the thing"})
	require.Error(t, err)
	assert.IsType(t, &ejerr.MissingInputError{}, err)
}

func TestNormalize_InputConflict(t *testing.T) {
	n := New()
	_, err := n.Normalize(Input{
		InputText: "do the thing",
		Context:   map[string]any{"text": "do a different thing"},
		RawOutputs: []RawCriticOutput{
			{Verdict: model.VerdictAllow, Confidence: conf(0.9)},
		},
	})
	require.Error(t, err)
	assert.IsType(t, &ejerr.InputConflictError{}, err)
}

func TestNormalize_DropsInvalidOutputsButSurvivesWithOthers(t *testing.T) {
	n := New()
	bundle, err := n.Normalize(Input{
		InputText: "do the thing",
		RawOutputs: []RawCriticOutput{
			{Critic: "a", Verdict: model.VerdictAllow, Confidence: conf(0.9)},
			{Critic: "b"}, // missing verdict and confidence
		},
	})
	require.NoError(t, err)
	require.Len(t, bundle.CriticOutputs, 1)
	require.Len(t, bundle.ValidationErrors, 1)
	assert.Equal(t, model.SeverityError, bundle.ValidationErrors[0].Severity)
}

func TestNormalize_AllDroppedFails(t *testing.T) {
	n := New()
	_, err := n.Normalize(Input{
		InputText:  "do the thing",
		RawOutputs: []RawCriticOutput{{Critic: "a"}, {Critic: "b"}},
	})
	require.Error(t, err)
	assert.IsType(t, &ejerr.MissingInputError{}, err)
}

func TestNormalize_RequiresHumanReviewFlag(t *testing.T) {
	n := New()
	bundle, err := n.Normalize(Input{
		InputText: "do the thing",
		RawOutputs: []RawCriticOutput{
			{Critic: "a", Verdict: model.VerdictReview, Confidence: conf(0.5)},
		},
	})
	require.NoError(t, err)
	assert.True(t, bundle.Metadata.Flags.RequiresHumanReview)
}

func TestNormalize_ContextHashStableUnderKeyPermutation(t *testing.T) {
	n := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in1 := Input{
		InputText:  "x",
		Context:    map[string]any{"a": 1, "b": 2},
		RawOutputs: []RawCriticOutput{{Critic: "a", Verdict: model.VerdictAllow, Confidence: conf(0.9)}},
		Now:        func() time.Time { return now },
	}
	in2 := in1
	in2.Context = map[string]any{"b": 2, "a": 1}

	b1, err := n.Normalize(in1)
	require.NoError(t, err)
	b2, err := n.Normalize(in2)
	require.NoError(t, err)
	assert.Equal(t, b1.InputSnapshot.ContextHash, b2.InputSnapshot.ContextHash)
}
