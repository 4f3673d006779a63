package critics

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eje-systems/eje/internal/model"
)

func allow(name string, confidence float64) *StaticCritic {
	return &StaticCritic{CriticName: name, Output: model.CriticOutput{
		Verdict: model.VerdictAllow, Confidence: confidence, Justification: "ok", Weight: 1,
	}}
}

type slowCritic struct {
	name  string
	delay time.Duration
}

func (s *slowCritic) Name() string { return s.name }
func (s *slowCritic) Evaluate(ctx context.Context, _ model.InputSnapshot, _ Budget) (model.CriticOutput, error) {
	select {
	case <-time.After(s.delay):
		return model.CriticOutput{Verdict: model.VerdictAllow, Confidence: 0.9, Justification: "ok"}, nil
	case <-ctx.Done():
		return model.CriticOutput{}, ctx.Err()
	}
}

type panickyCritic struct{ name string }

func (p *panickyCritic) Name() string { return p.name }
func (p *panickyCritic) Evaluate(_ context.Context, _ model.InputSnapshot, _ Budget) (model.CriticOutput, error) {
	panic("boom")
}

func TestRunAll_PreservesOrder(t *testing.T) {
	r := New(slog.Default())
	snapshot := model.InputSnapshot{Text: "x"}
	result := r.RunAll(context.Background(), snapshot, []Critic{
		allow("c1", 0.9), allow("c2", 0.5), allow("c3", 0.7),
	}, Budget{})

	require.Len(t, result.Outputs, 3)
	assert.Equal(t, "c1", result.Outputs[0].Critic)
	assert.Equal(t, "c2", result.Outputs[1].Critic)
	assert.Equal(t, "c3", result.Outputs[2].Critic)
}

func TestRunAll_PerCriticTimeout(t *testing.T) {
	r := New(slog.Default())
	snapshot := model.InputSnapshot{Text: "x"}
	result := r.RunAll(context.Background(), snapshot, []Critic{
		&slowCritic{name: "slow", delay: 200 * time.Millisecond},
		allow("fast", 0.9),
	}, Budget{PerCriticTimeout: 20 * time.Millisecond, GlobalTimeout: time.Second})

	assert.Equal(t, model.VerdictError, result.Outputs[0].Verdict)
	assert.Equal(t, "timeout", result.Outputs[0].ErrorType)
	assert.Equal(t, float64(0), result.Outputs[0].Confidence)
	assert.Equal(t, model.VerdictAllow, result.Outputs[1].Verdict)
}

func TestRunAll_PanicIsolated(t *testing.T) {
	r := New(slog.Default())
	snapshot := model.InputSnapshot{Text: "x"}
	result := r.RunAll(context.Background(), snapshot, []Critic{
		&panickyCritic{name: "boom"}, allow("fine", 0.8),
	}, Budget{})

	assert.Equal(t, model.VerdictError, result.Outputs[0].Verdict)
	assert.Equal(t, "panic", result.Outputs[0].ErrorType)
	assert.Equal(t, model.VerdictAllow, result.Outputs[1].Verdict)
}

func TestRunAll_GlobalTimeoutAbandonsUnfinished(t *testing.T) {
	r := New(slog.Default())
	snapshot := model.InputSnapshot{Text: "x"}
	result := r.RunAll(context.Background(), snapshot, []Critic{
		&slowCritic{name: "slow", delay: 500 * time.Millisecond},
	}, Budget{PerCriticTimeout: time.Second, GlobalTimeout: 30 * time.Millisecond})

	assert.Equal(t, model.VerdictError, result.Outputs[0].Verdict)
	assert.Equal(t, "timeout", result.Outputs[0].ErrorType)
}

func TestRunAll_RetryOnTransient(t *testing.T) {
	r := New(slog.Default())
	r.WithRetryPolicy("flaky", RetryPolicy{MaxAttempts: 3, RetryOn: map[string]bool{"transient": true}})

	attempts := 0
	c := &countingCritic{name: "flaky", fn: func() (model.CriticOutput, error) {
		attempts++
		if attempts < 2 {
			return model.CriticOutput{Verdict: model.VerdictError, ErrorType: "transient"}, nil
		}
		return model.CriticOutput{Verdict: model.VerdictAllow, Confidence: 0.9}, nil
	}}

	result := r.RunAll(context.Background(), model.InputSnapshot{Text: "x"}, []Critic{c}, Budget{})
	assert.Equal(t, model.VerdictAllow, result.Outputs[0].Verdict)
	assert.Equal(t, 1, result.Outputs[0].AttemptedRetries)
}

type countingCritic struct {
	name string
	fn   func() (model.CriticOutput, error)
}

func (c *countingCritic) Name() string { return c.name }
func (c *countingCritic) Evaluate(_ context.Context, _ model.InputSnapshot, _ Budget) (model.CriticOutput, error) {
	return c.fn()
}
