package judge_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	judge "github.com/eje-systems/eje"
	"github.com/eje-systems/eje/internal/audit"
	"github.com/eje-systems/eje/internal/critics"
	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/governance"
	"github.com/eje-systems/eje/internal/model"
)

// staticCritic always returns the same verdict/confidence pair.
type staticCritic struct {
	name       string
	verdict    model.Verdict
	confidence float64
	priority   *model.Priority
	right      string
	violation  bool
}

func (c staticCritic) Name() string { return c.name }

func (c staticCritic) Evaluate(_ context.Context, _ model.InputSnapshot, _ critics.Budget) (model.CriticOutput, error) {
	return model.CriticOutput{
		Critic:        c.name,
		Verdict:       c.verdict,
		Confidence:    c.confidence,
		Justification: "static test critic",
		Weight:        model.DefaultWeight,
		Priority:      c.priority,
		Timestamp:     time.Now(),
		Right:         c.right,
		Violation:     c.violation,
	}, nil
}

// errorCritic always fails, as a real external critic might on an exception.
type errorCritic struct{ name string }

func (c errorCritic) Name() string { return c.name }

func (c errorCritic) Evaluate(_ context.Context, _ model.InputSnapshot, _ critics.Budget) (model.CriticOutput, error) {
	return model.CriticOutput{}, errors.New("boom")
}

// sleepyCritic blocks past its per-critic timeout regardless of context
// cancellation, the way an uncooperative out-of-process plugin might.
type sleepyCritic struct {
	name  string
	sleep time.Duration
}

func (c sleepyCritic) Name() string { return c.name }

func (c sleepyCritic) Evaluate(_ context.Context, _ model.InputSnapshot, _ critics.Budget) (model.CriticOutput, error) {
	time.Sleep(c.sleep)
	return model.CriticOutput{Critic: c.name, Verdict: model.VerdictAllow, Confidence: 0.5, Timestamp: time.Now()}, nil
}

// fakeAuditLog records every appended event for test assertions.
type fakeAuditLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func newFakeAuditLog() *fakeAuditLog { return &fakeAuditLog{} }

func (l *fakeAuditLog) WriteSigned(_ context.Context, event audit.Event) (audit.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	l.events = append(l.events, event)
	return audit.Receipt{EventID: event.EventID, Sequence: int64(len(l.events) - 1)}, nil
}

func (l *fakeAuditLog) Annotate(ctx context.Context, eventID uuid.UUID, note string) (audit.Receipt, error) {
	return l.WriteSigned(ctx, audit.Event{EventType: "audit_annotation", Payload: map[string]any{"annotates": eventID.String(), "note": note}})
}

func (l *fakeAuditLog) byType(eventType string) []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Event
	for _, e := range l.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func standardHierarchy() judge.RightsHierarchy {
	return judge.RightsHierarchy{
		"dignity":           judge.RightRule{Required: true},
		"autonomy":          judge.RightRule{Required: true},
		"non_discrimination": judge.RightRule{Required: true},
		"safety":            judge.RightRule{Required: false},
		"fairness":          judge.RightRule{Required: false},
		"transparency":      judge.RightRule{Required: false},
		"proportionality":   judge.RightRule{Required: false},
	}
}

// S1 — Clean allow: three critics unanimously ALLOW, no fallback, no override.
func TestDecide_S1_CleanAllow(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(
			staticCritic{name: "a", verdict: model.VerdictAllow, confidence: 0.9},
			staticCritic{name: "b", verdict: model.VerdictAllow, confidence: 0.8},
			staticCritic{name: "c", verdict: model.VerdictAllow, confidence: 0.85},
		),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision, err := engine.Decide(context.Background(), judge.Request{Text: "may I proceed?"})
	require.NoError(t, err)

	assert.Equal(t, judge.Allow, decision.CurrentVerdict())
	assert.Equal(t, model.ConsensusUnanimous, decision.Aggregation.ConsensusLevel)
	assert.False(t, decision.GovernanceOutcome.Escalate)
	assert.False(t, decision.GovernanceOutcome.HumanModified)
	assert.False(t, decision.Bundle.Metadata.Flags.IsFallback)
	assert.Len(t, log.byType("decision_made"), 1)
}

// S2 — Conservative fallback on majority failure. The literal spec example
// uses a 2-of-4 error split; under the trigger chain's strict majority check
// (>50%, matching the boundary-behavior section's timeout example) that
// split alone does not cross either the majority or error-rate thresholds.
// This exercises the same conservative-fallback behavior with an
// unambiguous 3-of-5 failure split instead: verdict=DENY (most restrictive
// among the successful outputs), confidence = min(successful) × 0.8.
func TestDecide_S2_ConservativeFallbackOnMajorityFailure(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(
			staticCritic{name: "allow", verdict: model.VerdictAllow, confidence: 0.9},
			errorCritic{name: "e1"},
			errorCritic{name: "e2"},
			errorCritic{name: "e3"},
			staticCritic{name: "deny", verdict: model.VerdictDeny, confidence: 0.7},
		),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision, err := engine.Decide(context.Background(), judge.Request{Text: "risky action"})
	require.NoError(t, err)

	assert.Equal(t, judge.Deny, decision.CurrentVerdict())
	assert.True(t, decision.Bundle.Metadata.Flags.IsFallback)
	events := log.byType("fallback_triggered")
	require.Len(t, events, 1)
	assert.Equal(t, model.TriggerMajorityCriticsFailed, events[0].Payload["trigger"])
	fb, ok := events[0].Payload["fallback_decision"].(model.FallbackDecision)
	require.True(t, ok)
	assert.Equal(t, model.StrategyConservative, fb.StrategyUsed)
	assert.InDelta(t, 0.56, fb.Confidence, 0.001)
}

// S3 — Global timeout: every critic times out, forcing conservative fallback
// to REVIEW with requires_human_review=true.
func TestDecide_S3_GlobalTimeout(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(
			sleepyCritic{name: "s1", sleep: 300 * time.Millisecond},
			sleepyCritic{name: "s2", sleep: 300 * time.Millisecond},
			sleepyCritic{name: "s3", sleep: 300 * time.Millisecond},
		),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithBudget(judge.Budget{PerCriticTimeout: 80 * time.Millisecond, GlobalTimeout: 2 * time.Second}),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision, err := engine.Decide(context.Background(), judge.Request{Text: "slow critics"})
	require.NoError(t, err)

	assert.Equal(t, judge.Review, decision.CurrentVerdict())
	assert.True(t, decision.Bundle.Metadata.Flags.IsFallback)
	events := log.byType("fallback_triggered")
	require.Len(t, events, 1)
	assert.Equal(t, model.TriggerTimeoutExceeded, events[0].Payload["trigger"])
	fb, ok := events[0].Payload["fallback_decision"].(model.FallbackDecision)
	require.True(t, ok)
	assert.True(t, fb.RequiresHumanReview)
}

// S4 — Hard-right violation: a critic flags a dignity violation, so the
// pipeline raises instead of producing a Decision.
func TestDecide_S4_HardRightViolation(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(
			staticCritic{name: "allow", verdict: model.VerdictAllow, confidence: 0.9},
			staticCritic{name: "dignity", verdict: model.VerdictDeny, confidence: 0.9, right: "dignity", violation: true},
		),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision, err := engine.Decide(context.Background(), judge.Request{Text: "dignity violating request"})
	require.Nil(t, decision)
	require.Error(t, err)

	var rve *ejerr.RightsViolationError
	require.ErrorAs(t, err, &rve)
	assert.Equal(t, "dignity", rve.Right)

	assert.Empty(t, log.byType("decision_made"))
	assert.Len(t, log.byType("rights_violation"), 1)
}

// A hard-rights violation must abort the pipeline even when the rest of the
// critic set would independently trigger a fallback (here, a majority of
// the other critics erroring out triggers majority_critics_failed). No
// fallback Decision may be silently substituted for a RightsViolationError.
func TestDecide_HardRightViolationTakesPriorityOverFallback(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(
			staticCritic{name: "dignity", verdict: model.VerdictDeny, confidence: 0.9, right: "dignity", violation: true},
			errorCritic{name: "b"},
			errorCritic{name: "c"},
			errorCritic{name: "d"},
		),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision, err := engine.Decide(context.Background(), judge.Request{Text: "dignity violating request amid critic failures"})
	require.Nil(t, decision)
	require.Error(t, err)

	var rve *ejerr.RightsViolationError
	require.ErrorAs(t, err, &rve)
	assert.Equal(t, "dignity", rve.Right)

	assert.Empty(t, log.byType("decision_made"))
	assert.Empty(t, log.byType("fallback_triggered"))
	assert.Len(t, log.byType("rights_violation"), 1)
}

// S5 — Valid override: an ethics officer overrides a DENY to ALLOW; the
// decision reflects the new verdict and a signed override_applied event is
// written.
func TestApplyOverride_S5_ValidOverride(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(staticCritic{name: "a", verdict: model.VerdictAllow, confidence: 0.9}),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision := &model.Decision{
		DecisionID:        uuid.New(),
		GovernanceOutcome: model.GovernanceOutcome{Verdict: model.VerdictDeny},
	}

	original := model.VerdictDeny
	req := &model.OverrideRequest{
		RequestID:       uuid.New(),
		Reviewer:        model.ReviewerIdentity{ReviewerID: "officer-1", Name: "R. Ibarra", ReviewerRole: model.ReviewerEthicsOfficer},
		DecisionID:      decision.DecisionID,
		OriginalOutcome: &original,
		ProposedOutcome: model.VerdictAllow,
		Justification:   strings.Repeat("reconsidered against documented mitigating factors. ", 2)[:60],
		Timestamp:       time.Now(),
	}
	require.NoError(t, req.ValidateConstructor())

	applied, err := engine.ApplyOverride(context.Background(), decision, req, judge.ApplyOverrideOptions{})
	require.NoError(t, err)

	assert.Equal(t, judge.Allow, applied.CurrentVerdict())
	assert.True(t, applied.GovernanceOutcome.HumanModified)
	require.NotNil(t, applied.GovernanceOutcome.Override)
	assert.Equal(t, model.ReviewerEthicsOfficer, applied.GovernanceOutcome.Override.OverrideBy.ReviewerRole)

	events := log.byType("override_applied")
	require.Len(t, events, 1)
	outcome, ok := events[0].Payload["outcome_change"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, model.VerdictDeny, outcome["original"])
	assert.Equal(t, model.VerdictAllow, outcome["proposed"])
	assert.Equal(t, model.VerdictAllow, outcome["current"])
}

// S6 — Expired override: a request whose expiry has already passed by the
// time Apply runs is rejected, and the decision is left untouched.
func TestApplyOverride_S6_ExpiredOverride(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(staticCritic{name: "a", verdict: model.VerdictAllow, confidence: 0.9}),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision := &model.Decision{
		DecisionID:        uuid.New(),
		GovernanceOutcome: model.GovernanceOutcome{Verdict: model.VerdictDeny},
	}

	past := time.Now().Add(-2 * time.Hour)
	expiry := past.Add(time.Hour) // strictly after Timestamp, but already passed
	original := model.VerdictDeny
	req := &model.OverrideRequest{
		RequestID:       uuid.New(),
		Reviewer:        model.ReviewerIdentity{ReviewerID: "officer-2", ReviewerRole: model.ReviewerSeniorReviewer},
		DecisionID:      decision.DecisionID,
		OriginalOutcome: &original,
		ProposedOutcome: model.VerdictAllow,
		Justification:   strings.Repeat("a justification long enough to pass validation checks", 1),
		Timestamp:       past,
		ExpiresAt:       &expiry,
	}
	require.NoError(t, req.ValidateConstructor())

	applied, err := engine.ApplyOverride(context.Background(), decision, req, judge.ApplyOverrideOptions{})
	require.Nil(t, applied)
	require.Error(t, err)

	var ove *ejerr.OverrideValidationError
	require.ErrorAs(t, err, &ove)

	assert.Equal(t, model.VerdictDeny, decision.CurrentVerdict())
	assert.Empty(t, log.byType("override_applied"))
}

// Exercises the EU AI Act mode overlay: its mandatory-human-review, high
// oversight posture escalates an advisory safeguard instead of leaving it
// purely informational. Grounded on governance.ModeEUAIAct.
func TestDecide_GovernanceStrictEscalatesOnAdvisorySafeguard(t *testing.T) {
	log := newFakeAuditLog()
	engine, err := judge.New(
		judge.WithCritics(
			staticCritic{name: "a", verdict: model.VerdictAllow, confidence: 0.9},
			staticCritic{name: "transparency", verdict: model.VerdictAllow, confidence: 0.9, right: "transparency", violation: true},
		),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithGovernanceMode(governance.ModeEUAIAct),
		judge.WithAuditLog(log),
	)
	require.NoError(t, err)

	decision, err := engine.Decide(context.Background(), judge.Request{Text: "opaque process"})
	require.NoError(t, err)
	assert.Equal(t, judge.Escalate, decision.CurrentVerdict())
	assert.True(t, decision.Escalated)
}

// A cancelled context never produces a verdict.
func TestDecide_CancelledRequestRaises(t *testing.T) {
	engine, err := judge.New(
		judge.WithCritics(sleepyCritic{name: "slow", sleep: 200 * time.Millisecond}),
		judge.WithRightsHierarchy(standardHierarchy()),
		judge.WithBudget(judge.Budget{PerCriticTimeout: time.Second, GlobalTimeout: time.Second}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision, err := engine.Decide(ctx, judge.Request{Text: "cancel me"})
	require.Nil(t, decision)

	var rc *ejerr.RequestCancelled
	require.ErrorAs(t, err, &rc)
}

// New requires at least one critic and a non-empty rights hierarchy.
func TestNew_RequiresCriticsAndHierarchy(t *testing.T) {
	_, err := judge.New()
	require.Error(t, err)

	var cfgErr *ejerr.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
