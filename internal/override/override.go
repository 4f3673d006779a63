// Package override implements the Override Pipeline: validating and applying
// a human reviewer's override to a Decision, and recording the event in the
// audit log. See §4.6.
package override

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eje-systems/eje/internal/audit"
	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/model"
)

// ApplyOptions controls Apply's mutation behavior.
type ApplyOptions struct {
	// PreserveOriginal, when true, operates on a deep copy of the decision
	// and returns it, leaving the caller's original untouched.
	PreserveOriginal bool
}

// Pipeline validates and applies override requests, and writes the
// resulting events to an audit.Log. Safe for concurrent use as long as the
// underlying Log is.
type Pipeline struct {
	log    audit.Log
	logger *slog.Logger
}

// New constructs a Pipeline backed by log.
func New(log audit.Log, logger *slog.Logger) *Pipeline {
	return &Pipeline{log: log, logger: logger}
}

// Validate checks the override request against the decision it targets, per
// §4.6's validation rules. Request-level structural validation (length,
// placeholder detection, priority range) is the constructor's
// responsibility (model.OverrideRequest.ValidateConstructor) and is not
// repeated here.
func (p *Pipeline) Validate(decision *model.Decision, req *model.OverrideRequest) error {
	now := time.Now()
	if req.IsExpired(now) {
		return &ejerr.OverrideValidationError{
			RequestID:  req.RequestID.String(),
			DecisionID: decision.DecisionID.String(),
			Reason:     "request expired",
		}
	}
	if req.DecisionID != decision.DecisionID {
		return &ejerr.OverrideValidationError{
			RequestID:  req.RequestID.String(),
			DecisionID: decision.DecisionID.String(),
			Reason:     "decision_id mismatch",
		}
	}
	if req.OriginalOutcome != nil && *req.OriginalOutcome != decision.CurrentVerdict() {
		return &ejerr.OverrideValidationError{
			RequestID:  req.RequestID.String(),
			DecisionID: decision.DecisionID.String(),
			Reason:     fmt.Sprintf("expected original outcome %q but decision has %q", *req.OriginalOutcome, decision.CurrentVerdict()),
		}
	}
	return nil
}

// Apply validates req and, if valid, applies it to decision per §4.6's
// six-step application semantics. Returns the modified decision (a copy when
// opts.PreserveOriginal is set, otherwise the same pointer mutated in
// place).
func (p *Pipeline) Apply(decision *model.Decision, req *model.OverrideRequest, opts ApplyOptions) (*model.Decision, error) {
	if err := p.Validate(decision, req); err != nil {
		return nil, err
	}

	target := decision
	if opts.PreserveOriginal {
		copied := deepCopyDecision(*decision)
		target = &copied
	}

	preOverrideVerdict := target.CurrentVerdict()

	target.GovernanceOutcome.Verdict = req.ProposedOutcome
	target.GovernanceOutcome.HumanModified = true
	target.GovernanceOutcome.Override = &model.OverrideBlock{
		OverrideID:          uuid.New(),
		Timestamp:           time.Now(),
		OverrideBy:          req.Reviewer,
		Justification:       req.Justification,
		ReasonCategory:      req.ReasonCategory,
		OriginalOutcome:     preOverrideVerdict,
		ProposedOutcome:      req.ProposedOutcome,
		IsUrgent:            req.IsUrgent,
		Priority:            req.Priority,
		SupportingDocuments: req.SupportingDocuments,
		StakeholderInput:    req.StakeholderInput,
	}

	if req.ProposedOutcome == model.VerdictEscalate {
		target.Escalated = true
	} else if preOverrideVerdict == model.VerdictEscalate {
		// Overriding away from ESCALATE: the record of escalation persists
		// even though a human has now resolved it.
		target.Escalated = true
	}

	p.logger.Info("override applied", "decision_id", target.DecisionID, "from", preOverrideVerdict, "to", req.ProposedOutcome)
	return target, nil
}

// LogEvent submits the override_applied event bundle to the signed audit
// log, per §4.6. Idempotent under request_id: the event's EventID is set to
// req.RequestID, so re-submitting the same request produces the same
// EventID (duplicate-detection is the audit.Log implementation's
// responsibility).
func (p *Pipeline) LogEvent(ctx context.Context, decision *model.Decision, req *model.OverrideRequest) (audit.Receipt, error) {
	payload := map[string]any{
		"reviewer": map[string]any{
			"id":    req.Reviewer.ReviewerID,
			"name":  req.Reviewer.Name,
			"role":  req.Reviewer.ReviewerRole,
			"email": req.Reviewer.Email,
		},
		"justification":   req.Justification,
		"reason_category": req.ReasonCategory,
		"outcome_change": map[string]any{
			"original": outcomeOrEmpty(req.OriginalOutcome),
			"proposed": req.ProposedOutcome,
			"current":  decision.CurrentVerdict(),
		},
		"escalation_status": decision.Escalated,
		"decision_snapshot": map[string]any{
			"aggregation_verdict": decision.Aggregation.OverallVerdict,
			"critic_count":        len(decision.Bundle.CriticOutputs),
			"precedent_count":     len(decision.Precedents),
		},
		"request_timestamp": req.Timestamp,
		"applied_timestamp": time.Now(),
	}

	event := audit.Event{
		EventID:    req.RequestID,
		EventType:  "override_applied",
		RequestID:  req.RequestID.String(),
		DecisionID: decision.DecisionID.String(),
		Payload:    payload,
	}

	receipt, err := p.log.WriteSigned(ctx, event)
	if err != nil {
		return audit.Receipt{}, &ejerr.AuditWriteError{EventType: "override_applied", Err: err}
	}
	return receipt, nil
}

func outcomeOrEmpty(v *model.Verdict) model.Verdict {
	if v == nil {
		return ""
	}
	return *v
}

// BatchResult is one entry's outcome within ApplyBatch.
type BatchResult struct {
	RequestID uuid.UUID
	Decision  *model.Decision
	Err       error
}

// BatchSummary totals an ApplyBatch run.
type BatchSummary struct {
	Applied int
	Failed  int
}

// ApplyBatch applies a batch of override requests against their matching
// decisions (keyed by decision_id), per §4.6's batch form. When
// continueOnError is false, the batch stops at the first failure.
func (p *Pipeline) ApplyBatch(ctx context.Context, decisionsByID map[uuid.UUID]*model.Decision, batch []*model.OverrideRequest, opts ApplyOptions, continueOnError bool) ([]BatchResult, BatchSummary) {
	var results []BatchResult
	var summary BatchSummary

	for _, req := range batch {
		decision, ok := decisionsByID[req.DecisionID]
		if !ok {
			err := &ejerr.OverrideValidationError{RequestID: req.RequestID.String(), DecisionID: req.DecisionID.String(), Reason: "no matching decision"}
			results = append(results, BatchResult{RequestID: req.RequestID, Err: err})
			summary.Failed++
			if !continueOnError {
				break
			}
			continue
		}

		applied, err := p.Apply(decision, req, opts)
		if err != nil {
			results = append(results, BatchResult{RequestID: req.RequestID, Err: err})
			summary.Failed++
			if !continueOnError {
				break
			}
			continue
		}

		if _, logErr := p.LogEvent(ctx, applied, req); logErr != nil {
			results = append(results, BatchResult{RequestID: req.RequestID, Decision: applied, Err: logErr})
			summary.Failed++
			if !continueOnError {
				break
			}
			continue
		}

		results = append(results, BatchResult{RequestID: req.RequestID, Decision: applied})
		summary.Applied++
	}

	return results, summary
}

// deepCopyDecision clones d so mutating the returned copy cannot affect the
// caller's original. Slices are copied; pointer fields are cloned shallowly
// except Override, which is cloned explicitly since Apply may replace it.
func deepCopyDecision(d model.Decision) model.Decision {
	out := d

	out.Bundle.CriticOutputs = append([]model.CriticOutput(nil), d.Bundle.CriticOutputs...)
	out.Precedents = append([]model.PrecedentRef(nil), d.Precedents...)
	out.GovernanceOutcome.SafeguardsTriggered = append([]string(nil), d.GovernanceOutcome.SafeguardsTriggered...)
	out.GovernanceOutcome.AdvisoryWarnings = append([]string(nil), d.GovernanceOutcome.AdvisoryWarnings...)
	if d.GovernanceOutcome.Override != nil {
		overrideCopy := *d.GovernanceOutcome.Override
		out.GovernanceOutcome.Override = &overrideCopy
	}
	return out
}
