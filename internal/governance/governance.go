// Package governance implements the Governance Rule Layer: a lexicographic
// hierarchy of hard rights, safety, fairness, transparency/proportionality,
// uncertainty, and precedent-conflict checks applied on top of the
// Aggregator's proposed verdict. See §4.4.
package governance

import (
	"log/slog"

	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/model"
)

// RightRule describes one entry in the configured rights hierarchy.
type RightRule struct {
	Required bool
}

// RightsHierarchy maps a right's name (dignity, autonomy, non_discrimination,
// safety, fairness, transparency, proportionality, ...) to its rule. Rights
// with Required=true are hard constraints: any violation aborts the decision
// with a RightsViolationError rather than producing a verdict.
type RightsHierarchy map[string]RightRule

// Mode selects the governance framework overlay applied on top of the base
// hierarchy: one of §6's closed set (eu_ai_act, oecd, un_global, nist_rmf,
// korea_basic, japan_society5, default). The mode supplies per-framework
// thresholds and oversight/explainability/compliance requirements (see
// modes.go); the base six-step hierarchy always runs regardless of mode.
type Mode string

// Evaluator applies the governance rule hierarchy. It is stateless and safe
// for concurrent use.
type Evaluator struct {
	hierarchy RightsHierarchy
	mode      Mode
	modeCfg   ModeConfig
	logger    *slog.Logger
}

// New constructs an Evaluator. hierarchy must be non-empty; mode defaults to
// ModeDefault if empty or unrecognized.
func New(hierarchy RightsHierarchy, mode Mode, logger *slog.Logger) *Evaluator {
	if !IsRecognizedMode(mode) {
		mode = ModeDefault
	}
	return &Evaluator{hierarchy: hierarchy, mode: mode, modeCfg: ModeConfigFor(mode), logger: logger}
}

// CheckHardRights runs step 1 of §4.4 in isolation: it reports a
// RightsViolationError if any required right in the hierarchy is flagged as
// violated by outputs, and nil otherwise. Callers MUST run this check before
// committing to any verdict-producing path (including a fallback path),
// since a hard-rights violation must abort the pipeline and emit no verdict
// regardless of what else happens to be true about the request.
func (e *Evaluator) CheckHardRights(requestID string, outputs []model.CriticOutput) error {
	if len(e.hierarchy) == 0 {
		return &ejerr.ConfigurationError{Detail: "missing rights hierarchy configuration"}
	}

	// Iteration order over a map is nondeterministic in Go, but the first
	// violation found always raises regardless of order, so this matches
	// the reference's sequential-raise semantics.
	for right, rule := range e.hierarchy {
		if rule.Required && violatesRight(outputs, right) {
			e.logger.Error("critical rights violation", "right", right, "request_id", requestID)
			return &ejerr.RightsViolationError{Right: right, RequestID: requestID}
		}
	}
	return nil
}

// Apply implements the six-step lexicographic hierarchy from §4.4, then runs
// the active mode's compliance post-check over the result. It returns a
// RightsViolationError (via ejerr) when a required right is violated; all
// other safeguards are folded into the returned GovernanceOutcome rather
// than raised.
func (e *Evaluator) Apply(requestID string, agg model.Aggregation, outputs []model.CriticOutput) (model.GovernanceOutcome, error) {
	if err := e.CheckHardRights(requestID, outputs); err != nil {
		return model.GovernanceOutcome{}, err
	}

	outcome := model.GovernanceOutcome{Verdict: agg.OverallVerdict}

	// Step 2: safety.
	if violatesRight(outputs, "safety") {
		outcome.Escalate = true
		outcome.SafeguardsTriggered = append(outcome.SafeguardsTriggered, "safety")
		e.logger.Warn("safety safeguard triggered", "request_id", requestID)
	}

	// Step 3: fairness (soft penalty, not escalation).
	if violatesRight(outputs, "fairness") {
		outcome.SafeguardsTriggered = append(outcome.SafeguardsTriggered, "fairness")
		outcome.FairnessPenalty = true
		e.logger.Info("fairness concern detected", "request_id", requestID)
	}

	// Step 4: transparency + proportionality. Advisory under modes with
	// moderate-or-lower oversight; escalating under modes that mandate
	// human review or high/human-in-loop oversight (see
	// ModeConfig.escalatesOnAdvisory).
	for _, advisory := range []string{"transparency", "proportionality"} {
		if violatesRight(outputs, advisory) {
			outcome.SafeguardsTriggered = append(outcome.SafeguardsTriggered, advisory)
			outcome.AdvisoryWarnings = append(outcome.AdvisoryWarnings, advisory)
			e.logger.Info("advisory safeguard triggered", "right", advisory, "request_id", requestID)
			if e.modeCfg.escalatesOnAdvisory() {
				outcome.Escalate = true
			}
		}
	}

	// Step 5: uncertainty.
	if criticUncertaintyHigh(outputs) {
		outcome.Escalate = true
		outcome.SafeguardsTriggered = append(outcome.SafeguardsTriggered, "uncertainty")
		e.logger.Warn("high uncertainty detected", "request_id", requestID)
	}

	// Step 6: precedent conflict.
	if precedentConflicts(outputs) {
		outcome.Escalate = true
		outcome.SafeguardsTriggered = append(outcome.SafeguardsTriggered, "precedent_conflict")
		e.logger.Warn("precedent conflict detected", "request_id", requestID)
	}

	if outcome.Escalate {
		outcome.Verdict = model.VerdictEscalate
	}

	report := e.checkCompliance(outcome, agg, outputs)
	outcome.ModeCompliance = &report

	return outcome, nil
}

// checkCompliance runs the active mode's post-check over a built
// GovernanceOutcome: decision thresholds, explainability depth, human
// review, and compliance-artifact (risk/impact assessment) requirements.
// Non-compliance is always advisory here — it is recorded on the returned
// report, never turned into an error — per §4.4's "a non-compliant decision
// is annotated but not inherently blocked".
func (e *Evaluator) checkCompliance(outcome model.GovernanceOutcome, agg model.Aggregation, outputs []model.CriticOutput) model.ComplianceReport {
	cfg := e.modeCfg
	report := model.ComplianceReport{Mode: string(e.mode), Compliant: true}

	if outcome.Verdict == model.VerdictDeny && agg.AvgConfidence < cfg.DenyThreshold {
		report.Gaps = append(report.Gaps, "DENY verdict confidence below mode's deny_threshold")
		report.Compliant = false
	}

	if cfg.ExplainabilityRequired {
		depth, hasJustification := actualExplanationDepth(outputs)
		switch {
		case !hasJustification:
			report.Gaps = append(report.Gaps, "explainability required but no critic justification present")
			report.Compliant = false
		case depthRank(depth) < depthRank(cfg.ExplanationDepth):
			report.Gaps = append(report.Gaps, "explanation depth ("+depth+") below mode's required depth ("+cfg.ExplanationDepth+")")
			report.Compliant = false
		default:
			report.RequirementsMet = append(report.RequirementsMet, "explainability provided")
		}
	}

	if cfg.RequiresHumanReview {
		if outcome.Escalate || outcome.HumanModified {
			report.RequirementsMet = append(report.RequirementsMet, "human review performed")
		} else {
			report.Warnings = append(report.Warnings, "human review recommended but not performed")
		}
	}

	if cfg.RiskAssessmentRequired {
		if hasEvidenceKind(outputs, model.EvidenceSourcePolicy) || hasEvidenceKind(outputs, model.EvidenceSourceRule) {
			report.RequirementsMet = append(report.RequirementsMet, "risk assessment present")
		} else {
			report.Gaps = append(report.Gaps, "risk assessment required but not present")
			report.Compliant = false
		}
	}

	if cfg.ImpactAssessmentRequired {
		if hasEvidenceKind(outputs, model.EvidenceSourceConstitutionalPrinciple) || hasEvidenceKind(outputs, model.EvidenceSourcePrecedent) {
			report.RequirementsMet = append(report.RequirementsMet, "impact assessment present")
		} else {
			report.Gaps = append(report.Gaps, "impact assessment required but not present")
			report.Compliant = false
		}
	}

	return report
}

// actualExplanationDepth estimates how thorough the surviving critic
// justifications are, used as a proxy for the reference implementation's
// explanation_depth field: comprehensive requires both a substantial
// justification and cited evidence sources, standard requires only a
// substantial justification, minimal is the default when justification is
// thin. The second return reports whether any justification exists at all.
func actualExplanationDepth(outputs []model.CriticOutput) (string, bool) {
	hasJustification := false
	maxLen := 0
	totalSources := 0
	for _, o := range outputs {
		if o.Justification != "" {
			hasJustification = true
		}
		if len(o.Justification) > maxLen {
			maxLen = len(o.Justification)
		}
		totalSources += len(o.EvidenceSources)
	}
	switch {
	case !hasJustification:
		return "minimal", false
	case totalSources >= 2 && maxLen >= 200:
		return "comprehensive", true
	case maxLen >= 50:
		return "standard", true
	default:
		return "minimal", true
	}
}

func hasEvidenceKind(outputs []model.CriticOutput, kind model.EvidenceSourceKind) bool {
	for _, o := range outputs {
		for _, src := range o.EvidenceSources {
			if src.Kind == kind {
				return true
			}
		}
	}
	return false
}

func violatesRight(outputs []model.CriticOutput, right string) bool {
	for _, o := range outputs {
		if o.Right == right && o.Violation {
			return true
		}
	}
	return false
}

// criticUncertaintyHigh reports whether the dedicated uncertainty critic
// flagged confidence_score below 0.4, forcing escalation. A missing
// confidence_score defaults to 1.0 (no uncertainty).
func criticUncertaintyHigh(outputs []model.CriticOutput) bool {
	for _, o := range outputs {
		if o.Critic != "uncertainty" {
			continue
		}
		score := 1.0
		if o.ConfidenceScore != nil {
			score = *o.ConfidenceScore
		}
		if score < 0.4 {
			return true
		}
	}
	return false
}

func precedentConflicts(outputs []model.CriticOutput) bool {
	for _, o := range outputs {
		if o.Critic == "precedent" && o.Conflict {
			return true
		}
	}
	return false
}
