package model

import (
	"time"

	"github.com/google/uuid"
)

// VerdictDistribution counts successful critic outputs per verdict.
type VerdictDistribution map[Verdict]int

// PriorityEvent records a conflicting-priority situation encountered during
// aggregation (e.g. two distinct override verdicts), per §4.3 step 2.
type PriorityEvent struct {
	Kind     string   `json:"kind"` // e.g. "conflicting_override"
	Verdicts []Verdict `json:"verdicts"`
	Critics  []string  `json:"critics"`
}

// Aggregation is the Aggregator's output: a proposed verdict plus statistics,
// independent of governance rules. See §4.3.
type Aggregation struct {
	OverallVerdict      Verdict             `json:"overall_verdict"`
	AvgConfidence       float64             `json:"avg_confidence"`
	ConfidenceVariance  float64             `json:"confidence_variance"`
	ConsensusLevel      ConsensusLevel      `json:"consensus_level"`
	Ambiguity           float64             `json:"ambiguity"`
	VerdictDistribution VerdictDistribution `json:"verdict_distribution"`
	PriorityEvents      []PriorityEvent     `json:"priority_events,omitempty"`
}

// OverrideBlock is the metadata a human override writes into a
// GovernanceOutcome, per §4.6 step 4.
type OverrideBlock struct {
	OverrideID          uuid.UUID `json:"override_id"`
	Timestamp           time.Time `json:"timestamp"`
	OverrideBy          ReviewerIdentity `json:"override_by"`
	Justification       string    `json:"justification"`
	ReasonCategory      string    `json:"reason_category,omitempty"`
	OriginalOutcome     Verdict   `json:"original_outcome"`
	ProposedOutcome     Verdict   `json:"proposed_outcome"`
	IsUrgent            bool      `json:"is_urgent"`
	Priority            int       `json:"priority"`
	SupportingDocuments []string  `json:"supporting_documents,omitempty"`
	StakeholderInput    []string  `json:"stakeholder_input,omitempty"`
}

// ComplianceReport is a governance-mode overlay's post-check result: whether
// a decision meets the named mode's thresholds, explainability, and
// compliance-artifact requirements. Non-compliance is advisory by default —
// it annotates the decision without blocking it — per §4.4's mode overlay.
type ComplianceReport struct {
	Mode               string   `json:"mode"`
	Compliant          bool     `json:"compliant"`
	Gaps               []string `json:"gaps,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	RequirementsMet    []string `json:"requirements_met,omitempty"`
	RequirementsNotMet []string `json:"requirements_not_met,omitempty"`
}

// GovernanceOutcome is the Governance Rule Layer's output, augmented in
// place by the Override Pipeline when a human overrides the verdict.
// See §4.4 and §4.6.
type GovernanceOutcome struct {
	Verdict             Verdict           `json:"verdict"`
	SafeguardsTriggered []string          `json:"safeguards_triggered,omitempty"`
	Escalate            bool              `json:"escalate"`
	FairnessPenalty     bool              `json:"fairness_penalty"`
	AdvisoryWarnings    []string          `json:"advisory_warnings,omitempty"`
	HumanModified       bool              `json:"human_modified"`
	Override            *OverrideBlock    `json:"override,omitempty"`
	ModeCompliance      *ComplianceReport `json:"mode_compliance,omitempty"`
}

// Decision wraps an evidence bundle with the results of aggregation,
// governance, and (optionally) human override. See §3.4.
type Decision struct {
	DecisionID        uuid.UUID         `json:"decision_id"`
	Bundle            EvidenceBundle    `json:"bundle"`
	Aggregation       Aggregation       `json:"aggregation"`
	GovernanceOutcome GovernanceOutcome `json:"governance_outcome"`
	Escalated         bool              `json:"escalated"`
	Precedents        []PrecedentRef    `json:"precedents,omitempty"`
}

// CurrentVerdict returns the decision's effective verdict: the override's
// proposed outcome if one has been applied, otherwise the governance
// outcome's verdict.
func (d *Decision) CurrentVerdict() Verdict {
	return d.GovernanceOutcome.Verdict
}
