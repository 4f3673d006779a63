package model

import "time"

// Verdict is the closed set of outcomes a critic or decision may carry.
// Critics may additionally report ERROR or ABSTAIN; decisions never do.
type Verdict string

const (
	VerdictAllow    Verdict = "ALLOW"
	VerdictDeny     Verdict = "DENY"
	VerdictReview   Verdict = "REVIEW"
	VerdictEscalate Verdict = "ESCALATE"
	VerdictError    Verdict = "ERROR"
	VerdictAbstain  Verdict = "ABSTAIN"
)

// Priority marks a critic output as carrying special weight in aggregation.
type Priority string

const (
	PriorityOverride Priority = "override"
	PriorityVeto     Priority = "veto"
)

// EvidenceSourceKind enumerates the kinds of references a critic may cite.
type EvidenceSourceKind string

const (
	EvidenceSourcePolicy                EvidenceSourceKind = "policy"
	EvidenceSourcePrecedent             EvidenceSourceKind = "precedent"
	EvidenceSourceRule                  EvidenceSourceKind = "rule"
	EvidenceSourceConstitutionalPrinciple EvidenceSourceKind = "constitutional_principle"
)

// EvidenceSource is a reference a critic cites in support of its verdict.
type EvidenceSource struct {
	Kind           EvidenceSourceKind `json:"kind"`
	Reference      string             `json:"reference"`
	RelevanceScore *float64           `json:"relevance_score,omitempty"`
}

// CriticOutput is exactly one critic's opinion on one request. See §3.2.
//
// Invariant: if Verdict == VerdictError, Confidence MUST be 0 and ErrorType
// SHOULD be set. Callers constructing CriticOutput by hand (tests, plugin
// loaders) are responsible for this; the normalizer does not relax it.
type CriticOutput struct {
	Critic          string           `json:"critic"`
	Verdict         Verdict          `json:"verdict"`
	Confidence      float64          `json:"confidence"`
	Justification   string           `json:"justification"`
	Weight          float64          `json:"weight"`
	Priority        *Priority        `json:"priority,omitempty"`
	EvidenceSources []EvidenceSource `json:"evidence_sources,omitempty"`
	ConfigVersion   string           `json:"config_version,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	ErrorType       string           `json:"error_type,omitempty"`

	// AttemptedRetries is set by the critic runner when a retry policy fired.
	AttemptedRetries int `json:"attempted_retries,omitempty"`

	// Right and Violation let governance-relevant critics (e.g. a "dignity"
	// or "safety" critic) flag a rights-hierarchy violation alongside their
	// verdict. Empty Right means the output carries no rights signal.
	Right     string `json:"right,omitempty"`
	Violation bool   `json:"violation,omitempty"`

	// ConfidenceScore is consulted by the uncertainty rule (§4.4 step 5) for
	// critics named "uncertainty"; distinct from Confidence because the
	// uncertainty critic's own verdict confidence may differ from the
	// certainty signal it reports about the overall decision.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`

	// Conflict is consulted by the precedent-conflict rule (§4.4 step 6) for
	// critics named "precedent".
	Conflict bool `json:"conflict,omitempty"`
}

// DefaultWeight is the weight assigned to a critic output when the plugin
// does not set one explicitly.
const DefaultWeight = 1.0

// ClampConfidence clamps a confidence value into [0,1], per the "numeric
// semantics" design note (§9): all confidences are floats clamped to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
