package model

import (
	"time"

	"github.com/google/uuid"
)

// ConsensusLevel categorizes critic agreement. See GLOSSARY.
type ConsensusLevel string

const (
	ConsensusUnanimous ConsensusLevel = "unanimous"
	ConsensusStrong    ConsensusLevel = "strong"
	ConsensusModerate  ConsensusLevel = "moderate"
	ConsensusWeak      ConsensusLevel = "weak"
	ConsensusConflicted ConsensusLevel = "conflicted"
)

// ConfidenceAssessment summarizes confidence statistics across critic outputs.
type ConfidenceAssessment struct {
	Average        float64        `json:"average"`
	Variance       float64        `json:"variance"`
	ConsensusLevel ConsensusLevel `json:"consensus_level"`
}

// ConflictingEvidence names critics whose outputs disagree, with a human
// description of the disagreement.
type ConflictingEvidence struct {
	Critics     []string `json:"critics"`
	Description string   `json:"description"`
}

// JustificationSynthesis is an optional aggregated narrative over all critic
// outputs in a bundle.
type JustificationSynthesis struct {
	Summary             string                `json:"summary"`
	SupportingEvidence   []string              `json:"supporting_evidence,omitempty"`
	ConflictingEvidence  []ConflictingEvidence  `json:"conflicting_evidence,omitempty"`
	ConfidenceAssessment ConfidenceAssessment   `json:"confidence_assessment"`
}

// Environment enumerates the deployment environments a bundle may be tagged with.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
)

// PrecedentRef records a precedent consulted while forming a bundle, and how
// much it influenced the outcome.
type PrecedentRef struct {
	PrecedentID    uuid.UUID `json:"precedent_id"`
	SimilarityScore float64  `json:"similarity_score"`
	InfluenceWeight float64  `json:"influence_weight"`
}

// BundleFlags are boolean signals threaded through metadata and consulted by
// downstream components (governance, fallback, override).
type BundleFlags struct {
	RequiresHumanReview bool `json:"requires_human_review"`
	IsOverride          bool `json:"is_override"`
	IsFallback          bool `json:"is_fallback"`
	IsTest              bool `json:"is_test"`
}

// BundleMetadata carries system and request-scoped bookkeeping for a bundle.
type BundleMetadata struct {
	SystemVersion        string         `json:"system_version,omitempty"`
	Environment          Environment    `json:"environment,omitempty"`
	CorrelationID        string         `json:"correlation_id,omitempty"`
	ProcessingTimeMS     float64        `json:"processing_time_ms,omitempty"`
	CriticConfigVersions map[string]string `json:"critic_config_versions,omitempty"`
	PrecedentRefs        []PrecedentRef `json:"precedent_refs,omitempty"`
	Flags                BundleFlags    `json:"flags"`
}

// ValidationSeverity classifies a ValidationError's impact.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
	SeverityInfo    ValidationSeverity = "info"
)

// ValidationError is a per-field problem recorded during normalization.
// The presence of any severity=error entry forces a fallback downstream.
type ValidationError struct {
	Field    string             `json:"field"`
	Error    string             `json:"error"`
	Severity ValidationSeverity `json:"severity"`
}

// HasBlockingErrors reports whether any entry has SeverityError.
func HasBlockingErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// EvidenceBundle is the atomic unit threaded through the pipeline and the
// persistence substrate for audits. See §3.3.
type EvidenceBundle struct {
	BundleID               uuid.UUID                `json:"bundle_id"`
	Version                string                   `json:"version"`
	Timestamp               time.Time                `json:"timestamp"`
	InputSnapshot           InputSnapshot            `json:"input_snapshot"`
	CriticOutputs           []CriticOutput           `json:"critic_outputs"`
	JustificationSynthesis  *JustificationSynthesis  `json:"justification_synthesis,omitempty"`
	Metadata                BundleMetadata           `json:"metadata"`
	ValidationErrors        []ValidationError        `json:"validation_errors,omitempty"`
}
