package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewerRole enumerates who may submit an override request. See §3.5.
type ReviewerRole string

const (
	ReviewerSeniorReviewer     ReviewerRole = "senior_reviewer"
	ReviewerEthicsOfficer      ReviewerRole = "ethics_officer"
	ReviewerLegalCounsel       ReviewerRole = "legal_counsel"
	ReviewerTechnicalLead      ReviewerRole = "technical_lead"
	ReviewerGovernanceBoard    ReviewerRole = "governance_board"
	ReviewerAuditor            ReviewerRole = "auditor"
	ReviewerSystemAdministrator ReviewerRole = "system_administrator"
)

// ReviewerIdentity names the human who requested or applied an override.
type ReviewerIdentity struct {
	ReviewerID   string       `json:"reviewer_id"`
	Name         string       `json:"name,omitempty"`
	Email        string       `json:"email,omitempty"`
	ReviewerRole ReviewerRole `json:"reviewer_role"`
}

// placeholderJustifications are phrases that indicate a stand-in rather than
// a real rationale when they appear anywhere in a short justification body,
// per §3.5's "detected placeholder pattern" requirement.
var placeholderJustifications = []string{"todo", "tbd", "to be determined", "fill this out", "placeholder"}

// OverrideRequest is a human's proposal to replace a decision's verdict.
// See §3.5.
type OverrideRequest struct {
	RequestID       uuid.UUID        `json:"request_id"`
	Reviewer        ReviewerIdentity `json:"reviewer"`
	DecisionID      uuid.UUID        `json:"decision_id"`
	OriginalOutcome *Verdict         `json:"original_outcome,omitempty"`
	ProposedOutcome Verdict          `json:"proposed_outcome"`
	Justification   string           `json:"justification"`
	ReasonCategory  string           `json:"reason_category,omitempty"`
	Priority        int              `json:"priority"`
	IsUrgent        bool             `json:"is_urgent"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`

	SupportingDocuments []string `json:"supporting_documents,omitempty"`
	StakeholderInput    []string `json:"stakeholder_input,omitempty"`
}

// IsExpired reports whether the request has passed its expiry at the given
// instant. A request with no ExpiresAt never expires.
func (r *OverrideRequest) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// ValidateConstructor checks the structural invariants §3.5 assigns to the
// request constructor, independent of any particular decision: justification
// length and non-placeholder content, priority range, and the
// original-outcome/proposed-outcome distinctness rule.
func (r *OverrideRequest) ValidateConstructor() error {
	n := len(r.Justification)
	if n < 10 || n > 10000 {
		return &FieldError{Field: "justification", Reason: "must be between 10 and 10000 characters"}
	}
	if strings.TrimSpace(r.Justification) == "" {
		return &FieldError{Field: "justification", Reason: "must not be whitespace-only"}
	}
	if len(strings.TrimSpace(r.Justification)) < 50 {
		lower := strings.ToLower(strings.TrimSpace(r.Justification))
		for _, p := range placeholderJustifications {
			if strings.Contains(lower, p) {
				return &FieldError{Field: "justification", Reason: "looks like a placeholder"}
			}
		}
	}
	if r.Priority < 0 || r.Priority > 10 {
		return &FieldError{Field: "priority", Reason: "must be in [0,10]"}
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(r.Timestamp) {
		return &FieldError{Field: "expires_at", Reason: "must be strictly after timestamp"}
	}
	if r.OriginalOutcome != nil && *r.OriginalOutcome == r.ProposedOutcome {
		return &FieldError{Field: "proposed_outcome", Reason: "must differ from original_outcome"}
	}
	return nil
}

// FieldError is a single-field validation failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}
