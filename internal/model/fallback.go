package model

import (
	"time"

	"github.com/google/uuid"
)

// FallbackTrigger enumerates the reasons the fallback engine was invoked.
// See §3.6 and §4.5.1.
type FallbackTrigger string

const (
	TriggerAllCriticsFailed        FallbackTrigger = "all_critics_failed"
	TriggerMajorityCriticsFailed   FallbackTrigger = "majority_critics_failed"
	TriggerCriticalCriticFailed    FallbackTrigger = "critical_critic_failed"
	TriggerTimeoutExceeded         FallbackTrigger = "timeout_exceeded"
	TriggerSchemaValidationFailed  FallbackTrigger = "schema_validation_failed"
	TriggerInsufficientConfidence  FallbackTrigger = "insufficient_confidence"
	TriggerHighErrorRate           FallbackTrigger = "high_error_rate"
	TriggerManualOverride          FallbackTrigger = "manual_override"
	TriggerSystemError             FallbackTrigger = "system_error"
)

// FallbackStrategy enumerates the strategies a fallback engine may apply.
// Closed set per spec §6 (`fallback.default_strategy`); see SPEC_FULL.md for
// the decision to not implement the PRECEDENT strategy from original_source/.
type FallbackStrategy string

const (
	StrategyConservative FallbackStrategy = "conservative"
	StrategyPermissive    FallbackStrategy = "permissive"
	StrategyEscalate      FallbackStrategy = "escalate"
	StrategyFailSafe      FallbackStrategy = "fail_safe"
	StrategyMajority      FallbackStrategy = "majority"
)

// FailedCriticInfo describes one critic that did not produce a usable output.
type FailedCriticInfo struct {
	Name             string `json:"name"`
	FailureReason    string `json:"failure_reason"`
	ErrorType        string `json:"error_type"`
	ErrorMessage     string `json:"error_message,omitempty"`
	StackTrace       string `json:"stack_trace,omitempty"`
	AttemptedRetries int    `json:"attempted_retries"`
}

// SystemStateAtTrigger is a snapshot of pipeline state at the moment the
// fallback engine decided to trigger.
type SystemStateAtTrigger struct {
	TotalExpected    int         `json:"total_expected"`
	Attempted        int         `json:"attempted"`
	Succeeded        int         `json:"succeeded"`
	Failed           int         `json:"failed"`
	ElapsedMS        float64     `json:"elapsed_ms"`
	TimeoutThresholdMS float64   `json:"timeout_threshold_ms,omitempty"`
	ActiveCritics    []string    `json:"active_critics,omitempty"`
	RequestID        string      `json:"request_id,omitempty"`
	CorrelationID    string      `json:"correlation_id,omitempty"`
	Environment      Environment `json:"environment,omitempty"`
	SystemVersion    string      `json:"system_version,omitempty"`
}

// FallbackDecision is the verdict the fallback engine synthesized, with the
// bookkeeping needed to audit how it got there.
type FallbackDecision struct {
	Verdict             Verdict   `json:"verdict"`
	Confidence          float64   `json:"confidence"`
	StrategyUsed        FallbackStrategy `json:"strategy_used"`
	Reason              string    `json:"reason"`
	IsSafeDefault       bool      `json:"is_safe_default"`
	RequiresHumanReview bool      `json:"requires_human_review"`
	AlternativeVerdicts []Verdict `json:"alternative_verdicts,omitempty"`
	DecisionTimeMS      float64   `json:"decision_time_ms"`
}

// FallbackEvidenceBundle captures a fallback event end to end: what failed,
// the system state when it was detected, the decision synthesized in
// response, and any warnings or recovery attempts. See §3.6.
type FallbackEvidenceBundle struct {
	BundleID               uuid.UUID             `json:"bundle_id"`
	FallbackType            FallbackTrigger       `json:"fallback_type"`
	FailedCritics           []FailedCriticInfo    `json:"failed_critics"`
	SystemStateAtTrigger    SystemStateAtTrigger  `json:"system_state_at_trigger"`
	FallbackDecision        FallbackDecision      `json:"fallback_decision"`
	SuccessfulCriticOutputs []CriticOutput        `json:"successful_critic_outputs,omitempty"`
	Warnings                []string              `json:"warnings,omitempty"`
	Errors                  []string              `json:"errors,omitempty"`
	RecoveryAttempted       bool                  `json:"recovery_attempted"`
	RecoverySuccessful      bool                  `json:"recovery_successful"`
	Metadata                map[string]any        `json:"metadata,omitempty"`
	CreatedAt               time.Time             `json:"created_at"`
}
