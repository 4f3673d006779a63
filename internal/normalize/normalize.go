// Package normalize implements the Evidence Normalizer: it turns raw,
// untrusted per-critic outputs plus a request into a validated evidence
// bundle. It is the only component that is allowed to drop a malformed
// critic output rather than reject the whole request.
package normalize

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/model"
)

// BundleVersion is stamped on every EvidenceBundle this normalizer produces.
const BundleVersion = "1.0.0"

// RawCriticOutput is what a critic runner hands the normalizer: a best-effort
// attempt at a CriticOutput that may be missing required fields. Confidence
// is a pointer so the normalizer can distinguish "not provided" from the
// legitimate value 0 (e.g. verdict=ERROR requires confidence=0). The
// normalizer is responsible for validating and, where unrecoverable,
// dropping these before they become part of a bundle.
type RawCriticOutput struct {
	Critic          string
	Verdict         model.Verdict
	Confidence      *float64
	Justification   string
	Weight          float64
	Priority        *model.Priority
	EvidenceSources []model.EvidenceSource
	ConfigVersion   string
	Timestamp       time.Time
	ErrorType       string
	AttemptedRetries int
	Right           string
	Violation       bool
	ConfidenceScore *float64
	Conflict        bool
}

// Input bundles everything Normalize needs, mirroring the §4.1 operation
// signature `Normalize(input_text, context, metadata, raw_critic_outputs,
// correlation_id?, precedent_refs?, processing_time?)`.
type Input struct {
	InputText      string
	Context        map[string]any
	Metadata       model.RequestMeta
	RawOutputs     []RawCriticOutput
	CorrelationID  string
	PrecedentRefs  []model.PrecedentRef
	ProcessingTime time.Duration
	Environment    model.Environment
	SystemVersion  string
	Now            func() time.Time
}

// Normalizer builds validated EvidenceBundles from raw pipeline inputs.
type Normalizer struct{}

// New constructs a Normalizer. It carries no state; returning a value keeps
// the constructor symmetrical with other pipeline components that do hold
// dependencies.
func New() *Normalizer { return &Normalizer{} }

// Normalize converts raw per-critic outputs plus an input context into a
// validated EvidenceBundle. See §4.1.
func (n *Normalizer) Normalize(in Input) (model.EvidenceBundle, error) {
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}

	if in.InputText == "" {
		return model.EvidenceBundle{}, &ejerr.MissingInputError{Detail: "no input text provided"}
	}
	if len(in.RawOutputs) == 0 {
		return model.EvidenceBundle{}, &ejerr.MissingInputError{Detail: "no critic outputs provided"}
	}

	if nested, ok := in.Context["text"]; ok {
		if nestedText, ok := nested.(string); ok && nestedText != "" && nestedText != in.InputText {
			return model.EvidenceBundle{}, &ejerr.InputConflictError{
				Detail: fmt.Sprintf("input_text %q disagrees with context.text %q", in.InputText, nestedText),
			}
		}
	}

	contextHash, err := model.ComputeContextHash(in.InputText, in.Context)
	if err != nil {
		return model.EvidenceBundle{}, fmt.Errorf("normalize: compute context hash: %w", err)
	}

	snapshot := model.InputSnapshot{
		Text:        in.InputText,
		Context:     in.Context,
		Metadata:    in.Metadata,
		ContextHash: contextHash,
		CapturedAt:  now(),
	}

	var (
		survivingOutputs []model.CriticOutput
		validationErrors []model.ValidationError
		requiresReview   bool
	)

	for i, raw := range in.RawOutputs {
		if raw.Verdict == "" || raw.Confidence == nil {
			validationErrors = append(validationErrors, model.ValidationError{
				Field:    fmt.Sprintf("critic_outputs[%d]", i),
				Error:    "missing required field: verdict or confidence",
				Severity: model.SeverityError,
			})
			continue
		}

		out := model.CriticOutput{
			Critic:           raw.Critic,
			Verdict:          raw.Verdict,
			Confidence:       model.ClampConfidence(*raw.Confidence),
			Justification:    raw.Justification,
			Weight:           raw.Weight,
			Priority:         raw.Priority,
			EvidenceSources:  raw.EvidenceSources,
			ConfigVersion:    raw.ConfigVersion,
			Timestamp:        raw.Timestamp,
			ErrorType:        raw.ErrorType,
			AttemptedRetries: raw.AttemptedRetries,
			Right:            raw.Right,
			Violation:        raw.Violation,
			ConfidenceScore:  raw.ConfidenceScore,
			Conflict:         raw.Conflict,
		}
		if out.Weight == 0 {
			out.Weight = model.DefaultWeight
		}
		if out.Timestamp.IsZero() {
			out.Timestamp = now()
		}
		survivingOutputs = append(survivingOutputs, out)

		if out.Verdict == model.VerdictReview || out.Verdict == model.VerdictError {
			requiresReview = true
		}
	}

	if len(survivingOutputs) == 0 {
		return model.EvidenceBundle{}, &ejerr.MissingInputError{
			Detail: "all critic outputs were dropped during validation",
		}
	}

	bundle := model.EvidenceBundle{
		BundleID:      uuid.New(),
		Version:       BundleVersion,
		Timestamp:     now(),
		InputSnapshot: snapshot,
		CriticOutputs: survivingOutputs,
		Metadata: model.BundleMetadata{
			SystemVersion:    in.SystemVersion,
			Environment:      in.Environment,
			CorrelationID:    in.CorrelationID,
			ProcessingTimeMS: float64(in.ProcessingTime.Milliseconds()),
			PrecedentRefs:    in.PrecedentRefs,
			Flags: model.BundleFlags{
				RequiresHumanReview: requiresReview,
			},
		},
		ValidationErrors: validationErrors,
	}

	return bundle, nil
}
