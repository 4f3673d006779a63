package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eje-systems/eje/internal/aggregate"
	"github.com/eje-systems/eje/internal/audit"
	"github.com/eje-systems/eje/internal/critics"
	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/fallback"
	"github.com/eje-systems/eje/internal/governance"
	"github.com/eje-systems/eje/internal/model"
	"github.com/eje-systems/eje/internal/normalize"
	"github.com/eje-systems/eje/internal/override"
	"github.com/eje-systems/eje/internal/precedent"
)

// Engine wires the Evidence Normalizer, Critic Runner, Aggregator,
// Governance Rule Layer, Fallback Engine, Override Pipeline, Precedent Store,
// and Audit Log into the end-to-end adjudication pipeline. Construct with
// New; Engine has no exported fields.
type Engine struct {
	logger *slog.Logger

	criticsList []Critic
	runner      *critics.Runner
	budget      Budget

	normalizer     *normalize.Normalizer
	governanceEval *governance.Evaluator
	fallbackEngine *fallback.Engine
	overridePipe   *override.Pipeline

	auditLog AuditLog

	precedentStore         PrecedentStore
	ranker                 *precedent.Ranker
	precedentLimit         int
	precedentMinSimilarity float64

	systemVersion string
	environment   Environment

	observers []DecisionObserver
}

// New constructs an Engine. At least one critic and a non-empty rights
// hierarchy are required; New returns a *ejerr.ConfigurationError joining
// every missing requirement if more than one is absent.
func New(opts ...Option) (*Engine, error) {
	o := defaultResolvedOptions()
	for _, fn := range opts {
		fn(&o)
	}

	var errs []error
	if len(o.criticsList) == 0 {
		errs = append(errs, &ejerr.ConfigurationError{Detail: "at least one critic must be registered"})
	}
	if len(o.rightsHierarchy) == 0 {
		errs = append(errs, &ejerr.ConfigurationError{Detail: "rights hierarchy must not be empty"})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	runner := critics.New(o.logger)
	for name, policy := range o.retryPolicies {
		runner.WithRetryPolicy(name, policy)
	}

	fallbackCfg := o.fallbackConfig
	fallbackCfg.SystemVersion = o.systemVersion
	fallbackCfg.Environment = o.environment

	var ranker *precedent.Ranker
	if o.precedentEnabled {
		ranker = precedent.NewRanker(o.rankWeights, o.recencyDecayDays, o.precedentLimit)
	}

	return &Engine{
		logger:                 o.logger,
		criticsList:            o.criticsList,
		runner:                 runner,
		budget:                 o.budget,
		normalizer:             normalize.New(),
		governanceEval:         governance.New(o.rightsHierarchy, o.governanceMode, o.logger),
		fallbackEngine:         fallback.New(fallbackCfg, o.logger),
		overridePipe:           override.New(o.auditLog, o.logger),
		auditLog:               o.auditLog,
		precedentStore:         o.precedentStore,
		ranker:                 ranker,
		precedentLimit:         o.precedentLimit,
		precedentMinSimilarity: o.precedentMinSimilarity,
		systemVersion:          o.systemVersion,
		environment:            o.environment,
		observers:              o.observers,
	}, nil
}

// Decide runs req through the full pipeline — normalization, concurrent
// critic dispatch, aggregation, governance, and (if triggered) fallback
// synthesis — and returns the resulting Decision. A cancelled context never
// produces a verdict: Decide returns a *ejerr.RequestCancelled instead. A
// hard-rights violation returns a *ejerr.RightsViolationError instead of a
// Decision.
func (e *Engine) Decide(ctx context.Context, req Request) (*Decision, error) {
	requestID := uuid.New().String()
	correlationID := req.Metadata.Source

	contextHash, err := model.ComputeContextHash(req.Text, req.Context)
	if err != nil {
		return nil, fmt.Errorf("judge: compute context hash: %w", err)
	}
	snapshot := model.InputSnapshot{
		Text:        req.Text,
		Context:     req.Context,
		Metadata:    req.Metadata,
		ContextHash: contextHash,
		CapturedAt:  time.Now(),
	}

	runResult := e.runner.RunAll(ctx, snapshot, e.criticsList, e.budget)

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, &ejerr.RequestCancelled{RequestID: requestID}
	}

	bundle, err := e.normalizer.Normalize(normalize.Input{
		InputText:      req.Text,
		Context:        req.Context,
		Metadata:       req.Metadata,
		RawOutputs:     toRawOutputs(runResult.Outputs),
		CorrelationID:  correlationID,
		ProcessingTime: time.Duration(runResult.ElapsedMS) * time.Millisecond,
		Environment:    e.environment,
		SystemVersion:  e.systemVersion,
	})
	if err != nil {
		return nil, err
	}

	agg := aggregate.Aggregate(bundle.CriticOutputs)

	// Step 1 of the governance hierarchy (hard rights) must run regardless
	// of whether a fallback would otherwise trigger: a hard-rights violation
	// aborts the pipeline and emits no verdict, fallback included (§4.4
	// step 1, testable invariant 6).
	if err := e.governanceEval.CheckHardRights(requestID, bundle.CriticOutputs); err != nil {
		var rve *ejerr.RightsViolationError
		if errors.As(err, &rve) {
			e.appendAudit(ctx, "rights_violation", requestID, "", map[string]any{"right": rve.Right})
		}
		return nil, err
	}

	triggered, trigger, reason := e.fallbackEngine.ShouldFallback(bundle.CriticOutputs, &agg, runResult.ElapsedMS, bundle.ValidationErrors)

	var governanceOutcome model.GovernanceOutcome
	if triggered {
		e.logger.Warn("fallback triggered", "request_id", requestID, "trigger", trigger, "reason", reason)
		fb := e.fallbackEngine.Apply(bundle.CriticOutputs, trigger, "", runResult.ElapsedMS, bundle.ValidationErrors, requestID, correlationID)

		bundle.Metadata.Flags.IsFallback = true
		governanceOutcome = model.GovernanceOutcome{
			Verdict:  fb.FallbackDecision.Verdict,
			Escalate: fb.FallbackDecision.Verdict == model.VerdictEscalate,
		}

		e.appendAudit(ctx, "fallback_triggered", requestID, "", map[string]any{
			"trigger":           trigger,
			"reason":            reason,
			"fallback_decision": fb.FallbackDecision,
			"failed_critics":    fb.FailedCritics,
		})
	} else {
		governanceOutcome, err = e.governanceEval.Apply(requestID, agg, bundle.CriticOutputs)
		if err != nil {
			var rve *ejerr.RightsViolationError
			if errors.As(err, &rve) {
				e.appendAudit(ctx, "rights_violation", requestID, "", map[string]any{"right": rve.Right})
			}
			return nil, err
		}
	}

	decision := &model.Decision{
		DecisionID:        uuid.New(),
		Bundle:            bundle,
		Aggregation:       agg,
		GovernanceOutcome: governanceOutcome,
		Escalated:         governanceOutcome.Escalate || governanceOutcome.Verdict == model.VerdictEscalate,
	}

	if e.precedentStore != nil {
		e.attachPrecedents(ctx, decision, req)
	}

	e.appendAudit(ctx, "decision_made", requestID, decision.DecisionID.String(), map[string]any{
		"verdict":         decision.CurrentVerdict(),
		"consensus_level": agg.ConsensusLevel,
		"escalated":       decision.Escalated,
		"is_fallback":     triggered,
	})

	if e.precedentStore != nil && !triggered {
		e.storePrecedent(ctx, decision, req)
	}

	e.notifyDecision(ctx, decision)

	return decision, nil
}

// ApplyOverride validates and applies a human reviewer's override to
// decision, then records the resulting event in the audit log.
func (e *Engine) ApplyOverride(ctx context.Context, decision *Decision, req *OverrideRequest, opts ApplyOverrideOptions) (*Decision, error) {
	if err := req.ValidateConstructor(); err != nil {
		return nil, err
	}

	applied, err := e.overridePipe.Apply(decision, req, opts)
	if err != nil {
		return nil, err
	}

	if _, err := e.overridePipe.LogEvent(ctx, applied, req); err != nil {
		return applied, err
	}

	e.notifyOverride(ctx, applied, req)

	return applied, nil
}

// ApplyOverrideBatch applies a batch of override requests, keyed by the
// decision each targets. See internal/override.Pipeline.ApplyBatch.
func (e *Engine) ApplyOverrideBatch(ctx context.Context, decisionsByID map[uuid.UUID]*Decision, batch []*OverrideRequest, opts ApplyOverrideOptions, continueOnError bool) ([]override.BatchResult, override.BatchSummary) {
	return e.overridePipe.ApplyBatch(ctx, decisionsByID, batch, opts, continueOnError)
}

// AnnotateAudit appends a non-mutating feedback note to a past audit event,
// without altering the original entry's chain position.
func (e *Engine) AnnotateAudit(ctx context.Context, eventID uuid.UUID, note string) (AuditReceipt, error) {
	return e.auditLog.Annotate(ctx, eventID, note)
}

func toRawOutputs(outputs []model.CriticOutput) []normalize.RawCriticOutput {
	raw := make([]normalize.RawCriticOutput, len(outputs))
	for i, o := range outputs {
		confidence := o.Confidence
		raw[i] = normalize.RawCriticOutput{
			Critic:           o.Critic,
			Verdict:          o.Verdict,
			Confidence:       &confidence,
			Justification:    o.Justification,
			Weight:           o.Weight,
			Priority:         o.Priority,
			EvidenceSources:  o.EvidenceSources,
			ConfigVersion:    o.ConfigVersion,
			Timestamp:        o.Timestamp,
			ErrorType:        o.ErrorType,
			AttemptedRetries: o.AttemptedRetries,
			Right:            o.Right,
			Violation:        o.Violation,
			ConfidenceScore:  o.ConfidenceScore,
			Conflict:         o.Conflict,
		}
	}
	return raw
}

func (e *Engine) attachPrecedents(ctx context.Context, decision *Decision, req Request) {
	results, err := e.precedentStore.SearchSimilar(ctx, precedent.Query{
		Text:          req.Text,
		Context:       req.Context,
		Limit:         e.precedentLimit,
		MinSimilarity: e.precedentMinSimilarity,
	})
	if err != nil {
		e.logger.Warn("precedent search failed", "error", &ejerr.PrecedentStoreError{Op: "search", Err: err})
		return
	}

	if e.ranker != nil {
		verdict := decision.Aggregation.OverallVerdict
		results = e.ranker.Rank(results, &verdict, time.Now())
	}

	refs := make([]model.PrecedentRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, model.PrecedentRef{
			PrecedentID:     r.Record.PrecedentID,
			SimilarityScore: r.Similarity,
			InfluenceWeight: r.Final,
		})
	}
	decision.Precedents = refs
}

func (e *Engine) storePrecedent(ctx context.Context, decision *Decision, req Request) {
	caseHash, err := model.CaseHash(req.Text, req.Context)
	if err != nil {
		e.logger.Warn("compute case hash failed", "error", err)
		return
	}

	_, err = e.precedentStore.Store(ctx, precedent.Record{
		CaseHash:      caseHash,
		InputText:     req.Text,
		Context:       req.Context,
		CriticOutputs: decision.Bundle.CriticOutputs,
		Verdict:       decision.CurrentVerdict(),
		CreatedAt:     time.Now(),
	})
	if err != nil {
		e.logger.Warn("precedent store failed", "error", &ejerr.PrecedentStoreError{Op: "store", Err: err})
	}
}

func (e *Engine) appendAudit(ctx context.Context, eventType, requestID, decisionID string, payload map[string]any) {
	_, err := e.auditLog.WriteSigned(ctx, audit.Event{
		EventType:  eventType,
		RequestID:  requestID,
		DecisionID: decisionID,
		Payload:    payload,
	})
	if err != nil {
		e.logger.Error("audit write failed", "error", &ejerr.AuditWriteError{EventType: eventType, Err: err})
	}
}

func (e *Engine) notifyDecision(ctx context.Context, decision *Decision) {
	for _, obs := range e.observers {
		obs := obs
		go func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("decision observer panicked", "panic", r)
				}
			}()
			obs.OnDecision(ctx, decision)
		}()
	}
}

func (e *Engine) notifyOverride(ctx context.Context, decision *Decision, req *OverrideRequest) {
	for _, obs := range e.observers {
		obs := obs
		go func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("override observer panicked", "panic", r)
				}
			}()
			obs.OnOverride(ctx, decision, req)
		}()
	}
}
