// Package fallback implements the Fallback Engine: trigger detection over a
// set of critic outputs and synthesis of a safe verdict when the pipeline
// cannot trust its own aggregation. See §4.5.
package fallback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/model"
)

// Config configures a fallback Engine, mirroring the `fallback.*` keys of
// the recognized configuration surface (§6).
type Config struct {
	DefaultStrategy      model.FallbackStrategy
	ErrorRateThreshold   float64
	MinSuccessfulCritics int
	CriticalCritics      map[string]bool
	SafeDefaultVerdict   model.Verdict
	TimeoutThresholdMS   float64
	SystemVersion        string
	Environment          model.Environment
}

// Engine detects unsafe pipeline states and synthesizes safe decisions. It
// is stateless and safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an Engine, filling in the defaults from §4.5.1/§4.5.2 for
// any zero-valued Config field.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = model.StrategyConservative
	}
	if cfg.ErrorRateThreshold == 0 {
		cfg.ErrorRateThreshold = 0.5
	}
	if cfg.MinSuccessfulCritics == 0 {
		cfg.MinSuccessfulCritics = 1
	}
	if cfg.SafeDefaultVerdict == "" {
		cfg.SafeDefaultVerdict = model.VerdictReview
	}
	if cfg.CriticalCritics == nil {
		cfg.CriticalCritics = map[string]bool{}
	}
	return &Engine{cfg: cfg, logger: logger}
}

// ShouldFallback implements §4.5.1's ordered, first-match-wins trigger chain.
func (e *Engine) ShouldFallback(outputs []model.CriticOutput, agg *model.Aggregation, elapsedMS float64, validationErrors []model.ValidationError) (bool, model.FallbackTrigger, string) {
	total := len(outputs)

	if total == 0 {
		return true, model.TriggerAllCriticsFailed, "no critic outputs available"
	}

	if e.cfg.TimeoutThresholdMS > 0 && elapsedMS > e.cfg.TimeoutThresholdMS {
		return true, model.TriggerTimeoutExceeded, "elapsed time exceeds timeout threshold"
	}

	if model.HasBlockingErrors(validationErrors) {
		return true, model.TriggerSchemaValidationFailed, "schema validation error(s) detected"
	}

	timeouts := 0
	errorsCount := 0
	for _, o := range outputs {
		if o.ErrorType == "timeout" {
			timeouts++
		}
		if o.Verdict == model.VerdictError {
			errorsCount++
		}
	}

	if timeouts == total {
		return true, model.TriggerTimeoutExceeded, "all critics timed out"
	}
	// Strict majority, not >=50%: 2 of 4 timeouts does not trigger, 2 of 3 does.
	if float64(timeouts) > float64(total)/2 {
		return true, model.TriggerTimeoutExceeded, "majority of critics timed out"
	}

	if errorsCount == total {
		return true, model.TriggerAllCriticsFailed, "all critics failed"
	}
	if float64(errorsCount) > float64(total)/2 {
		return true, model.TriggerMajorityCriticsFailed, "majority of critics failed"
	}

	// Strict '>' rather than '>=' so an exact-threshold error rate (e.g. 2 of
	// 4, the default 0.5 threshold) does not trigger on its own, matching the
	// majority-failure and majority-timeout checks' strict convention above.
	errorRate := float64(errorsCount) / float64(total)
	if errorRate > e.cfg.ErrorRateThreshold {
		return true, model.TriggerHighErrorRate, "error rate exceeds threshold"
	}

	for _, o := range outputs {
		if e.cfg.CriticalCritics[o.Critic] && o.Verdict == model.VerdictError {
			return true, model.TriggerCriticalCriticFailed, "critical critic failed: " + o.Critic
		}
	}

	successful := total - errorsCount
	if successful < e.cfg.MinSuccessfulCritics {
		return true, model.TriggerMajorityCriticsFailed, "insufficient successful critics"
	}

	if agg != nil && agg.AvgConfidence < 0.3 {
		return true, model.TriggerInsufficientConfidence, "very low aggregate confidence"
	}

	return false, "", ""
}

// strategyRank orders verdicts from most to least restrictive, the same order
// the conservative strategy's "most restrictive present" rule walks; the
// majority strategy uses it (via verdictRank) to break ties.
var strategyRank = map[model.Verdict]int{
	model.VerdictDeny:   0,
	model.VerdictReview: 1,
	model.VerdictAllow:  2,
}

// Apply dispatches to the chosen strategy (or the engine default) per
// §4.5.2, falling through to fail-safe if the strategy itself fails, and
// always assembles an audit bundle per §4.5.3.
func (e *Engine) Apply(outputs []model.CriticOutput, trigger model.FallbackTrigger, strategy model.FallbackStrategy, elapsedMS float64, validationErrors []model.ValidationError, requestID, correlationID string) model.FallbackEvidenceBundle {
	if strategy == "" {
		strategy = e.cfg.DefaultStrategy
	}
	e.logger.Warn("applying fallback strategy", "strategy", strategy, "trigger", trigger)

	start := time.Now()
	decision := e.applyStrategy(outputs, strategy)
	decision.DecisionTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	return e.buildBundle(outputs, trigger, decision, elapsedMS, validationErrors, requestID, correlationID)
}

func (e *Engine) applyStrategy(outputs []model.CriticOutput, strategy model.FallbackStrategy) (decision model.FallbackDecision) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("fallback strategy failed, using fail-safe",
				"error", &ejerr.FallbackValidationError{Strategy: string(strategy), Detail: fmt.Sprint(rec)})
			decision = e.applyFailSafe()
		}
	}()

	switch strategy {
	case model.StrategyConservative:
		return e.applyConservative(outputs)
	case model.StrategyPermissive:
		return e.applyPermissive(outputs)
	case model.StrategyEscalate:
		return e.applyEscalate(outputs)
	case model.StrategyFailSafe:
		return e.applyFailSafe()
	case model.StrategyMajority:
		return e.applyMajority(outputs)
	default:
		e.logger.Error("unknown fallback strategy, using fail-safe", "strategy", strategy)
		return e.applyFailSafe()
	}
}

func successfulOutputs(outputs []model.CriticOutput) []model.CriticOutput {
	var s []model.CriticOutput
	for _, o := range outputs {
		if o.Verdict != model.VerdictError {
			s = append(s, o)
		}
	}
	return s
}

func (e *Engine) applyConservative(outputs []model.CriticOutput) model.FallbackDecision {
	successful := successfulOutputs(outputs)
	if len(successful) == 0 {
		return model.FallbackDecision{
			Verdict:             model.VerdictReview,
			Confidence:          0,
			StrategyUsed:        model.StrategyConservative,
			Reason:              "all critics failed, requiring human review",
			IsSafeDefault:       true,
			RequiresHumanReview: true,
		}
	}

	verdict := model.VerdictReview
	reason := "defaulting to REVIEW for safety"
	for _, v := range []model.Verdict{model.VerdictDeny, model.VerdictReview, model.VerdictAllow} {
		if containsVerdict(successful, v) {
			verdict = v
			reason = string(v) + " verdict present in successful critics"
			break
		}
	}

	minConf := minConfidence(successful)
	return model.FallbackDecision{
		Verdict:             verdict,
		Confidence:           model.ClampConfidence(minConf * 0.8),
		StrategyUsed:        model.StrategyConservative,
		Reason:              "conservative fallback: " + reason,
		IsSafeDefault:       true,
		RequiresHumanReview: minConf*0.8 < 0.5,
	}
}

func (e *Engine) applyPermissive(outputs []model.CriticOutput) model.FallbackDecision {
	successful := successfulOutputs(outputs)
	if len(successful) == 0 {
		return model.FallbackDecision{
			Verdict:             model.VerdictAllow,
			Confidence:          0.3,
			StrategyUsed:        model.StrategyPermissive,
			Reason:              "permissive fallback: all critics failed, allowing with low confidence",
			RequiresHumanReview: true,
		}
	}

	var verdict model.Verdict
	var reason string
	if containsVerdict(successful, model.VerdictAllow) {
		verdict = model.VerdictAllow
		reason = "permissive fallback: ALLOW verdict present, proceeding with warnings"
	} else {
		verdict = model.VerdictReview
		reason = "permissive fallback: no ALLOW verdict, defaulting to REVIEW"
	}

	confidence := model.ClampConfidence(maxConfidence(successful) * 0.7)
	return model.FallbackDecision{
		Verdict:             verdict,
		Confidence:          confidence,
		StrategyUsed:        model.StrategyPermissive,
		Reason:              reason,
		RequiresHumanReview: confidence < 0.5,
	}
}

func (e *Engine) applyEscalate(outputs []model.CriticOutput) model.FallbackDecision {
	return model.FallbackDecision{
		Verdict:             model.VerdictReview,
		Confidence:          0,
		StrategyUsed:        model.StrategyEscalate,
		Reason:              "fallback triggered: escalating to human review",
		IsSafeDefault:       true,
		RequiresHumanReview: true,
	}
}

func (e *Engine) applyFailSafe() model.FallbackDecision {
	return model.FallbackDecision{
		Verdict:             e.cfg.SafeDefaultVerdict,
		Confidence:          0.5,
		StrategyUsed:        model.StrategyFailSafe,
		Reason:              "fail-safe fallback: using safe default verdict",
		IsSafeDefault:       true,
		RequiresHumanReview: false,
	}
}

func (e *Engine) applyMajority(outputs []model.CriticOutput) model.FallbackDecision {
	successful := successfulOutputs(outputs)
	if len(successful) == 0 {
		return e.applyFailSafe()
	}

	counts := map[model.Verdict]int{}
	for _, o := range successful {
		counts[o.Verdict]++
	}

	var winner model.Verdict
	bestCount := -1
	for v, c := range counts {
		if c > bestCount || (c == bestCount && verdictRank(v) < verdictRank(winner)) {
			winner = v
			bestCount = c
		}
	}

	confidence := model.ClampConfidence((float64(bestCount) / float64(len(successful))) * 0.8)
	return model.FallbackDecision{
		Verdict:             winner,
		Confidence:          confidence,
		StrategyUsed:        model.StrategyMajority,
		Reason:              "majority fallback across successful critics",
		RequiresHumanReview: confidence < 0.5,
	}
}

// verdictRank extends strategyRank with REVIEW fallback ordering used as the
// conservative tie-break for the majority strategy.
func verdictRank(v model.Verdict) int {
	if r, ok := strategyRank[v]; ok {
		return r
	}
	return 99
}

func containsVerdict(outputs []model.CriticOutput, v model.Verdict) bool {
	for _, o := range outputs {
		if o.Verdict == v {
			return true
		}
	}
	return false
}

func minConfidence(outputs []model.CriticOutput) float64 {
	m := outputs[0].Confidence
	for _, o := range outputs[1:] {
		if o.Confidence < m {
			m = o.Confidence
		}
	}
	return m
}

func maxConfidence(outputs []model.CriticOutput) float64 {
	m := outputs[0].Confidence
	for _, o := range outputs[1:] {
		if o.Confidence > m {
			m = o.Confidence
		}
	}
	return m
}

func (e *Engine) buildBundle(outputs []model.CriticOutput, trigger model.FallbackTrigger, decision model.FallbackDecision, elapsedMS float64, validationErrors []model.ValidationError, requestID, correlationID string) model.FallbackEvidenceBundle {
	var failed []model.FailedCriticInfo
	var succeeded []model.CriticOutput
	activeCritics := make([]string, 0, len(outputs))

	for _, o := range outputs {
		activeCritics = append(activeCritics, o.Critic)
		if o.Verdict == model.VerdictError {
			failed = append(failed, model.FailedCriticInfo{
				Name:             o.Critic,
				FailureReason:    o.Justification,
				ErrorType:        o.ErrorType,
				AttemptedRetries: o.AttemptedRetries,
			})
		} else {
			succeeded = append(succeeded, o)
		}
	}

	var warnings, errs []string
	for _, v := range validationErrors {
		if v.Severity == model.SeverityError {
			errs = append(errs, v.Error)
		} else {
			warnings = append(warnings, v.Error)
		}
	}
	if decision.StrategyUsed == model.StrategyPermissive {
		warnings = append(warnings, "permissive fallback applied - monitor decision closely")
	}

	return model.FallbackEvidenceBundle{
		BundleID: uuid.New(),
		FallbackType: trigger,
		FailedCritics: failed,
		SystemStateAtTrigger: model.SystemStateAtTrigger{
			TotalExpected:      len(outputs),
			Attempted:          len(outputs),
			Succeeded:          len(succeeded),
			Failed:             len(failed),
			ElapsedMS:          elapsedMS,
			TimeoutThresholdMS: e.cfg.TimeoutThresholdMS,
			ActiveCritics:      activeCritics,
			RequestID:          requestID,
			CorrelationID:      correlationID,
			Environment:        e.cfg.Environment,
			SystemVersion:      e.cfg.SystemVersion,
		},
		FallbackDecision:        decision,
		SuccessfulCriticOutputs: succeeded,
		Warnings:                warnings,
		Errors:                  errs,
		CreatedAt:               time.Now(),
	}
}
