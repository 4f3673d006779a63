package judge

import (
	"log/slog"

	"github.com/eje-systems/eje/internal/audit"
	"github.com/eje-systems/eje/internal/fallback"
	"github.com/eje-systems/eje/internal/governance"
	"github.com/eje-systems/eje/internal/model"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger *slog.Logger

	criticsList   []Critic
	retryPolicies map[string]RetryPolicy
	budget        Budget

	rightsHierarchy RightsHierarchy
	governanceMode  GovernanceMode

	fallbackConfig fallback.Config

	auditLog AuditLog

	precedentStore         PrecedentStore
	precedentEnabled       bool
	rankWeights            RankWeights
	recencyDecayDays       float64
	precedentLimit         int
	precedentMinSimilarity float64

	systemVersion string
	environment   Environment

	observers []DecisionObserver
}

// WithObserver registers an observer notified after every Decide and
// ApplyOverride call. May be called more than once; observers accumulate and
// are all notified, each from its own goroutine, so the order in which they
// run is not defined.
func WithObserver(obs DecisionObserver) Option {
	return func(o *resolvedOptions) { o.observers = append(o.observers, obs) }
}

// WithLogger sets the structured logger the engine and its components use.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithCritics registers the critics the engine dispatches on every Decide
// call. May be called more than once; critics accumulate.
func WithCritics(cs ...Critic) Option {
	return func(o *resolvedOptions) { o.criticsList = append(o.criticsList, cs...) }
}

// WithRetryPolicy registers a retry policy for a named critic. Critics
// without an explicit policy use critics.NoRetry.
func WithRetryPolicy(criticName string, policy RetryPolicy) Option {
	return func(o *resolvedOptions) {
		if o.retryPolicies == nil {
			o.retryPolicies = make(map[string]RetryPolicy)
		}
		o.retryPolicies[criticName] = policy
	}
}

// WithBudget overrides the per-critic and global timeouts, and the maximum
// parallelism, applied to every Decide call's critic dispatch.
func WithBudget(b Budget) Option {
	return func(o *resolvedOptions) { o.budget = b }
}

// WithRightsHierarchy configures the governance layer's hard-rights set.
// Required: New returns a ConfigurationError if this is left empty.
func WithRightsHierarchy(h RightsHierarchy) Option {
	return func(o *resolvedOptions) { o.rightsHierarchy = h }
}

// WithGovernanceMode selects the governance-framework overlay (one of the
// GovernanceMode* constants). Defaults to GovernanceModeDefault.
func WithGovernanceMode(mode GovernanceMode) Option {
	return func(o *resolvedOptions) { o.governanceMode = mode }
}

// WithFallbackConfig configures the fallback engine's trigger thresholds and
// default strategy. Zero-valued fields fall back to the package defaults.
func WithFallbackConfig(cfg fallback.Config) Option {
	return func(o *resolvedOptions) { o.fallbackConfig = cfg }
}

// WithAuditLog sets the audit log every decision and override event is
// appended to. If not set, an in-memory audit.HashChainLog with no signer is
// used — suitable for tests and development, not for production use.
func WithAuditLog(log AuditLog) Option {
	return func(o *resolvedOptions) { o.auditLog = log }
}

// WithPrecedentStore enables precedent retrieval and storage, backed by
// store. When unset, decisions carry no precedents and nothing is persisted.
func WithPrecedentStore(store PrecedentStore) Option {
	return func(o *resolvedOptions) {
		o.precedentStore = store
		o.precedentEnabled = store != nil
	}
}

// WithRankWeights overrides the hybrid precedent ranker's component weights.
// Normalized to sum to 1 regardless of input; defaults to
// precedent.DefaultRankWeights.
func WithRankWeights(w RankWeights) Option {
	return func(o *resolvedOptions) { o.rankWeights = w }
}

// WithRecencyDecayDays sets the half-life, in days, the precedent ranker
// uses to discount older precedents. Defaults to 365.
func WithRecencyDecayDays(days float64) Option {
	return func(o *resolvedOptions) { o.recencyDecayDays = days }
}

// WithPrecedentLimit caps the number of ranked precedents attached to a
// decision. Defaults to 5.
func WithPrecedentLimit(n int) Option {
	return func(o *resolvedOptions) { o.precedentLimit = n }
}

// WithPrecedentMinSimilarity sets the minimum raw similarity score a
// precedent search candidate must clear to be considered.
func WithPrecedentMinSimilarity(min float64) Option {
	return func(o *resolvedOptions) { o.precedentMinSimilarity = min }
}

// WithSystemVersion stamps every evidence bundle and fallback bundle with a
// version string, for audit trail purposes.
func WithSystemVersion(version string) Option {
	return func(o *resolvedOptions) { o.systemVersion = version }
}

// WithEnvironment tags every evidence bundle with the deployment environment.
func WithEnvironment(env Environment) Option {
	return func(o *resolvedOptions) { o.environment = env }
}

func defaultResolvedOptions() resolvedOptions {
	return resolvedOptions{
		logger:                 slog.Default(),
		governanceMode:         governance.ModeDefault,
		precedentLimit:         5,
		recencyDecayDays:       365,
		precedentMinSimilarity: 0,
		environment:            model.EnvProduction,
		auditLog:               audit.NewHashChainLog(nil),
		retryPolicies:          make(map[string]RetryPolicy),
		fallbackConfig:         fallback.Config{},
	}
}
