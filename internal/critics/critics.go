// Package critics defines the critic plugin interface and the runner that
// dispatches a heterogeneous set of critics against one request concurrently.
// See §4.2 and §6.
package critics

import (
	"context"
	"time"

	"github.com/eje-systems/eje/internal/model"
)

// Budget bounds a single RunAll invocation. Zero values fall back to the
// package defaults applied in RunAll.
type Budget struct {
	PerCriticTimeout time.Duration
	GlobalTimeout    time.Duration
	MaxParallelism   int
}

// Default budget values, applied when a Budget field is the zero value.
const (
	DefaultPerCriticTimeout = 5 * time.Second
	DefaultGlobalTimeout    = 10 * time.Second
)

// Critic is the single operation an external evaluator must satisfy, per §6.
// Implementations may signal failure either by returning
// verdict=ERROR in the CriticOutput or by returning a non-nil error — the
// runner normalizes both into the same ERROR shape.
type Critic interface {
	Name() string
	Evaluate(ctx context.Context, snapshot model.InputSnapshot, budget Budget) (model.CriticOutput, error)
}

// RetryPolicy governs whether and how a critic invocation is retried.
// Per the "decorator-style retries → explicit policy objects" design note
// (§9), this is an explicit value passed to the runner rather than an
// ambient wrapper around the critic.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	RetryOn     map[string]bool // error_type values that are worth retrying
}

// NoRetry is the default policy: a single attempt, no retries.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// CriticStats records per-critic execution bookkeeping returned by RunAll.
type CriticStats struct {
	Name            string
	Attempts        int
	Duration        time.Duration
	CompletionRank  int
	TimedOut        bool
}
