package critics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eje-systems/eje/internal/model"
)

// RunAllResult is the runner's output: outputs in input order, overall
// elapsed wall-clock time, and per-critic execution stats.
type RunAllResult struct {
	Outputs    []model.CriticOutput
	ElapsedMS  float64
	PerCritic  []CriticStats
}

// Runner dispatches critics concurrently, bounded by a Budget, and isolates
// per-critic panics and timeouts so one misbehaving plugin cannot affect its
// siblings. Per-critic retry policy defaults to RetryPolicy entries supplied
// via WithRetryPolicy; critics without an explicit entry use NoRetry.
type Runner struct {
	logger   *slog.Logger
	retries  map[string]RetryPolicy
}

// New constructs a Runner. logger must not be nil; pass slog.Default() if no
// specific logger is needed.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, retries: make(map[string]RetryPolicy)}
}

// WithRetryPolicy registers a retry policy for a named critic. Returns the
// receiver for chaining.
func (r *Runner) WithRetryPolicy(criticName string, policy RetryPolicy) *Runner {
	r.retries[criticName] = policy
	return r
}

// RunAll dispatches every critic concurrently against snapshot, honoring
// budget's per-critic and global timeouts, and returns outputs in the same
// order as the input critics slice. See §4.2.
func (r *Runner) RunAll(ctx context.Context, snapshot model.InputSnapshot, cs []Critic, budget Budget) RunAllResult {
	start := time.Now()

	perCriticTimeout := budget.PerCriticTimeout
	if perCriticTimeout <= 0 {
		perCriticTimeout = DefaultPerCriticTimeout
	}
	globalTimeout := budget.GlobalTimeout
	if globalTimeout <= 0 {
		globalTimeout = DefaultGlobalTimeout
	}
	maxParallelism := budget.MaxParallelism
	if maxParallelism <= 0 {
		maxParallelism = len(cs)
	}

	globalCtx, cancel := context.WithTimeout(ctx, globalTimeout)
	defer cancel()

	outputs := make([]model.CriticOutput, len(cs))
	stats := make([]CriticStats, len(cs))
	var completionSeq int64
	var completionMu sync.Mutex

	var g errgroup.Group
	if maxParallelism > 0 {
		g.SetLimit(maxParallelism)
	}

	for i, c := range cs {
		i, c := i, c
		g.Go(func() error {
			out, st := r.runOne(globalCtx, snapshot, c, perCriticTimeout)
			completionMu.Lock()
			completionSeq++
			st.CompletionRank = int(completionSeq)
			completionMu.Unlock()
			outputs[i] = out
			stats[i] = st
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error; failures are encoded in the output

	return RunAllResult{
		Outputs:   outputs,
		ElapsedMS: float64(time.Since(start).Milliseconds()),
		PerCritic: stats,
	}
}

// runOne runs a single critic under its own timeout, isolating panics and
// applying the registered retry policy. It never returns an error: all
// failure modes are encoded as an ERROR CriticOutput, per §4.2 steps 2-3.
func (r *Runner) runOne(ctx context.Context, snapshot model.InputSnapshot, c Critic, timeout time.Duration) (model.CriticOutput, CriticStats) {
	name := c.Name()
	policy, ok := r.retries[name]
	if !ok {
		policy = NoRetry
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	var (
		out      model.CriticOutput
		attempts int
		timedOut bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		out, timedOut = r.attempt(ctx, snapshot, c, timeout)
		if out.Verdict != model.VerdictError {
			break
		}
		if !policy.RetryOn[out.ErrorType] || attempt == maxAttempts {
			break
		}
		if policy.Backoff > 0 {
			select {
			case <-time.After(policy.Backoff):
			case <-ctx.Done():
			}
		}
	}

	out.AttemptedRetries = attempts - 1
	return out, CriticStats{
		Name:     name,
		Attempts: attempts,
		Duration: time.Since(start),
		TimedOut: timedOut,
	}
}

// attempt runs exactly one invocation of a critic, recovering from panics and
// honoring the per-critic timeout. A panic or timeout yields an ERROR output;
// it never propagates to the caller, so siblings are unaffected (§4.2 step 5).
func (r *Runner) attempt(ctx context.Context, snapshot model.InputSnapshot, c Critic, timeout time.Duration) (out model.CriticOutput, timedOut bool) {
	name := c.Name()
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out model.CriticOutput
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("critic panicked", "critic", name, "panic", rec)
				done <- result{out: errorOutput(name, "panic", fmt.Sprintf("%v", rec))}
			}
		}()
		o, err := c.Evaluate(taskCtx, snapshot, Budget{PerCriticTimeout: timeout})
		done <- result{out: o, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return errorOutput(name, "exception", res.err.Error()), false
		}
		if res.out.Critic == "" {
			res.out.Critic = name
		}
		return res.out, false
	case <-taskCtx.Done():
		return errorOutput(name, "timeout", "critic did not complete within per_critic_timeout"), true
	}
}

func errorOutput(critic, errorType, message string) model.CriticOutput {
	return model.CriticOutput{
		Critic:        critic,
		Verdict:       model.VerdictError,
		Confidence:    0,
		Justification: message,
		Weight:        model.DefaultWeight,
		ErrorType:     errorType,
		Timestamp:     time.Now(),
	}
}
