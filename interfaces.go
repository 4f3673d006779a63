package judge

import "context"

// DecisionObserver receives asynchronous notifications when the engine
// reaches a verdict or applies a human override. Multiple observers may be
// registered via multiple WithObserver calls. Observer methods run in their
// own goroutine — they must not block indefinitely — and their failures are
// logged but never fail the originating Decide or ApplyOverride call.
type DecisionObserver interface {
	OnDecision(ctx context.Context, decision *Decision)
	OnOverride(ctx context.Context, decision *Decision, req *OverrideRequest)
}
