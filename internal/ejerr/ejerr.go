// Package ejerr defines the error kinds surfaced to callers of the judgment
// pipeline, per the error taxonomy in spec §7. Each kind is a distinct typed
// error, so callers can errors.As into the kind they care about without
// string matching. RightsViolationError, OverrideValidationError and
// RequestCancelled carry the originating request id (and, for override
// errors, the decision id); the other kinds carry no request or decision id.
package ejerr

import "fmt"

// ConfigurationError indicates missing required config or a malformed rights
// hierarchy.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Detail }

// MissingInputError indicates the normalizer received no text or no critic
// outputs.
type MissingInputError struct {
	Detail string
}

func (e *MissingInputError) Error() string { return "missing input: " + e.Detail }

// InputConflictError indicates an explicit input_text disagrees with a
// nested context.text.
type InputConflictError struct {
	Detail string
}

func (e *InputConflictError) Error() string { return "input conflict: " + e.Detail }

// PluginSecurityError indicates a critic plugin path escaped its allowed
// root, or used a disallowed file type.
type PluginSecurityError struct {
	Path   string
	Detail string
}

func (e *PluginSecurityError) Error() string {
	return fmt.Sprintf("plugin security error: %s: %s", e.Path, e.Detail)
}

// PluginLoadError indicates a plugin module was found but exposed no
// recognized critic symbol.
type PluginLoadError struct {
	Path   string
	Detail string
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("plugin load error: %s: %s", e.Path, e.Detail)
}

// RightsViolationError terminates pipeline processing for a request: a hard
// right was violated and no verdict may be emitted. See §4.4 step 1.
type RightsViolationError struct {
	Right     string
	RequestID string
}

func (e *RightsViolationError) Error() string {
	return fmt.Sprintf("decision prohibited: violation of right %q", e.Right)
}

// FallbackValidationError indicates the chosen fallback strategy itself
// raised; callers receive the fail-safe result instead (the fallback engine
// never raises this externally — it is recorded internally for logging).
type FallbackValidationError struct {
	Strategy string
	Detail   string
}

func (e *FallbackValidationError) Error() string {
	return fmt.Sprintf("fallback strategy %q failed: %s", e.Strategy, e.Detail)
}

// OverrideValidationError indicates an override request was expired, named
// the wrong decision, or disagreed with the decision's current verdict.
type OverrideValidationError struct {
	RequestID  string
	DecisionID string
	Reason     string
}

func (e *OverrideValidationError) Error() string {
	return fmt.Sprintf("override validation failed for request %s: %s", e.RequestID, e.Reason)
}

// AuditWriteError indicates an audit log append failed. The core must not
// swallow this for override events; it may continue on decision-level
// failures after logging.
type AuditWriteError struct {
	EventType string
	Err       error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed for event %q: %v", e.EventType, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }

// PrecedentStoreError indicates a precedent store retrieval or storage
// failure. Retrieval failures degrade to empty result sets by the caller;
// storage failures are reported but non-fatal.
type PrecedentStoreError struct {
	Op  string
	Err error
}

func (e *PrecedentStoreError) Error() string {
	return fmt.Sprintf("precedent store %s failed: %v", e.Op, e.Err)
}

func (e *PrecedentStoreError) Unwrap() error { return e.Err }

// RequestCancelled indicates caller-initiated cancellation reached the
// pipeline before a verdict was produced.
type RequestCancelled struct {
	RequestID string
}

func (e *RequestCancelled) Error() string {
	return fmt.Sprintf("request %s cancelled", e.RequestID)
}
