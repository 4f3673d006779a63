// Package model defines the canonical data carriers that flow through the
// judgment pipeline: requests, critic outputs, evidence bundles, decisions,
// override requests, and fallback evidence bundles. Types here have no
// behavior beyond validation and hashing helpers — orchestration lives in
// the packages that consume them.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Request is the free-form input to the engine: text plus an open context map.
type Request struct {
	Text     string         `json:"text"`
	Context  map[string]any `json:"context,omitempty"`
	Metadata RequestMeta    `json:"metadata,omitempty"`
}

// RequestMeta carries optional descriptive fields about a request's origin.
type RequestMeta struct {
	Source string   `json:"source,omitempty"`
	Domain string   `json:"domain,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// InputSnapshot is the frozen, hashed form of a Request computed at pipeline
// entry. Once built it is never mutated — every downstream component reads
// the same snapshot.
type InputSnapshot struct {
	Text        string         `json:"text"`
	Context     map[string]any `json:"context,omitempty"`
	Metadata    RequestMeta    `json:"metadata,omitempty"`
	ContextHash string         `json:"context_hash"`
	CapturedAt  time.Time      `json:"captured_at"`
}

// CanonicalContextJSON marshals a context map with lexicographically sorted
// keys at every nesting level, so that ComputeContextHash is stable under
// key permutation (invariant 1 in the testable properties).
func CanonicalContextJSON(context map[string]any) ([]byte, error) {
	return json.Marshal(canonicalizeAny(context))
}

// canonicalizeAny recursively rewrites maps into sortedMap so encoding/json
// emits keys in a deterministic order regardless of the input map's
// iteration order.
func canonicalizeAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedMap, 0, len(val))
		for _, k := range keys {
			out = append(out, sortedEntry{key: k, value: canonicalizeAny(val[k])})
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalizeAny(e)
		}
		return out
	default:
		return v
	}
}

// sortedMap marshals as a JSON object with entries emitted in slice order.
type sortedMap []sortedEntry

type sortedEntry struct {
	key   string
	value any
}

func (m sortedMap) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(e.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// ComputeContextHash computes context_hash = SHA-256(text || canonical_json(context))
// as described in §3.1. Deterministic and stable under JSON key permutation.
func ComputeContextHash(text string, context map[string]any) (string, error) {
	canon, err := CanonicalContextJSON(context)
	if err != nil {
		return "", fmt.Errorf("model: canonicalize context: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(text))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CaseHash is the deterministic fingerprint used by the precedent store to
// deduplicate stored decisions: SHA-256(input_text || canonical_json(context)).
// Structurally identical to ComputeContextHash; kept as a distinct name
// because the two hashes serve different contracts (freezing a snapshot vs.
// deduplicating a store write) even though the formula coincides today.
func CaseHash(text string, context map[string]any) (string, error) {
	return ComputeContextHash(text, context)
}
