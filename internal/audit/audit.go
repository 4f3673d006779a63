// Package audit defines the append-only, tamper-evident Audit Log contract
// (§4.8) and a reference hash-chained implementation suitable for
// in-process or test use. The production backend lives in internal/pgstore.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only audit record. RequestID, Timestamp, and EventType
// are required by §4.8; Payload carries the event-specific JSON body (a
// serialized EvidenceBundle, Decision, override event, or fallback bundle).
type Event struct {
	EventID    uuid.UUID      `json:"event_id"`
	EventType  string         `json:"event_type"`
	RequestID  string         `json:"request_id"`
	DecisionID string         `json:"decision_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
}

// Receipt is returned from a successful WriteSigned call: the event's
// position in the chain, its own content hash, the hash of the entry before
// it, and a detachable signature over ChainHash.
type Receipt struct {
	EventID   uuid.UUID `json:"event_id"`
	Sequence  int64     `json:"sequence"`
	ChainHash string    `json:"chain_hash"`
	PrevHash  string    `json:"prev_hash"`
	Signature []byte    `json:"signature,omitempty"`
}

// Signer signs a chain hash for inclusion in a Receipt. Implemented by
// internal/signing.Ed25519Signer.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Log is the core's only dependency for audit persistence. Implementations
// choose Merkle trees, hash chains, or external notarization; the core calls
// WriteSigned for every pipeline event and Annotate only from
// Engine.AnnotateAudit.
type Log interface {
	WriteSigned(ctx context.Context, event Event) (Receipt, error)
	// Annotate appends a non-mutating feedback note referencing a past
	// event, without altering the original entry's chain position. See
	// SPEC_FULL.md's audit-log feedback supplement.
	Annotate(ctx context.Context, eventID uuid.UUID, note string) (Receipt, error)
}

// HashChainLog is an in-memory reference Log: each event's ChainHash folds
// in the previous entry's ChainHash, so altering any past entry invalidates
// every receipt after it. Safe for concurrent use. Intended for tests and
// single-process deployments; internal/pgstore.AuditLog is the durable,
// Merkle-batched production implementation grounded on the same scheme.
type HashChainLog struct {
	mu     sync.Mutex
	events []storedEvent
	signer Signer
}

type storedEvent struct {
	event    Event
	receipt  Receipt
}

// NewHashChainLog constructs a HashChainLog. signer may be nil, in which
// case receipts carry no signature (ChainHash alone still provides
// tamper-evidence for in-process use).
func NewHashChainLog(signer Signer) *HashChainLog {
	return &HashChainLog{signer: signer}
}

// WriteSigned appends event to the chain and returns its receipt.
func (l *HashChainLog) WriteSigned(_ context.Context, event Event) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	prevHash := genesisHash
	if n := len(l.events); n > 0 {
		prevHash = l.events[n-1].receipt.ChainHash
	}

	chainHash := chainedDigest(prevHash, event)
	var sig []byte
	if l.signer != nil {
		signed, err := l.signer.Sign([]byte(chainHash))
		if err != nil {
			return Receipt{}, fmt.Errorf("audit: sign chain hash: %w", err)
		}
		sig = signed
	}

	receipt := Receipt{
		EventID:   event.EventID,
		Sequence:  int64(len(l.events)),
		ChainHash: chainHash,
		PrevHash:  prevHash,
		Signature: sig,
	}
	l.events = append(l.events, storedEvent{event: event, receipt: receipt})
	return receipt, nil
}

// Annotate appends a new `audit_annotation` event referencing eventID,
// rather than mutating the original entry, so earlier receipts remain valid.
func (l *HashChainLog) Annotate(ctx context.Context, eventID uuid.UUID, note string) (Receipt, error) {
	return l.WriteSigned(ctx, Event{
		EventType: "audit_annotation",
		Payload: map[string]any{
			"annotates": eventID.String(),
			"note":      note,
		},
	})
}

// genesisHash seeds the chain for the first event.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainedDigest hashes prevHash together with a deterministic rendering of
// event's identity fields, so the chain is verifiable without needing the
// full payload serialization format pinned.
func chainedDigest(prevHash string, event Event) string {
	return ChainedDigest(prevHash, event)
}

// ChainedDigest is chainedDigest exported for internal/pgstore, so its
// Postgres-backed chain hashes agree byte-for-byte with HashChainLog's.
func ChainedDigest(prevHash string, event Event) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(event.EventID.String()))
	h.Write([]byte(event.EventType))
	h.Write([]byte(event.RequestID))
	h.Write([]byte(event.DecisionID))
	h.Write([]byte(event.Timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// GenesisHash is genesisHash exported for internal/pgstore.
const GenesisHash = genesisHash

// hashPair combines two child hashes into a parent Merkle node, matching the
// convention internal/pgstore's batched Merkle root builder uses over
// accumulated HashChainLog entries.
func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot folds a batch of leaf hashes into a single root, duplicating
// the final leaf when the batch is odd-sized. Used by internal/pgstore to
// periodically checkpoint the hash chain.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return genesisHash
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
