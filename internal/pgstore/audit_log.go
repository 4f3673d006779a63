package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eje-systems/eje/internal/audit"
)

// batchSize is how many events accumulate before AuditLog folds them into a
// Merkle checkpoint, per SPEC_FULL.md's audit-log batching supplement.
const batchSize = 100

// AuditLog is the durable, Merkle-batched production implementation of
// audit.Log, grounded on the same hash-chain scheme as
// audit.HashChainLog but persisting to Postgres and periodically
// checkpointing batches of event hashes into a Merkle root.
type AuditLog struct {
	db     *DB
	signer audit.Signer
}

// NewAuditLog constructs an AuditLog. signer may be nil, in which case
// receipts carry no signature.
func NewAuditLog(db *DB, signer audit.Signer) *AuditLog {
	return &AuditLog{db: db, signer: signer}
}

// EnsureSchema creates the audit_events and audit_checkpoints tables if they
// don't already exist.
func (l *AuditLog) EnsureSchema(ctx context.Context) error {
	_, err := l.db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			event_id uuid PRIMARY KEY,
			event_type text NOT NULL,
			request_id text NOT NULL DEFAULT '',
			decision_id text NOT NULL DEFAULT '',
			payload jsonb NOT NULL DEFAULT '{}',
			sequence bigint NOT NULL,
			chain_hash text NOT NULL,
			prev_hash text NOT NULL,
			signature bytea,
			created_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS audit_events_request_id_idx ON audit_events (request_id);
		CREATE INDEX IF NOT EXISTS audit_events_decision_id_idx ON audit_events (decision_id);
		CREATE TABLE IF NOT EXISTS audit_checkpoints (
			id bigserial PRIMARY KEY,
			from_sequence bigint NOT NULL,
			to_sequence bigint NOT NULL,
			merkle_root text NOT NULL,
			created_at timestamptz NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("pgstore: ensure audit schema: %w", err)
	}
	return nil
}

// WriteSigned appends event to the chain, assigning it the next sequence
// number and folding in the previous entry's chain hash, then persists it
// and triggers a Merkle checkpoint every batchSize events.
func (l *AuditLog) WriteSigned(ctx context.Context, event audit.Event) (audit.Receipt, error) {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return audit.Receipt{}, fmt.Errorf("pgstore: marshal audit payload: %w", err)
	}

	var receipt audit.Receipt
	err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := l.db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: begin audit write tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var sequence int64
		var prevHash string
		err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), -1) FROM audit_events`).Scan(&sequence)
		if err != nil {
			return fmt.Errorf("pgstore: read audit sequence: %w", err)
		}
		sequence++
		if sequence > 0 {
			if err := tx.QueryRow(ctx, `SELECT chain_hash FROM audit_events ORDER BY sequence DESC LIMIT 1`).Scan(&prevHash); err != nil {
				return fmt.Errorf("pgstore: read previous chain hash: %w", err)
			}
		} else {
			prevHash = audit.GenesisHash
		}

		chainHash := audit.ChainedDigest(prevHash, event)
		var sig []byte
		if l.signer != nil {
			sig, err = l.signer.Sign([]byte(chainHash))
			if err != nil {
				return fmt.Errorf("pgstore: sign chain hash: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO audit_events (event_id, event_type, request_id, decision_id, payload, sequence, chain_hash, prev_hash, signature, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, event.EventID, event.EventType, event.RequestID, event.DecisionID, payloadJSON, sequence, chainHash, prevHash, sig, event.Timestamp)
		if err != nil {
			return fmt.Errorf("pgstore: insert audit event: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("pgstore: commit audit write: %w", err)
		}

		receipt = audit.Receipt{EventID: event.EventID, Sequence: sequence, ChainHash: chainHash, PrevHash: prevHash, Signature: sig}
		return nil
	})
	if err != nil {
		return audit.Receipt{}, err
	}

	if (receipt.Sequence+1)%batchSize == 0 {
		if err := l.checkpoint(ctx, receipt.Sequence); err != nil {
			// A failed checkpoint doesn't undo the write that just succeeded,
			// so the receipt is returned with the error. The next checkpoint
			// folds only its own batch, so this batch stays without one.
			return receipt, fmt.Errorf("pgstore: audit checkpoint: %w", err)
		}
	}
	return receipt, nil
}

// Annotate appends a non-mutating `audit_annotation` event referencing
// eventID, so earlier receipts remain valid.
func (l *AuditLog) Annotate(ctx context.Context, eventID uuid.UUID, note string) (audit.Receipt, error) {
	return l.WriteSigned(ctx, audit.Event{
		EventType: "audit_annotation",
		Payload: map[string]any{
			"annotates": eventID.String(),
			"note":      note,
		},
	})
}

// checkpoint folds the chain hashes of the most recent batchSize events
// ending at toSequence into a Merkle root and records it, giving auditors a
// single hash to verify a whole batch against rather than replaying the
// full chain.
func (l *AuditLog) checkpoint(ctx context.Context, toSequence int64) error {
	fromSequence := toSequence - batchSize + 1
	if fromSequence < 0 {
		fromSequence = 0
	}

	rows, err := l.db.pool.Query(ctx, `
		SELECT chain_hash FROM audit_events
		WHERE sequence >= $1 AND sequence <= $2
		ORDER BY sequence ASC
	`, fromSequence, toSequence)
	if err != nil {
		return fmt.Errorf("pgstore: read checkpoint batch: %w", err)
	}
	defer rows.Close()

	var leaves []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return fmt.Errorf("pgstore: scan checkpoint leaf: %w", err)
		}
		leaves = append(leaves, h)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(leaves) == 0 {
		return nil
	}

	root := audit.BuildMerkleRoot(leaves)
	_, err = l.db.pool.Exec(ctx, `
		INSERT INTO audit_checkpoints (from_sequence, to_sequence, merkle_root, created_at)
		VALUES ($1, $2, $3, $4)
	`, fromSequence, toSequence, root, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("pgstore: insert checkpoint: %w", err)
	}
	return nil
}
