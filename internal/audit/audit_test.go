package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

type stubSigner struct{ calls int }

func (s *stubSigner) Sign(digest []byte) ([]byte, error) {
	s.calls++
	out := make([]byte, len(digest))
	copy(out, digest)
	return out, nil
}

func TestHashChainLog_WriteSigned_ChainsHashes(t *testing.T) {
	log := NewHashChainLog(nil)
	r1, err := log.WriteSigned(context.Background(), Event{EventType: "decision_recorded", RequestID: "r1"})
	require.NoError(t, err)
	r2, err := log.WriteSigned(context.Background(), Event{EventType: "decision_recorded", RequestID: "r2"})
	require.NoError(t, err)

	assert.Equal(t, genesisHash, r1.PrevHash)
	assert.Equal(t, r1.ChainHash, r2.PrevHash)
	assert.NotEqual(t, r1.ChainHash, r2.ChainHash)
}

func TestHashChainLog_WriteSigned_UsesSigner(t *testing.T) {
	signer := &stubSigner{}
	log := NewHashChainLog(signer)
	receipt, err := log.WriteSigned(context.Background(), Event{EventType: "override_applied", RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, signer.calls)
	assert.NotEmpty(t, receipt.Signature)
}

func TestHashChainLog_Annotate_DoesNotAlterPriorChain(t *testing.T) {
	log := NewHashChainLog(nil)
	original, err := log.WriteSigned(context.Background(), Event{EventType: "decision_recorded", RequestID: "r1"})
	require.NoError(t, err)

	annotation, err := log.Annotate(context.Background(), original.EventID, "reviewed by compliance")
	require.NoError(t, err)

	assert.Equal(t, original.ChainHash, annotation.PrevHash)
	assert.NotEqual(t, original.ChainHash, annotation.ChainHash)
}

func TestBuildMerkleRoot_Deterministic(t *testing.T) {
	leaves := []string{"a", "b", "c"}
	root1 := BuildMerkleRoot(leaves)
	root2 := BuildMerkleRoot(append([]string(nil), leaves...))
	assert.Equal(t, root1, root2)
	assert.NotEqual(t, genesisHash, root1)
}

func TestBuildMerkleRoot_EmptyIsGenesis(t *testing.T) {
	assert.Equal(t, genesisHash, BuildMerkleRoot(nil))
}

func TestHashChainLog_EventIDAssignedWhenMissing(t *testing.T) {
	log := NewHashChainLog(nil)
	receipt, err := log.WriteSigned(context.Background(), Event{EventType: "decision_recorded"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, receipt.EventID)
}
