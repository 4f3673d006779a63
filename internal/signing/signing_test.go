package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eje-systems/eje/internal/model"
)

func ephemeralSigner(t *testing.T) *Ed25519Signer {
	t.Helper()
	s, err := NewEd25519Signer("", "", time.Hour)
	require.NoError(t, err)
	return s
}

func TestEd25519Signer_SignVerifyRoundTrip(t *testing.T) {
	s := ephemeralSigner(t)
	digest := []byte("some chain hash")
	sig, err := s.Sign(digest)
	require.NoError(t, err)
	assert.True(t, s.Verify(digest, sig))
	assert.False(t, s.Verify([]byte("tampered"), sig))
}

func TestEd25519Signer_ReviewerTokenRoundTrip(t *testing.T) {
	s := ephemeralSigner(t)
	reviewer := model.ReviewerIdentity{
		ReviewerID:   "rev-1",
		Name:         "Jordan Ellis",
		ReviewerRole: model.ReviewerEthicsOfficer,
	}

	token, exp, err := s.IssueReviewerToken(reviewer)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	parsed, err := s.ParseReviewerToken(token)
	require.NoError(t, err)
	assert.Equal(t, reviewer.ReviewerID, parsed.ReviewerID)
	assert.Equal(t, reviewer.ReviewerRole, parsed.ReviewerRole)
}

func TestEd25519Signer_ParseRejectsGarbage(t *testing.T) {
	s := ephemeralSigner(t)
	_, err := s.ParseReviewerToken("not-a-jwt")
	assert.Error(t, err)
}
