package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *OverrideRequest {
	now := time.Now()
	return &OverrideRequest{
		ProposedOutcome: VerdictAllow,
		Justification:   "reconsidered against documented mitigating factors that were not available at the time of the original verdict",
		Timestamp:       now,
	}
}

func TestValidateConstructor_AcceptsRealJustification(t *testing.T) {
	req := validRequest()
	assert.NoError(t, req.ValidateConstructor())
}

func TestValidateConstructor_RejectsBareWordPlaceholder(t *testing.T) {
	req := validRequest()
	req.Justification = "todo todo todo"
	assert.Error(t, req.ValidateConstructor())
}

func TestValidateConstructor_RejectsPlaceholderSentenceUnderThreshold(t *testing.T) {
	req := validRequest()
	req.Justification = "This is just a todo for now, will fill in later"
	require.Less(t, len(req.Justification), 50)
	err := req.ValidateConstructor()
	require.Error(t, err)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "justification", fe.Field)
}

func TestValidateConstructor_PlaceholderPhraseAllowedOnceLongEnough(t *testing.T) {
	req := validRequest()
	req.Justification = "This is not a todo item - it documents the ethics officer's full review of the mitigating evidence presented at the hearing"
	require.GreaterOrEqual(t, len(req.Justification), 50)
	assert.NoError(t, req.ValidateConstructor())
}

func TestValidateConstructor_RejectsWhitespaceOnly(t *testing.T) {
	req := validRequest()
	req.Justification = "          "
	assert.Error(t, req.ValidateConstructor())
}

func TestValidateConstructor_RejectsOutsideLengthBounds(t *testing.T) {
	req := validRequest()
	req.Justification = "too short"
	assert.Error(t, req.ValidateConstructor())

	req2 := validRequest()
	req2.Justification = strings.Repeat("a", 10001)
	assert.Error(t, req2.ValidateConstructor())
}

func TestValidateConstructor_RejectsMatchingOriginalAndProposed(t *testing.T) {
	req := validRequest()
	original := VerdictAllow
	req.OriginalOutcome = &original
	req.ProposedOutcome = VerdictAllow
	assert.Error(t, req.ValidateConstructor())
}

func TestValidateConstructor_RejectsExpiryNotAfterTimestamp(t *testing.T) {
	req := validRequest()
	expiry := req.Timestamp.Add(-time.Hour)
	req.ExpiresAt = &expiry
	assert.Error(t, req.ValidateConstructor())
}
