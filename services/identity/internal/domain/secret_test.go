package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerificationPurpose(t *testing.T) {
	p, err := ParseVerificationPurpose("phone")
	require.NoError(t, err)
	assert.Equal(t, PurposePhone, p)

	p, err = ParseVerificationPurpose("email")
	require.NoError(t, err)
	assert.Equal(t, PurposeEmail, p)

	_, err = ParseVerificationPurpose("reset")
	assert.Error(t, err, "reset is not a contact verification purpose")

	_, err = ParseVerificationPurpose("")
	assert.Error(t, err)
}

func TestEphemeralSecret_ExpiredAt(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &EphemeralSecret{ExpiresAt: exp}

	assert.False(t, s.ExpiredAt(exp.Add(-time.Nanosecond)))
	assert.True(t, s.ExpiredAt(exp), "the expiry instant itself is expired")
	assert.True(t, s.ExpiredAt(exp.Add(time.Nanosecond)))
}

func TestEphemeralSecret_MarkConsumed(t *testing.T) {
	s := &EphemeralSecret{}
	at := time.Now().UTC()

	s.MarkConsumed(at)

	assert.True(t, s.Consumed)
	require.NotNil(t, s.ConsumedAt)
	assert.Equal(t, at, *s.ConsumedAt)
}

func TestPrincipal_Subject(t *testing.T) {
	p := &Principal{ID: "b7e1"}
	assert.Equal(t, "b7e1", p.Subject())
}
