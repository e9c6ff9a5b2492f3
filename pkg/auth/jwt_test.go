package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier([]byte("secret"), "bank-auth", "ledger")

	token, err := v.Issue("uid-123", "a@example.com", time.Minute)
	require.NoError(t, err)

	claims, err := v.ParseAndValidate(token)
	require.NoError(t, err)
	assert.Equal(t, "uid-123", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier([]byte("secret"), "bank-auth", "ledger")

	expired, err := v.Issue("uid-123", "", -time.Minute)
	require.NoError(t, err)
	_, err = v.ParseAndValidate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewVerifier([]byte("other"), "bank-auth", "ledger")
	forged, err := other.Issue("uid-123", "", time.Minute)
	require.NoError(t, err)
	_, err = v.ParseAndValidate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongAudience := NewVerifier([]byte("secret"), "bank-auth", "payments")
	token, err := wrongAudience.Issue("uid-123", "", time.Minute)
	require.NoError(t, err)
	_, err = v.ParseAndValidate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := v.Issue("", "", time.Minute)
	require.NoError(t, err)
	_, err = v.ParseAndValidate(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ParseAndValidate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPrincipalContext(t *testing.T) {
	_, err := PrincipalFrom(context.Background())
	assert.ErrorIs(t, err, ErrNoPrincipal)

	id, err := PrincipalFrom(WithPrincipal(context.Background(), "uid-1"))
	require.NoError(t, err)
	assert.Equal(t, "uid-1", id)
}
