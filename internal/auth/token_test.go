package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerify(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Mint("user-1", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Empty(t, claims.SessionID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Mint("user-1", "admin", time.Hour)
	require.NoError(t, err)

	_, err = signer.Verify(token + "x")
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = signer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewSigner("secret-a").Mint("user-1", "admin", time.Hour)
	require.NoError(t, err)

	_, err = NewSigner("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrTokenSignature)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Mint("user-1", "admin", -time.Minute)
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSessionTokenScope(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.MintSessionToken("user-1", "sess-1", time.Minute)
	require.NoError(t, err)

	claims, err := signer.VerifyForSession(token, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "executor", claims.Role)

	_, err = signer.VerifyForSession(token, "sess-2")
	assert.ErrorIs(t, err, ErrTokenScope)
}

func TestClientTokenIsNotSessionScoped(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Mint("user-1", "user", time.Hour)
	require.NoError(t, err)

	_, err = signer.VerifyForSession(token, "any-session")
	assert.NoError(t, err)
}
