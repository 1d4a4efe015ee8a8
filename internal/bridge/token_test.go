package bridge

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	signer, err := NewSigner("s3cret", WithTokenClock(clock), WithTokenTTL(time.Hour))
	require.NoError(t, err)
	verifier, err := NewVerifier("s3cret", WithTokenClock(clock))
	require.NoError(t, err)

	token, err := signer.Sign("eval-1")
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, verifier.Verify(token, "eval-1"))
	})

	t.Run("other evaluation", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify(token, "eval-2"), ErrInvalidToken)
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify("", "eval-1"), ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewVerifier("different", WithTokenClock(clock))
		require.NoError(t, err)
		err = other.Verify(token, "eval-1")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewVerifier("s3cret", WithTokenClock(clock), WithIssuer("someone-else"))
		require.NoError(t, err)
		assert.ErrorIs(t, other.Verify(token, "eval-1"), jwt.ErrTokenInvalidIssuer)
	})

	t.Run("expired", func(t *testing.T) {
		later, err := NewVerifier("s3cret", WithTokenClock(func() time.Time { return now.Add(2 * time.Hour) }))
		require.NoError(t, err)
		assert.ErrorIs(t, later.Verify(token, "eval-1"), jwt.ErrTokenExpired)
	})

	t.Run("unsigned", func(t *testing.T) {
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{EvaluationID: "eval-1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		assert.ErrorIs(t, verifier.Verify(none, "eval-1"), ErrInvalidToken)
	})
}

func TestNewSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner("")
	assert.ErrorIs(t, err, ErrMissingSecret)
	_, err = NewVerifier("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
