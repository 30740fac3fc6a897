package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")

	token, err := v.Issue("42", time.Minute)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID.String())
}

func TestVerify_AcceptsNumericAndStringUserID(t *testing.T) {
	v := NewVerifier("secret")

	for name, claim := range map[string]any{"number": 7, "string": "7"} {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"user_id": claim,
				"exp":     time.Now().Add(time.Minute).Unix(),
			}).SignedString([]byte("secret"))
			require.NoError(t, err)

			userID, err := v.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, "7", userID.String())
		})
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := NewVerifier("secret")

	expired, err := v.Issue("1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign, err := NewVerifier("other").Issue("1", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(noUser)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Disabled(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Enabled())

	_, err := v.Verify("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = v.Issue("1", time.Minute)
	assert.ErrorIs(t, err, ErrNoSecret)
}
