package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func expiresIn(d time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(d))}
}

func TestVerifyValidToken(t *testing.T) {
	token, err := Sign(secret, Identity{UserID: "u1", Name: "Ann"}, expiresIn(time.Hour))
	require.NoError(t, err)

	id, err := NewJWTVerifier(secret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Name: "Ann"}, id)
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	claims := expiresIn(time.Hour)
	claims.Subject = "u9"
	token, err := Sign(secret, Identity{}, claims)
	require.NoError(t, err)

	id, err := NewJWTVerifier(secret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u9", id.UserID)
}

func TestVerifyRejects(t *testing.T) {
	expired, err := Sign(secret, Identity{UserID: "u1"}, expiresIn(-time.Minute))
	require.NoError(t, err)
	forged, err := Sign("other", Identity{UserID: "u1"}, expiresIn(time.Hour))
	require.NoError(t, err)
	noExpiry, err := Sign(secret, Identity{UserID: "u1"}, jwt.RegisteredClaims{})
	require.NoError(t, err)
	noUser, err := Sign(secret, Identity{}, expiresIn(time.Hour))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{UserID: "u1", RegisteredClaims: expiresIn(time.Hour)}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"forged":    forged,
		"no expiry": noExpiry,
		"no user":   noUser,
		"alg none":  none,
	}
	v := NewJWTVerifier(secret)
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}
