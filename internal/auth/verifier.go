// Package auth verifies the session token a client presents when it connects.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for a missing, malformed, expired or forged token.
var ErrUnauthorized = errors.New("not authorized")

// Identity is who a verified token belongs to.
type Identity struct {
	UserID string
	Name   string
}

// Verifier turns a credential into an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(token string) (Identity, error)

func (f VerifierFunc) Verify(token string) (Identity, error) { return f(token) }

// SessionClaims are the claims issued by the account service. Older tokens
// carry the user id only in "sub".
type SessionClaims struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed session tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := v.parser.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unexpected claims", ErrUnauthorized)
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token has no user id", ErrUnauthorized)
	}
	return Identity{UserID: userID, Name: claims.Name}, nil
}

// Sign issues a token for id. It exists for tests and local tooling; the
// account service owns issuance in production.
func Sign(secret string, id Identity, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:           id.UserID,
		Name:             id.Name,
		RegisteredClaims: claims,
	}).SignedString([]byte(secret))
}
