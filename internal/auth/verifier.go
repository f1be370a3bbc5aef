// Package auth verifies bearer tokens presented at the socket handshake
// and on the out-of-band message push endpoint. Token issuance lives in
// the upstream product backend; this package only checks signatures.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for malformed, expired, or
	// wrongly-signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingClaims is returned when a token verifies but lacks the
	// identity claims we require.
	ErrMissingClaims = errors.New("token missing identity claims")
)

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	UserID string
	Email  string
}

// Verifier checks a bearer token and resolves it to an identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// JWTVerifier verifies HMAC-SHA256 signed JWTs. The user id travels in
// the standard `sub` claim and the email in a private `email` claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type identityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning the embedded identity.
func (v *JWTVerifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &identityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, ErrMissingClaims
	}

	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
	}, nil
}
