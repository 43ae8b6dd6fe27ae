// Package auth issues and verifies the bearer tokens that bind a transport
// connection to an identity.
package auth

import (
	"errors"
	"strings"
	"time"

	"matchgogo/backend/internal/apperr"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity in the subject. Tokens issued before the
// subject was used only have anon_id.
type Claims struct {
	AnonID string `json:"anon_id,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for identity.
func (a *Authenticator) Issue(identity string) (string, error) {
	if identity == "" {
		return "", apperr.InvalidArg("auth: empty identity")
	}
	now := a.now()
	claims := Claims{
		AnonID: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify returns the identity carried by token.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.Unauthenticated("auth: token missing", nil)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Unauthenticated("auth: token expired", err)
		}
		return "", apperr.Unauthenticated("auth: invalid token", err)
	}

	identity := claims.Subject
	if identity == "" {
		identity = claims.AnonID
	}
	if identity == "" {
		return "", apperr.Unauthenticated("auth: token has no identity", nil)
	}
	return identity, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
