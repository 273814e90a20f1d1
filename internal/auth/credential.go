// Package auth holds the bearer credential attached to every backend call
// and to transport-session establishment. Clients never verify signatures;
// the backend adjudicates. The unverified claims are only used to recover
// the subject (user id) and to pre-empt calls with an obviously expired
// token.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrMissingToken means no credential was supplied at construction.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrMalformedToken means the credential is not a parseable JWT.
	ErrMalformedToken = errors.New("auth: malformed bearer token")
)

// Credential wraps a bearer token and its unverified registered claims.
type Credential struct {
	raw     string
	subject string
	expiry  time.Time
}

// New parses the token without verifying the signature. Verification is the
// server's job; a 401 on any call remains the authoritative rejection.
func New(token string) (*Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}

	c := &Credential{raw: token, subject: claims.Subject}
	if claims.ExpiresAt != nil {
		c.expiry = claims.ExpiresAt.Time
	}
	return c, nil
}

// Token returns the raw bearer string for Authorization headers.
func (c *Credential) Token() string { return c.raw }

// UserID returns the token subject.
func (c *Credential) UserID() string { return c.subject }

// Expired reports whether the token expiry has passed. Tokens without an
// exp claim never expire locally; the server still gets the final say.
func (c *Credential) Expired(now time.Time) bool {
	return !c.expiry.IsZero() && now.After(c.expiry)
}
