// Package auth implements the account and summary API: sign-up, login, guest
// tokens, and the summary endpoints used by the call server and the browser.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Verify for tokens that are malformed, signed
// with another key or method, or expired.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the identity claims carried by a token. Exactly one of Username
// and Guest is set.
type Claims struct {
	Username string `json:"username,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with secret. A positive ttl sets an
// expiry on every issued token.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueUser returns a token identifying username.
func (i *Issuer) IssueUser(username string) (string, error) {
	return i.sign(Claims{Username: username})
}

// IssueGuest returns a guest token.
func (i *Issuer) IssueGuest() (string, error) {
	return i.sign(Claims{Guest: true})
}

func (i *Issuer) sign(c Claims) (string, error) {
	now := i.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	if i.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return s, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Every failure wraps ErrInvalidToken.
func (i *Issuer) Verify(token string) (*Claims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	c := &Claims{}
	if _, err := p.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !c.Guest && c.Username == "" {
		return nil, fmt.Errorf("%w: no identity claim", ErrInvalidToken)
	}
	return c, nil
}
