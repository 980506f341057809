// Package token decodes bearer credentials into their claims.
//
// The client never verifies signatures. It only parses the JWT structure and
// checks expiry; the backend services reject forged tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a credential is not a well-formed JWT.
	ErrMalformed = errors.New("malformed credential")
	// ErrExpired is returned by Validate when the exp claim has passed.
	ErrExpired = errors.New("expired credential")
)

// Claims is the decoded content of a credential.
type Claims struct {
	Subject   string
	ExpiresAt *time.Time
	Extra     map[string]any
}

// HasSubject reports whether the credential names a subject.
func (c *Claims) HasSubject() bool {
	return c != nil && c.Subject != ""
}

var parser = jwt.NewParser()

// Decode parses raw without verifying its signature.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sub, err := mc.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: sub: %v", ErrMalformed, err)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformed, err)
	}

	claims := &Claims{
		Subject: sub,
		Extra:   make(map[string]any, len(mc)),
	}
	if exp != nil {
		t := exp.Time
		claims.ExpiresAt = &t
	}
	for k, v := range mc {
		if k == "sub" || k == "exp" {
			continue
		}
		claims.Extra[k] = v
	}
	return claims, nil
}

// IsExpired reports whether claims carry an expiry that is not after now.
func IsExpired(c *Claims, now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}

// Validate decodes raw and rejects it if expired at now.
func Validate(raw string, now time.Time) (*Claims, error) {
	claims, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if IsExpired(claims, now) {
		return claims, ErrExpired
	}
	return claims, nil
}
