// Package jwt decodes the access tokens the backend issues and, for the
// local dev backend, signs and verifies them.
package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var ErrNoExpiry = errors.New("token has no exp claim")

// Claims carried by a citycard access token.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwtlib.RegisteredClaims
}

// Decode reads the claims of raw without verifying its signature. The client
// never holds the signing key; it only needs exp to know when to refresh.
func Decode(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, jwtlib.ErrTokenMalformed
	}
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ExpiresAt returns the exp claim of raw.
func ExpiresAt(raw string) (time.Time, error) {
	claims, err := Decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether raw is past its exp claim. A token that cannot be
// decoded or carries no exp counts as expired.
func IsExpired(raw string) bool {
	exp, err := ExpiresAt(raw)
	if err != nil {
		return true
	}
	return !NowTimeFunc().Before(exp)
}
