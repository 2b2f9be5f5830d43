package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jrsteele09/citycard-gateway/users"
)

const issuer = "citycard-devbackend"

// Creator issues access tokens for the dev backend.
type Creator struct {
	signer Signer
	expiry time.Duration
}

func NewCreator(signer Signer, expiry time.Duration) *Creator {
	return &Creator{
		signer: signer,
		expiry: expiry,
	}
}

// CreateAccessToken signs a token for user and returns it with its claims.
func (c *Creator) CreateAccessToken(user *users.User) (string, *Claims, error) {
	now := NowTimeFunc()
	claims := &Claims{
		Role:  string(user.Role),
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.expiry)),
			ID:        uuid.New().String(), // jti, used for revocation
		},
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, claims, nil
}
