package jwt

import (
	"errors"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrRevoked = errors.New("token has been revoked")

// RevokedChecker is an interface for checking if a token has been revoked
type RevokedChecker interface {
	IsRevoked(jti string) bool
}

// Inspector verifies tokens issued by a Creator sharing the same signer.
type Inspector struct {
	signer         Signer
	revokedChecker RevokedChecker
}

func NewInspector(signer Signer, revokedChecker RevokedChecker) *Inspector {
	return &Inspector{
		signer:         signer,
		revokedChecker: revokedChecker,
	}
}

// Verify checks the signature, exp and revocation state of rawToken.
func (i *Inspector) Verify(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, jwtlib.ErrTokenMalformed
	}

	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(rawToken, claims, i.signer.GetVerificationKey,
		jwtlib.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwtlib.ErrTokenSignatureInvalid
	}

	if i.revokedChecker != nil && claims.ID != "" && i.revokedChecker.IsRevoked(claims.ID) {
		return nil, ErrRevoked
	}
	return claims, nil
}
