package devbackend

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/users"
)

// SeedUser is a demo account created at startup.
type SeedUser struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Role     users.RoleType
}

// DefaultSeedUsers are the demo citizen and administrator.
func DefaultSeedUsers() []SeedUser {
	return []SeedUser{
		{Name: "王小明", Email: "user@citycard.tw", Password: "citizen123", Phone: "0912345678", Role: users.RoleUser},
		{Name: "管理員", Email: "admin@citycard.tw", Password: "admin12345", Phone: "0987654321", Role: users.RoleAdmin},
	}
}

func (s *Server) seedUsers() error {
	for _, seed := range s.seed {
		if _, err := s.users.GetByEmail(seed.Email); err == nil {
			continue
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("[devbackend.seedUsers] lookup %s: %w", seed.Email, err)
		}

		hash, err := users.HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("[devbackend.seedUsers] hash password: %w", err)
		}
		now := time.Now()
		u := &users.User{
			Name:          seed.Name,
			Email:         seed.Email,
			Phone:         seed.Phone,
			Role:          seed.Role,
			Active:        true,
			EmailVerified: true,
			PasswordHash:  hash,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.users.Upsert(u); err != nil {
			return fmt.Errorf("[devbackend.seedUsers] store %s: %w", seed.Email, err)
		}
		s.logger.Info().Str("email", seed.Email).Str("role", string(seed.Role)).Msg("seeded demo account")
	}
	return nil
}

func newOneTimeToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
