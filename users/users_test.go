package users_test

import (
	"testing"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/users"
	fakeuserrepo "github.com/jrsteele09/citycard-gateway/users/repofake"
	"github.com/stretchr/testify/require"
)

func validProfile() users.Profile {
	return users.Profile{
		Name:     "  Lin Mei ",
		Email:    " Mei.Lin@Example.COM ",
		Password: "tr0ub4dor&3",
		Phone:    "0912345678",
		Birthday: "1990-05-01",
	}
}

func TestProfile_Normalize(t *testing.T) {
	p := validProfile()
	p.Role = users.RoleAdmin
	p.EmailVerified = true

	n := p.Normalize()
	require.Equal(t, "Lin Mei", n.Name)
	require.Equal(t, "mei.lin@example.com", n.Email)
	require.Equal(t, users.RoleUser, n.Role)
	require.True(t, n.Active)
	require.False(t, n.EmailVerified)
}

func TestProfile_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validProfile().Normalize().Validate())
	})

	tests := []struct {
		name   string
		mutate func(p *users.Profile)
		field  string
	}{
		{"missing name", func(p *users.Profile) { p.Name = "" }, "name"},
		{"bad email", func(p *users.Profile) { p.Email = "not-an-email" }, "email"},
		{"short password", func(p *users.Profile) { p.Password = "short" }, "password"},
		{"bad phone prefix", func(p *users.Profile) { p.Phone = "0812345678" }, "phone"},
		{"phone too long", func(p *users.Profile) { p.Phone = "09123456789" }, "phone"},
		{"bad birthday", func(p *users.Profile) { p.Birthday = "01/05/1990" }, "birthday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)
			err := p.Normalize().Validate()
			require.ErrorIs(t, err, apperrors.ErrValidation)

			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			require.Contains(t, appErr.Fields, tt.field)
		})
	}
}

func TestCredentials_Validate(t *testing.T) {
	c := users.Credentials{Email: " USER@Example.com", Password: "secret"}.Normalize()
	require.Equal(t, "user@example.com", c.Email)
	require.NoError(t, c.Validate())

	require.ErrorIs(t, users.Credentials{Email: "user@example.com"}.Validate(), apperrors.ErrValidation)
	require.ErrorIs(t, users.ValidateEmail("nope"), apperrors.ErrValidation)
}

func TestPasswordChange_Validate(t *testing.T) {
	require.NoError(t, users.PasswordChange{OldPassword: "old-password", NewPassword: "new-password"}.Validate())
	require.Error(t, users.PasswordChange{OldPassword: "same-password", NewPassword: "same-password"}.Validate())
}

func TestUser_Roles(t *testing.T) {
	var nilUser *users.User
	require.False(t, nilUser.IsAdmin())
	require.False(t, nilUser.Valid())

	u := &users.User{ID: "1", Email: "a@b.c", Role: users.RoleAdmin}
	require.True(t, u.IsAdmin())
	require.True(t, u.Valid())

	u.Role = "ROLE_ROOT"
	require.False(t, u.Valid())
}

func TestUser_Merge(t *testing.T) {
	u := &users.User{ID: "1", Name: "Old", Email: "a@b.c", Role: users.RoleUser, Active: true, Phone: "0911111111"}
	u.Merge(&users.User{Name: "New", Active: true, EmailVerified: true})

	require.Equal(t, "New", u.Name)
	require.Equal(t, "0911111111", u.Phone)
	require.True(t, u.EmailVerified)
	require.Equal(t, users.RoleUser, u.Role)
}

func TestPasswordScore(t *testing.T) {
	require.Less(t, users.PasswordScore("password"), 2)
	require.GreaterOrEqual(t, users.PasswordScore("correct-horse-battery-staple-91"), 3)
}

func TestHashPassword(t *testing.T) {
	hash, err := users.HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.True(t, users.CheckPasswordHash("s3cret-pass", hash))
	require.False(t, users.CheckPasswordHash("wrong", hash))
}

func TestFakeUserRepo(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()

	u := &users.User{Email: "user@example.com", Role: users.RoleUser}
	require.NoError(t, repo.Upsert(u))
	require.NotEmpty(t, u.ID)

	got, err := repo.GetByEmail("USER@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	err = repo.Upsert(&users.User{Email: "user@example.com"})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	got.Name = "changed"
	again, err := repo.GetByID(u.ID)
	require.NoError(t, err)
	require.Empty(t, again.Name, "callers get copies")

	require.NoError(t, repo.SetVerified("user@example.com", true))
	again, err = repo.GetByEmail("user@example.com")
	require.NoError(t, err)
	require.True(t, again.EmailVerified)

	list, err := repo.List(0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, repo.Delete("user@example.com"))
	_, err = repo.GetByID(u.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
