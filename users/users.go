package users

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
)

// RoleType is the principal's role as issued by the backend.
type RoleType string

const (
	RoleUser  RoleType = "ROLE_USER"
	RoleAdmin RoleType = "ROLE_ADMIN"
)

const MinPasswordLength = 8

var phonePattern = regexp.MustCompile(`^09\d{8}$`)

// User is the authenticated principal.
type User struct {
	ID            string    `json:"id,omitempty"`
	Name          string    `json:"name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Role          RoleType  `json:"role,omitempty"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"emailVerified"`
	Phone         string    `json:"phone,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	Birthday      string    `json:"birthday,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	Address       string    `json:"address,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
	PasswordHash  string    `json:"-"` // never serialized
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Valid reports whether u carries the fields every installed principal must have.
func (u *User) Valid() bool {
	return u != nil && u.ID != "" && u.Email != "" && (u.Role == RoleUser || u.Role == RoleAdmin)
}

// Merge copies the profile fields of other onto u. Empty fields in other are ignored.
func (u *User) Merge(other *User) {
	if other == nil {
		return
	}
	if other.ID != "" {
		u.ID = other.ID
	}
	if other.Name != "" {
		u.Name = other.Name
	}
	if other.Email != "" {
		u.Email = other.Email
	}
	if other.Role != "" {
		u.Role = other.Role
	}
	if other.Phone != "" {
		u.Phone = other.Phone
	}
	if other.Avatar != "" {
		u.Avatar = other.Avatar
	}
	if other.Birthday != "" {
		u.Birthday = other.Birthday
	}
	if other.Gender != "" {
		u.Gender = other.Gender
	}
	if other.Address != "" {
		u.Address = other.Address
	}
	if !other.UpdatedAt.IsZero() {
		u.UpdatedAt = other.UpdatedAt
	}
	u.Active = other.Active
	u.EmailVerified = other.EmailVerified
}

// Clone returns a copy of u that the caller may modify.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Credentials is the login form.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Profile is the registration form.
type Profile struct {
	Name          string   `json:"name" validate:"required"`
	Email         string   `json:"email" validate:"required,email"`
	Password      string   `json:"password" validate:"required,min=8"`
	Phone         string   `json:"phone" validate:"required,twphone"`
	Birthday      string   `json:"birthday,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender        string   `json:"gender,omitempty"`
	Address       string   `json:"address,omitempty"`
	Role          RoleType `json:"role"`
	Active        bool     `json:"active"`
	EmailVerified bool     `json:"emailVerified"`
}

// ProfileUpdate is the editable subset of the principal.
type ProfileUpdate struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,twphone"`
	Avatar  string `json:"avatar,omitempty" validate:"omitempty,url|startswith=/"`
	Address string `json:"address,omitempty"`
}

// PasswordChange is the change-password form.
type PasswordChange struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,nefield=OldPassword"`
}

// PasswordReset completes a reset started by RequestPasswordReset.
type PasswordReset struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("twphone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize trims the form and applies the registration defaults.
func (p Profile) Normalize() Profile {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
	p.Role = RoleUser
	p.Active = true
	p.EmailVerified = false
	return p
}

// Validate checks the shape of the registration form.
func (p Profile) Validate() error {
	return check(p)
}

func (c Credentials) Normalize() Credentials {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	return c
}

func (c Credentials) Validate() error {
	return check(c)
}

func (p ProfileUpdate) Validate() error {
	return check(p)
}

func (p PasswordChange) Validate() error {
	return check(p)
}

func (p PasswordReset) Validate() error {
	return check(p)
}

// ValidateEmail checks a single email address.
func ValidateEmail(email string) error {
	if err := validate.Var(strings.TrimSpace(email), "required,email"); err != nil {
		return apperrors.Validation("invalid email", map[string]string{"email": "email"})
	}
	return nil
}

func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Wrap(apperrors.KindInternal, err, "validation")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperrors.Validation("invalid input", fields)
}

// PasswordScore rates password from 0 (trivial) to 4 (strong). Inputs such as
// the user's name and email lower the score when they appear in the password.
func PasswordScore(password string, userInputs ...string) int {
	return zxcvbn.PasswordStrength(password, userInputs).Score
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
