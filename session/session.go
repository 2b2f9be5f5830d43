// Package session holds the authentication state of the citizen card client:
// the access and refresh tokens plus the principal they belong to. The state
// is written through to storage before any mutation is visible in memory.
package session

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/citycard-gateway/storage"
	"github.com/jrsteele09/citycard-gateway/token/jwt"
	"github.com/jrsteele09/citycard-gateway/users"
)

// Invalidation reasons, used as metric labels and in log lines.
const (
	ReasonLogout         = "logout"
	ReasonUnauthorized   = "unauthorized"
	ReasonExpired        = "expired"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonNoRefreshToken = "no_refresh_token"
	ReasonInconsistent   = "inconsistent"
	ReasonInactive       = "inactive"
)

// Session is one installed login. Values returned by the Manager are copies.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *users.User
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}

// ExpiresAt decodes the access token exp claim.
func (s *Session) ExpiresAt() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	exp, err := jwt.ExpiresAt(s.AccessToken)
	if err != nil {
		return time.Time{}, false
	}
	return exp, true
}

// OAuth2Token exposes the access token in the form the oauth2 package uses to
// set request headers.
func (s *Session) OAuth2Token() *oauth2.Token {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	t := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
	}
	if exp, ok := s.ExpiresAt(); ok {
		t.Expiry = exp
	}
	return t
}

// Tokens is a token pair returned by login or refresh. RefreshToken is empty
// in single-token deployments.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is what the backend returns for a successful login.
type LoginResult struct {
	Tokens
	User *users.User
}

// AuthAPI is the backend the manager talks to. authapi.Client implements it
// over the HTTP pipeline.
type AuthAPI interface {
	Login(ctx context.Context, creds users.Credentials) (*LoginResult, error)
	Register(ctx context.Context, profile users.Profile) (*users.User, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	Profile(ctx context.Context) (*users.User, error)
	UpdateProfile(ctx context.Context, update users.ProfileUpdate) (*users.User, error)
	ChangePassword(ctx context.Context, change users.PasswordChange) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, reset users.PasswordReset) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context) error
}

// IsExpired reports whether token is past its exp claim. Tokens that cannot be
// decoded count as expired.
func IsExpired(token string) bool {
	return jwt.IsExpired(token)
}

// batchFor is the storage write that makes s the persisted session. A nil s
// removes every session key.
func batchFor(s *Session) (storage.Batch, error) {
	if s == nil {
		return storage.Batch{Delete: storage.SessionKeys}, nil
	}
	user, err := json.Marshal(s.User)
	if err != nil {
		return storage.Batch{}, err
	}
	b := storage.Batch{Set: map[string]string{
		storage.KeyToken: s.AccessToken,
		storage.KeyUser:  string(user),
	}}
	if s.RefreshToken != "" {
		b.Set[storage.KeyRefreshToken] = s.RefreshToken
	} else {
		b.Delete = []string{storage.KeyRefreshToken}
	}
	return b, nil
}

// decodeStored rebuilds a session from stored values. It reports false when
// the record is absent or inconsistent.
func decodeStored(values map[string]string) (*Session, bool) {
	token := values[storage.KeyToken]
	var user *users.User
	if raw := values[storage.KeyUser]; raw != "" && raw != "null" {
		u := &users.User{}
		if err := json.Unmarshal([]byte(raw), u); err == nil {
			user = u
		}
	}
	if token == "" || user == nil || !user.Valid() {
		return nil, false
	}
	return &Session{
		AccessToken:  token,
		RefreshToken: values[storage.KeyRefreshToken],
		User:         user,
	}, true
}
