// Package authapi is the client for the backend's /auth endpoints. It
// implements session.AuthAPI on top of the pipeline.
package authapi

import (
	"context"
	"net/http"

	"github.com/jrsteele09/citycard-gateway/internal/i18n"
	"github.com/jrsteele09/citycard-gateway/pipeline"
	"github.com/jrsteele09/citycard-gateway/session"
	"github.com/jrsteele09/citycard-gateway/users"
)

// Backend endpoints, relative to the API base URL.
const (
	LoginPath              = "/auth/login"
	RegisterPath           = "/auth/register"
	LogoutPath             = "/auth/logout"
	RefreshPath            = "/auth/refresh-token"
	ProfilePath            = "/auth/profile"
	ChangePasswordPath     = "/auth/change-password"
	PasswordResetRequest   = "/auth/password-reset-request"
	ResetPasswordPath      = "/auth/reset-password"
	VerifyEmailPath        = "/auth/verify-email"
	ResendVerificationPath = "/auth/resend-verification"
)

var _ session.AuthAPI = (*Client)(nil)

type Client struct {
	pipeline *pipeline.Client
}

func New(pl *pipeline.Client) *Client {
	return &Client{pipeline: pl}
}

// tokenResponse covers both field spellings the backend has used.
type tokenResponse struct {
	Token        string      `json:"token"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *users.User `json:"user"`
	Principal    *users.User `json:"principal"`
}

func (t *tokenResponse) tokens() session.Tokens {
	access := t.AccessToken
	if access == "" {
		access = t.Token
	}
	return session.Tokens{AccessToken: access, RefreshToken: t.RefreshToken}
}

func (t *tokenResponse) user() *users.User {
	if t.User != nil {
		return t.User
	}
	return t.Principal
}

// userResponse accepts a bare principal or one nested under user/principal.
type userResponse struct {
	users.User
	Nested    *users.User `json:"user"`
	Principal *users.User `json:"principal"`
}

func (u *userResponse) value() *users.User {
	switch {
	case u.Nested != nil:
		return u.Nested
	case u.Principal != nil:
		return u.Principal
	case u.User.ID == "" && u.User.Email == "":
		return nil
	default:
		out := u.User
		return &out
	}
}

// Login is silent: the caller shows the failure next to the form.
func (c *Client) Login(ctx context.Context, creds users.Credentials) (*session.LoginResult, error) {
	var resp tokenResponse
	err := c.pipeline.Post(ctx, LoginPath, creds, &resp,
		pipeline.Public(), pipeline.Silent(), pipeline.WithFallbackMessage(i18n.MsgLoginFailed))
	if err != nil {
		return nil, err
	}
	return &session.LoginResult{Tokens: resp.tokens(), User: resp.user()}, nil
}

func (c *Client) Register(ctx context.Context, profile users.Profile) (*users.User, error) {
	var resp userResponse
	err := c.pipeline.Post(ctx, RegisterPath, profile, &resp,
		pipeline.Public(), pipeline.WithFallbackMessage(i18n.MsgRegisterFailed))
	if err != nil {
		return nil, err
	}
	return resp.value(), nil
}

// Logout tells the backend to revoke accessToken. It is sent explicitly
// because the session may already be clearing.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	body := map[string]string{"token": accessToken}
	return c.pipeline.Post(ctx, LogoutPath, body, nil,
		pipeline.Public(), pipeline.Silent(), pipeline.WithBearer(accessToken))
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Tokens, error) {
	var resp tokenResponse
	err := c.pipeline.Post(ctx, RefreshPath, map[string]string{"refreshToken": refreshToken}, &resp,
		pipeline.Public(), pipeline.Silent())
	if err != nil {
		return nil, err
	}
	tokens := resp.tokens()
	return &tokens, nil
}

func (c *Client) Profile(ctx context.Context) (*users.User, error) {
	var resp userResponse
	if err := c.pipeline.Get(ctx, ProfilePath, &resp, pipeline.WithFallbackMessage(i18n.MsgProfileFailed)); err != nil {
		return nil, err
	}
	return resp.value(), nil
}

func (c *Client) UpdateProfile(ctx context.Context, update users.ProfileUpdate) (*users.User, error) {
	var resp userResponse
	if err := c.pipeline.Do(ctx, http.MethodPut, ProfilePath, update, &resp); err != nil {
		return nil, err
	}
	return resp.value(), nil
}

func (c *Client) ChangePassword(ctx context.Context, change users.PasswordChange) error {
	return c.pipeline.Post(ctx, ChangePasswordPath, change, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.pipeline.Post(ctx, PasswordResetRequest, map[string]string{"email": email}, nil, pipeline.Public())
}

func (c *Client) ResetPassword(ctx context.Context, reset users.PasswordReset) error {
	return c.pipeline.Post(ctx, ResetPasswordPath, reset, nil, pipeline.Public())
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.pipeline.Post(ctx, VerifyEmailPath, map[string]string{"token": token}, nil, pipeline.Public())
}

func (c *Client) ResendVerification(ctx context.Context) error {
	return c.pipeline.Post(ctx, ResendVerificationPath, nil, nil)
}
