package devbackend

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/users"
)

type tokenPair struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *users.User `json:"user,omitempty"`
}

type userEnvelope struct {
	User *users.User `json:"user"`
}

// issueTokens signs an access token and rotates the refresh token for u.
func (s *Server) issueTokens(u *users.User) (*tokenPair, error) {
	access, _, err := s.creator.CreateAccessToken(u)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.refresh.Create(u.ID)
	if err != nil {
		return nil, err
	}
	return &tokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}

// LoginHandler exchanges credentials for a token pair and the principal.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds users.Credentials
		if !decodeJSON(w, r, &creds) {
			return
		}
		creds = creds.Normalize()
		if err := creds.Validate(); err != nil {
			writeAppError(w, err)
			return
		}

		u, err := s.users.GetByEmail(creds.Email)
		if err != nil || !users.CheckPasswordHash(creds.Password, u.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "帳號或密碼錯誤")
			return
		}
		if !u.Active {
			writeError(w, http.StatusUnauthorized, "帳號已停用")
			return
		}

		pair, err := s.issueTokens(u)
		if err != nil {
			s.logger.Error().Err(err).Str("email", u.Email).Msg("failed to issue tokens")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		pair.User = u
		s.logger.Info().Str("user_id", u.ID).Msg("login")
		writeJSON(w, http.StatusOK, dataEnvelope{Data: pair})
	}
}

// RegisterHandler creates an account with an unverified email and mails a verification token.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var profile users.Profile
		if !decodeJSON(w, r, &profile) {
			return
		}
		profile = profile.Normalize()
		if err := profile.Validate(); err != nil {
			writeAppError(w, err)
			return
		}

		hash, err := users.HashPassword(profile.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		now := time.Now()
		u := &users.User{
			Name:          profile.Name,
			Email:         profile.Email,
			Phone:         profile.Phone,
			Birthday:      profile.Birthday,
			Gender:        profile.Gender,
			Address:       profile.Address,
			Role:          profile.Role,
			Active:        profile.Active,
			EmailVerified: profile.EmailVerified,
			PasswordHash:  hash,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.users.Upsert(u); err != nil {
			writeAppError(w, err)
			return
		}
		s.issueOneTime(MailVerifyEmail, u.Email)
		writeJSON(w, http.StatusCreated, userEnvelope{User: u})
	}
}

// LogoutHandler revokes the presented access token and the user's refresh
// token. It always succeeds so a client can drop its session regardless.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			var body struct {
				Token string `json:"token"`
			}
			if decodeJSON(w, r, &body) {
				raw = body.Token
			} else {
				return
			}
		}
		if claims, err := s.inspect.Verify(raw); err == nil {
			if claims.ExpiresAt != nil {
				_ = s.revoked.Add(claims.ID, claims.ExpiresAt.Time)
			}
			if err := s.refresh.RevokeUser(claims.Subject); err != nil {
				s.logger.Warn().Err(err).Str("user_id", claims.Subject).Msg("failed to revoke refresh token")
			}
			s.logger.Info().Str("user_id", claims.Subject).Msg("logout")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// RefreshHandler rotates a refresh token into a new token pair.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if body.RefreshToken == "" {
			writeError(w, http.StatusUnauthorized, "refresh token required")
			return
		}

		userID, next, err := s.refresh.Rotate(body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		u, err := s.users.GetByID(userID)
		if err != nil || !u.Active {
			_ = s.refresh.RevokeUser(userID)
			writeError(w, http.StatusUnauthorized, "帳號已停用")
			return
		}
		access, _, err := s.creator.CreateAccessToken(u)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, dataEnvelope{Data: tokenPair{AccessToken: access, RefreshToken: next}})
	}
}

// ProfileHandler returns the bare principal.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func (s *Server) UpdateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		var update users.ProfileUpdate
		if !decodeJSON(w, r, &update) {
			return
		}
		if err := update.Validate(); err != nil {
			writeAppError(w, err)
			return
		}

		u.Merge(&users.User{
			Name:          strings.TrimSpace(update.Name),
			Phone:         update.Phone,
			Avatar:        update.Avatar,
			Address:       strings.TrimSpace(update.Address),
			UpdatedAt:     time.Now(),
			Active:        u.Active,
			EmailVerified: u.EmailVerified,
		})
		if err := s.users.Upsert(u); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userEnvelope{User: u})
	}
}

func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		var change users.PasswordChange
		if !decodeJSON(w, r, &change) {
			return
		}
		if err := change.Validate(); err != nil {
			writeAppError(w, err)
			return
		}
		if !users.CheckPasswordHash(change.OldPassword, u.PasswordHash) {
			writeAppError(w, apperrors.Validation("目前密碼錯誤", map[string]string{"oldPassword": "mismatch"}))
			return
		}
		if err := s.setPassword(u, change.NewPassword); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// PasswordResetRequestHandler always answers 200 so account existence is not revealed.
func (s *Server) PasswordResetRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := users.ValidateEmail(body.Email); err != nil {
			writeAppError(w, err)
			return
		}
		email := strings.ToLower(strings.TrimSpace(body.Email))
		if _, err := s.users.GetByEmail(email); err == nil {
			s.issueOneTime(MailPasswordReset, email)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) ResetPasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reset users.PasswordReset
		if !decodeJSON(w, r, &reset) {
			return
		}
		if err := reset.Validate(); err != nil {
			writeAppError(w, err)
			return
		}
		email, ok := s.consumeOneTime(MailPasswordReset, reset.Token)
		if !ok {
			writeError(w, http.StatusBadRequest, "重設連結無效或已過期")
			return
		}
		u, err := s.users.GetByEmail(email)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if err := s.setPassword(u, reset.NewPassword); err != nil {
			writeAppError(w, err)
			return
		}
		_ = s.refresh.RevokeUser(u.ID)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) VerifyEmailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		email, ok := s.consumeOneTime(MailVerifyEmail, body.Token)
		if !ok {
			writeError(w, http.StatusBadRequest, "驗證連結無效或已過期")
			return
		}
		if err := s.users.SetVerified(email, true); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) ResendVerificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		if u.EmailVerified {
			writeError(w, http.StatusConflict, "電子郵件已驗證")
			return
		}
		s.issueOneTime(MailVerifyEmail, u.Email)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// currentUser loads the authenticated principal.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	u, err := s.users.GetByID(claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "account no longer exists")
		} else {
			writeAppError(w, err)
		}
		return nil, false
	}
	if !u.Active {
		writeError(w, http.StatusUnauthorized, "帳號已停用")
		return nil, false
	}
	return u, true
}

func (s *Server) setPassword(u *users.User, password string) error {
	hash, err := users.HashPassword(password)
	if err != nil {
		return apperrors.Internal(err, "hash password")
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now()
	return s.users.Upsert(u)
}
