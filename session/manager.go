package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/citycard-gateway/events"
	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/internal/metrics"
	"github.com/jrsteele09/citycard-gateway/storage"
	"github.com/jrsteele09/citycard-gateway/users"
)

const refreshKey = "refresh"

var errStale = errors.New("session changed while the request was in flight")

// Manager owns the session. It is the only writer of persisted credentials.
//
// mu guards the in-memory state and is never held across I/O. writeMu
// serializes mutations so the storage write and the in-memory swap of one
// mutation never interleave with another.
type Manager struct {
	api     AuthAPI
	store   storage.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  zerolog.Logger
	refresh singleflight.Group

	writeMu sync.Mutex

	mu         sync.RWMutex
	current    *Session
	generation uint64
	verified   bool
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager returns a logged out manager. Call Restore to load a persisted session.
func NewManager(api AuthAPI, store storage.Store, opts ...Option) (*Manager, error) {
	if api == nil {
		return nil, errors.New("[NewManager] auth API is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] storage is required")
	}
	m := &Manager{
		api:    api,
		store:  store,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Current returns a copy of the installed session, or nil.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.AccessToken
}

// Credentials returns the access token together with the generation it
// belongs to, read under one lock.
func (m *Manager) Credentials() (string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", m.generation
	}
	return m.current.AccessToken, m.generation
}

// Token returns the access token for use with oauth2 helpers, or nil.
func (m *Manager) Token() *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.OAuth2Token()
}

func (m *Manager) HasRefreshToken() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.RefreshToken != ""
}

func (m *Manager) CurrentUser() *users.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.User.Clone()
}

// IsLoggedIn holds when an unexpired access token belongs to an active principal.
func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loggedInLocked()
}

func (m *Manager) loggedInLocked() bool {
	s := m.current
	return s != nil && s.AccessToken != "" && s.User != nil && s.User.Active && !IsExpired(s.AccessToken)
}

func (m *Manager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loggedInLocked() && m.current.User.IsAdmin()
}

// Verified reports whether the principal has been confirmed by the backend
// since the session was restored from storage.
func (m *Manager) Verified() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.verified
}

// Generation changes every time a session is installed or cleared.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// IsExpired reports whether token is past its exp claim.
func (m *Manager) IsExpired(token string) bool {
	return IsExpired(token)
}

func (m *Manager) snapshot() (*Session, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone(), m.generation
}

// Login shape-checks creds, authenticates, and installs the returned session.
// On failure the previous state is untouched.
func (m *Manager) Login(ctx context.Context, creds users.Credentials) (*Session, error) {
	creds = creds.Normalize()
	if err := creds.Validate(); err != nil {
		m.logger.Debug().Err(err).Msg("login rejected by validation")
		return nil, err
	}

	res, err := m.api.Login(ctx, creds)
	if err != nil {
		m.logger.Info().Err(err).Msg("login failed")
		return nil, asAppError(err)
	}
	if res == nil || res.AccessToken == "" || !res.User.Valid() {
		return nil, apperrors.Internal(apperrors.ErrInvalidPrincipal, "login response is missing the token or principal")
	}
	if !res.User.Active {
		return nil, apperrors.Wrap(apperrors.KindAuth, apperrors.ErrAccountInactive, "account is not active")
	}

	next := &Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User.Clone(),
	}
	if err := m.install(ctx, next); err != nil {
		return nil, err
	}

	m.logger.Info().Str("user_id", next.User.ID).Str("role", string(next.User.Role)).Msg("logged in")
	m.bus.Publish(events.LoggedIn{UserID: next.User.ID})
	return next.clone(), nil
}

// Register validates and sends the registration form. It never touches the session.
func (m *Manager) Register(ctx context.Context, profile users.Profile) (*users.User, error) {
	profile = profile.Normalize()
	if err := profile.Validate(); err != nil {
		m.logger.Debug().Err(err).Msg("registration rejected by validation")
		return nil, err
	}
	if score := users.PasswordScore(profile.Password, profile.Name, profile.Email); score < 2 {
		m.logger.Debug().Int("score", score).Msg("weak password accepted for registration")
	}

	u, err := m.api.Register(ctx, profile)
	if err != nil {
		return nil, asAppError(err)
	}
	return u, nil
}

// Logout tells the backend (best effort) and then clears the session. It is
// safe to call when logged out.
func (m *Manager) Logout(ctx context.Context) error {
	s, _ := m.snapshot()
	if s != nil && s.AccessToken != "" {
		if err := m.api.Logout(ctx, s.AccessToken); err != nil {
			m.logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}

	err := m.clear(ctx, ReasonLogout)
	if s != nil && s.User != nil {
		m.bus.Publish(events.LoggedOut{UserID: s.User.ID})
	}
	return err
}

// Invalidate clears the session after the backend rejected its credentials.
func (m *Manager) Invalidate(ctx context.Context, reason string) error {
	return m.clear(ctx, reason)
}

// InvalidateIf clears the session only while it is still the one observed at
// gen. It reports false, leaving a newer session alone, once the session has
// been replaced or cleared.
func (m *Manager) InvalidateIf(ctx context.Context, gen uint64, reason string) (bool, error) {
	return m.clearIf(ctx, gen, reason)
}

// Refresh exchanges the refresh token for a new pair and returns the new
// access token. Concurrent callers share one backend call. Any failure clears
// the session.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ch := m.refresh.DoChan(refreshKey, func() (any, error) {
		return m.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", apperrors.Network(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	s, gen := m.snapshot()
	if s == nil {
		return "", apperrors.Wrap(apperrors.KindAuth, apperrors.ErrNoSession, "not logged in")
	}
	if s.RefreshToken == "" {
		m.metrics.Refresh("failure")
		_, _ = m.clearIf(ctx, gen, ReasonNoRefreshToken)
		return "", apperrors.Wrap(apperrors.KindAuth, apperrors.ErrNoRefreshToken, "session cannot be renewed")
	}

	tokens, err := m.api.Refresh(ctx, s.RefreshToken)
	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = apperrors.Internal(nil, "refresh response has no access token")
	}
	if err != nil {
		m.metrics.Refresh("failure")
		m.logger.Warn().Err(err).Msg("token refresh failed, clearing session")
		_, _ = m.clearIf(ctx, gen, ReasonRefreshFailed)
		return "", asAppError(err)
	}

	next := s.clone()
	next.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		next.RefreshToken = tokens.RefreshToken
	}
	if err := m.update(ctx, gen, func(cur *Session) *Session {
		cur.AccessToken = next.AccessToken
		cur.RefreshToken = next.RefreshToken
		return cur
	}); err != nil {
		return "", err
	}

	m.metrics.Refresh("success")
	m.logger.Debug().Msg("access token refreshed")
	return next.AccessToken, nil
}

// FetchPrincipal reloads the principal from the backend and merges it into
// the session.
func (m *Manager) FetchPrincipal(ctx context.Context) (*users.User, error) {
	s, gen := m.snapshot()
	if s == nil {
		return nil, apperrors.Wrap(apperrors.KindAuth, apperrors.ErrNoSession, "not logged in")
	}

	u, err := m.api.Profile(ctx)
	if err != nil {
		return nil, asAppError(err)
	}
	if u == nil {
		return nil, apperrors.Internal(apperrors.ErrInvalidPrincipal, "profile response is empty")
	}

	var merged *users.User
	err = m.update(ctx, gen, func(cur *Session) *Session {
		cur.User.Merge(u)
		merged = cur.User.Clone()
		return cur
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.generation == gen {
		m.verified = true
	}
	m.mu.Unlock()
	return merged, nil
}

// UpdateProfile sends the editable profile fields and merges the result.
func (m *Manager) UpdateProfile(ctx context.Context, update users.ProfileUpdate) (*users.User, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	_, gen := m.snapshot()
	u, err := m.api.UpdateProfile(ctx, update)
	if err != nil {
		return nil, asAppError(err)
	}
	if u == nil {
		return m.CurrentUser(), nil
	}

	var merged *users.User
	if err := m.update(ctx, gen, func(cur *Session) *Session {
		cur.User.Merge(u)
		merged = cur.User.Clone()
		return cur
	}); err != nil {
		return nil, err
	}
	return merged, nil
}

// RotateAccessToken installs a renewed access token handed back by an
// endpoint. It is ignored when logged out.
func (m *Manager) RotateAccessToken(ctx context.Context, token string) error {
	return m.RotateAccessTokenIf(ctx, m.Generation(), token)
}

// RotateAccessTokenIf installs token only while the session observed at gen
// is still current. A token renewed for a replaced or cleared session is
// dropped.
func (m *Manager) RotateAccessTokenIf(ctx context.Context, gen uint64, token string) error {
	if token == "" {
		return nil
	}
	err := m.update(ctx, gen, func(cur *Session) *Session {
		cur.AccessToken = token
		return cur
	})
	if errors.Is(err, apperrors.ErrNoSession) || errors.Is(err, errStale) {
		return nil
	}
	return err
}

func (m *Manager) ChangePassword(ctx context.Context, change users.PasswordChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	return asAppError(m.api.ChangePassword(ctx, change))
}

func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	if err := users.ValidateEmail(email); err != nil {
		return err
	}
	return asAppError(m.api.RequestPasswordReset(ctx, users.Credentials{Email: email}.Normalize().Email))
}

func (m *Manager) ResetPassword(ctx context.Context, reset users.PasswordReset) error {
	if err := reset.Validate(); err != nil {
		return err
	}
	return asAppError(m.api.ResetPassword(ctx, reset))
}

// VerifyEmail confirms the address with the emailed token and, when logged
// in, reloads the principal so EmailVerified is current.
func (m *Manager) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.Validation("verification token is required", map[string]string{"token": "required"})
	}
	if err := m.api.VerifyEmail(ctx, token); err != nil {
		return asAppError(err)
	}
	if m.Current() != nil {
		if _, err := m.FetchPrincipal(ctx); err != nil {
			m.logger.Debug().Err(err).Msg("profile reload after email verification failed")
		}
	}
	return nil
}

func (m *Manager) ResendVerification(ctx context.Context) error {
	if m.Current() == nil {
		return apperrors.Wrap(apperrors.KindAuth, apperrors.ErrNoSession, "not logged in")
	}
	return asAppError(m.api.ResendVerification(ctx))
}

// install persists next and makes it the current session.
func (m *Manager) install(ctx context.Context, next *Session) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.persist(ctx, next); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = next.clone()
	m.generation++
	m.verified = true
	m.mu.Unlock()
	return nil
}

// update applies fn to a copy of the current session and persists the result,
// unless the session was replaced or cleared after gen was read.
func (m *Manager) update(ctx context.Context, gen uint64, fn func(cur *Session) *Session) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur, curGen := m.snapshot()
	if cur == nil {
		return apperrors.Wrap(apperrors.KindAuth, apperrors.ErrNoSession, "not logged in")
	}
	if curGen != gen {
		m.logger.Debug().Uint64("started", gen).Uint64("current", curGen).Msg("discarding stale session update")
		return apperrors.Internal(errStale, "session changed")
	}

	next := fn(cur)
	if err := m.persist(ctx, next); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	return nil
}

func (m *Manager) clear(ctx context.Context, reason string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.clearLocked(ctx, reason)
}

// clearIf clears only if no other install or clear happened since gen.
func (m *Manager) clearIf(ctx context.Context, gen uint64, reason string) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.Generation() != gen {
		m.logger.Debug().Uint64("started", gen).Str("reason", reason).Msg("session already replaced, not clearing")
		return false, nil
	}
	return true, m.clearLocked(ctx, reason)
}

// clearLocked drops the in-memory session even when the storage write fails,
// so a logout always takes effect for this process.
func (m *Manager) clearLocked(ctx context.Context, reason string) error {
	err := m.persist(ctx, nil)

	m.mu.Lock()
	had := m.current != nil
	m.current = nil
	m.generation++
	m.verified = false
	m.mu.Unlock()

	if had {
		m.metrics.Invalidation(reason)
		m.logger.Info().Str("reason", reason).Msg("session cleared")
	}
	if err != nil {
		m.logger.Error().Err(err).Str("reason", reason).Msg("failed to clear persisted session")
	}
	return err
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	b, err := batchFor(s)
	if err != nil {
		return apperrors.Internal(err, "encode session")
	}
	if err := m.store.Apply(ctx, b); err != nil {
		return apperrors.Internal(err, "persist session")
	}
	return nil
}

// asAppError guarantees the single error type on every returned error.
func asAppError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err, fmt.Sprintf("unexpected error: %v", err))
}
