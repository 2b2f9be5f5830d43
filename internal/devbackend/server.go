// Package devbackend is a local stand-in for the citizen card backend. It
// serves the /auth endpoints the gateway talks to plus a couple of protected
// sample endpoints, backed by in-memory repositories. It is not meant to
// issue tokens in production.
package devbackend

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/citycard-gateway/internal/config"
	"github.com/jrsteele09/citycard-gateway/token"
	"github.com/jrsteele09/citycard-gateway/token/jwt"
	"github.com/jrsteele09/citycard-gateway/token/refresh"
	refreshrepofake "github.com/jrsteele09/citycard-gateway/token/refresh/repofake"
	"github.com/jrsteele09/citycard-gateway/users"
	fakeuserrepo "github.com/jrsteele09/citycard-gateway/users/repofake"
)

// Mailer delivers one-time tokens (email verification, password reset).
// The default logs them.
type Mailer func(kind, email, token string)

// One-time token kinds handed to the Mailer.
const (
	MailVerifyEmail   = "verify-email"
	MailPasswordReset = "password-reset"
)

type Server struct {
	mux     *http.ServeMux
	routes  []string
	config  config.DevBackendConfig
	logger  zerolog.Logger
	users   users.UserRepo
	creator *jwt.Creator
	inspect *jwt.Inspector
	refresh *refresh.Manager
	revoked token.RevokedTokenCache
	mailer  Mailer
	seed    []SeedUser

	mu       sync.Mutex
	oneTimes map[string]oneTimeToken
}

type oneTimeToken struct {
	kind  string
	email string
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithUserRepo(repo users.UserRepo) Option {
	return func(s *Server) { s.users = repo }
}

func WithMailer(m Mailer) Option {
	return func(s *Server) { s.mailer = m }
}

// WithRevocationCache replaces the in-memory list of revoked access tokens.
func WithRevocationCache(c token.RevokedTokenCache) Option {
	return func(s *Server) { s.revoked = c }
}

// WithSeedUsers replaces the default demo accounts.
func WithSeedUsers(seed ...SeedUser) Option {
	return func(s *Server) { s.seed = seed }
}

func New(cfg config.DevBackendConfig, opts ...Option) (*Server, error) {
	signer := jwt.NewHMACSigner(cfg.GetSigningSecret())

	s := &Server{
		mux:      http.NewServeMux(),
		config:   cfg,
		logger:   log.Logger,
		users:    fakeuserrepo.NewFakeUserRepo(),
		creator:  jwt.NewCreator(signer, cfg.GetAccessTokenExpiry()),
		refresh:  refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), cfg),
		revoked:  token.NewRevocationList(),
		seed:     DefaultSeedUsers(),
		oneTimes: make(map[string]oneTimeToken),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inspect = jwt.NewInspector(signer, s.revoked)
	if s.mailer == nil {
		s.mailer = func(kind, email, token string) {
			s.logger.Info().Str("kind", kind).Str("email", email).Str("token", token).Msg("one-time token issued")
		}
	}

	if err := s.seedUsers(); err != nil {
		return nil, fmt.Errorf("[devbackend.New] failed to seed users: %w", err)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.CorsMiddleware(func(http.ResponseWriter, *http.Request) {})(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// RegisterRouteFunc registers handler for "METHOD /path", mounted under APIPrefix.
func (s *Server) RegisterRouteFunc(pattern string, handler http.HandlerFunc) {
	if method, path, ok := strings.Cut(pattern, " "); ok {
		pattern = method + " " + APIPrefix + path
	} else {
		pattern = APIPrefix + pattern
	}
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

// Users exposes the user repository for inspection and seeding.
func (s *Server) Users() users.UserRepo {
	return s.users
}

// PurgeRevoked drops revocation entries whose tokens have expired anyway.
func (s *Server) PurgeRevoked() {
	s.revoked.Cleanup()
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Debug().Msgf("[%s] %s", colourMethod(method), path)
}

func (s *Server) issueOneTime(kind, email string) string {
	tok := newOneTimeToken()
	s.mu.Lock()
	s.oneTimes[tok] = oneTimeToken{kind: kind, email: email}
	s.mu.Unlock()
	s.mailer(kind, email, tok)
	return tok
}

// consumeOneTime returns the email a token was issued for and forgets it.
func (s *Server) consumeOneTime(kind, tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ot, ok := s.oneTimes[tok]
	if !ok || ot.kind != kind {
		return "", false
	}
	delete(s.oneTimes, tok)
	return ot.email, true
}
