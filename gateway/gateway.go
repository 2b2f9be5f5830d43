// Package gateway wires the session, the HTTP pipeline and the navigator
// together and exposes the surface the rest of the application consumes.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrsteele09/citycard-gateway/authapi"
	"github.com/jrsteele09/citycard-gateway/events"
	"github.com/jrsteele09/citycard-gateway/internal/config"
	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/internal/i18n"
	"github.com/jrsteele09/citycard-gateway/internal/metrics"
	"github.com/jrsteele09/citycard-gateway/notify"
	"github.com/jrsteele09/citycard-gateway/pipeline"
	"github.com/jrsteele09/citycard-gateway/router"
	"github.com/jrsteele09/citycard-gateway/session"
	"github.com/jrsteele09/citycard-gateway/storage"
	"github.com/jrsteele09/citycard-gateway/users"
)

type Gateway struct {
	Bus           *events.Bus
	Session       *session.Manager
	Pipeline      *pipeline.Client
	Navigator     *router.Navigator
	Notifications *notify.Sink
	Metrics       *metrics.Metrics
	Translator    *i18n.Translator

	store     storage.Store
	loginPath string
	logger    zerolog.Logger
	unsub     []func()
	cleanup   []func() error
}

type options struct {
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	httpClient *http.Client
	store      storage.Store
	routes     []router.Route
	onNotify   func(*notify.Notification)
	logger     zerolog.Logger
}

type Option func(*options)

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithStore uses store instead of opening the configured driver. The gateway
// does not close a store it was given.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

func WithRoutes(routes []router.Route) Option {
	return func(o *options) { o.routes = routes }
}

// WithOnNotify is called whenever the notification slot changes.
func WithOnNotify(fn func(*notify.Notification)) Option {
	return func(o *options) { o.onNotify = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds a gateway from cfg. Call Start to restore a persisted session.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Gateway, error) {
	o := &options{
		registerer: prometheus.DefaultRegisterer,
		routes:     router.DefaultRoutes(),
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	g := &Gateway{
		Bus:        events.NewBus(),
		Metrics:    metrics.New(o.registerer),
		Translator: i18n.New(cfg.GetLocale()),
		loginPath:  cfg.GetLoginPath(),
		logger:     o.logger,
	}

	g.store = o.store
	if g.store == nil {
		store, err := OpenStore(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		g.store = store
		g.cleanup = append(g.cleanup, store.Close)
	}

	var err error
	g.Pipeline, err = pipeline.New(cfg.GetAPIBaseURL(),
		pipeline.WithHTTPClient(o.httpClient),
		pipeline.WithTimeout(cfg.GetRequestTimeout()),
		pipeline.WithEventBus(g.Bus),
		pipeline.WithTranslator(g.Translator),
		pipeline.WithMetrics(g.Metrics),
		pipeline.WithTracerProvider(o.tracer),
		pipeline.WithLogger(o.logger.With().Str("component", "pipeline").Logger()),
		pipeline.WithLocator(g.location),
	)
	if err != nil {
		_ = g.closeResources()
		return nil, err
	}

	g.Session, err = session.NewManager(authapi.New(g.Pipeline), g.store,
		session.WithEventBus(g.Bus),
		session.WithMetrics(g.Metrics),
		session.WithLogger(o.logger.With().Str("component", "session").Logger()),
	)
	if err != nil {
		_ = g.closeResources()
		return nil, err
	}
	g.Pipeline.SetCredentialSource(g.Session)

	table, err := router.NewTable(o.routes)
	if err != nil {
		_ = g.closeResources()
		return nil, err
	}
	g.Navigator, err = router.NewNavigator(table, g.Session,
		router.WithAppName(cfg.GetAppName()),
		router.WithLoginPath(cfg.GetLoginPath()),
		router.WithHomePath(cfg.GetHomePath()),
		router.WithMetrics(g.Metrics),
		router.WithLogger(o.logger.With().Str("component", "router").Logger()),
	)
	if err != nil {
		_ = g.closeResources()
		return nil, err
	}

	g.Notifications = notify.New(
		notify.WithDuration(cfg.GetNotificationDuration()),
		notify.WithOnChange(o.onNotify),
		notify.WithLogger(o.logger.With().Str("component", "notify").Logger()),
	)
	g.unsub = append(g.unsub, g.Navigator.Attach(g.Bus), g.Notifications.Attach(g.Bus))
	return g, nil
}

func (g *Gateway) location() string {
	if g.Navigator == nil {
		return ""
	}
	return g.Navigator.Location()
}

// Start restores the persisted session, if any.
func (g *Gateway) Start(ctx context.Context) error {
	return g.Session.Restore(ctx)
}

func (g *Gateway) IsLoggedIn() bool { return g.Session.IsLoggedIn() }

func (g *Gateway) IsAdmin() bool { return g.Session.IsAdmin() }

func (g *Gateway) CurrentUser() *users.User { return g.Session.CurrentUser() }

// Token is the bearer token collaborators may attach to their own calls.
func (g *Gateway) Token() string { return g.Session.AccessToken() }

// Login signs in and, on success, navigates back to where the guard sent the
// user from.
func (g *Gateway) Login(ctx context.Context, email, password string) (*router.Result, error) {
	_, err := g.Session.Login(ctx, users.Credentials{Email: email, Password: password})
	if err != nil {
		g.reportFailure(err)
		return nil, err
	}
	g.Notifications.Success(g.Translator.T(i18n.MsgLoginSucceeded))
	return g.Navigator.Replace(ctx, g.Navigator.ReturnTarget())
}

// reportFailure shows err in the notification sink once. Validation errors
// stay with the form.
func (g *Gateway) reportFailure(err error) {
	var appErr *apperrors.Error
	if !apperrors.As(err, &appErr) || appErr.Kind == apperrors.KindValidation {
		return
	}
	msg := appErr.Message
	if msg == "" {
		msg = g.Translator.FallbackForKind(appErr.Kind)
	}
	g.Notifications.Error(msg)
}

// Logout signs out and navigates to the login view.
func (g *Gateway) Logout(ctx context.Context) (*router.Result, error) {
	if err := g.Session.Logout(ctx); err != nil {
		g.logger.Error().Err(err).Msg("failed to clear session storage")
	}
	g.Notifications.Info(g.Translator.T(i18n.MsgLoggedOut))
	return g.Navigator.Push(ctx, g.loginPath)
}

// Visit navigates to path through the guard.
func (g *Gateway) Visit(ctx context.Context, path string) (*router.Result, error) {
	return g.Navigator.Push(ctx, path)
}

func (g *Gateway) Close() error {
	for _, fn := range g.unsub {
		fn()
	}
	g.unsub = nil
	if g.Notifications != nil {
		g.Notifications.Close()
	}
	return g.closeResources()
}

func (g *Gateway) closeResources() error {
	var errs []error
	for _, fn := range g.cleanup {
		errs = append(errs, fn())
	}
	g.cleanup = nil
	return errors.Join(errs...)
}
