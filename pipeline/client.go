// Package pipeline is the single HTTP client every backend call goes
// through. It attaches the session's bearer token, renews it when it has
// expired, and turns every response into either a decoded value or a typed
// *errors.Error, publishing the side effect (session cleared, forbidden,
// server error, notification) on the event bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrsteele09/citycard-gateway/events"
	"github.com/jrsteele09/citycard-gateway/internal/i18n"
	"github.com/jrsteele09/citycard-gateway/internal/metrics"
)

const (
	DefaultTimeout = 10 * time.Second

	HeaderRequestID    = "X-Request-ID"
	HeaderRenewedToken = "X-Renewed-Token"

	tracerName = "github.com/jrsteele09/citycard-gateway/pipeline"
)

// CredentialSource is the narrow view of the session the pipeline needs.
// session.Manager implements it.
//
// Generations tie a response to the session its request was sent under, so a
// late answer for a replaced session cannot rotate or clear the new one.
// Every install or clear advances the generation by one.
type CredentialSource interface {
	AccessToken() string
	Credentials() (token string, generation uint64)
	HasRefreshToken() bool
	IsExpired(token string) bool
	Refresh(ctx context.Context) (string, error)
	InvalidateIf(ctx context.Context, generation uint64, reason string) (bool, error)
	RotateAccessTokenIf(ctx context.Context, generation uint64, token string) error
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	bus        *events.Bus
	translator *i18n.Translator
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger
	locator    func() string

	mu    sync.RWMutex
	creds CredentialSource
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithEventBus(bus *events.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

func WithTranslator(t *i18n.Translator) Option {
	return func(c *Client) {
		if t != nil {
			c.translator = t
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLocator supplies the current in-app location, sent as ReturnTo when a
// 401 ends the session.
func WithLocator(fn func() string) Option {
	return func(c *Client) { c.locator = fn }
}

func WithCredentialSource(src CredentialSource) Option {
	return func(c *Client) { c.creds = src }
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("[pipeline.New] invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("[pipeline.New] base URL must be http or https")
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		translator: i18n.New(""),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		logger:     log.Logger,
		locator:    func() string { return "" },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetCredentialSource binds the session after construction. The session
// manager is built on top of a client, so it can only be attached afterwards.
func (c *Client) SetCredentialSource(src CredentialSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = src
}

func (c *Client) credentials() CredentialSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// BaseURL is the API root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
