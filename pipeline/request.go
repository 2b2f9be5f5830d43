package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/citycard-gateway/events"
	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/internal/i18n"
)

const maxBodyBytes = 10 << 20

type request struct {
	public      bool
	silent      bool
	query       url.Values
	header      http.Header
	bearer      string
	fallbackKey string

	// Set by the request stage when the session's credentials were consulted.
	tracked    bool
	generation uint64
}

// RequestOption adjusts a single call.
type RequestOption func(*request)

// Public marks requests that must not carry the session's credentials and
// must not trigger session handling (login, register, refresh, password reset).
func Public() RequestOption {
	return func(r *request) { r.public = true }
}

// Silent suppresses the error notification for this call.
func Silent() RequestOption {
	return func(r *request) { r.silent = true }
}

func WithQuery(q url.Values) RequestOption {
	return func(r *request) { r.query = q }
}

func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		if r.header == nil {
			r.header = http.Header{}
		}
		r.header.Set(key, value)
	}
}

// WithBearer sends token instead of the session's access token.
func WithBearer(token string) RequestOption {
	return func(r *request) { r.bearer = token }
}

// WithFallbackMessage sets the i18n key shown when an error response carries
// no message of its own.
func WithFallbackMessage(key string) RequestOption {
	return func(r *request) { r.fallbackKey = key }
}

// Do sends a JSON request and decodes a successful response into out.
// Every returned error is an *errors.Error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal(err, "failed to marshal request body")
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, contentType, out, opts)
}

// Upload posts content as the multipart form field "file".
func (c *Client) Upload(ctx context.Context, path, filename string, content io.Reader, out any, opts ...RequestOption) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return apperrors.Internal(err, "failed to create multipart body")
	}
	if _, err := io.Copy(part, content); err != nil {
		return apperrors.Internal(err, "failed to read upload content")
	}
	if err := mw.Close(); err != nil {
		return apperrors.Internal(err, "failed to finish multipart body")
	}
	return c.send(ctx, http.MethodPost, path, &buf, mw.FormDataContentType(), out, opts)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, out any, opts []RequestOption) error {
	r := &request{}
	for _, opt := range opts {
		opt(r)
	}

	start := time.Now()
	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("citycard.request_id", requestID),
			attribute.Bool("citycard.public", r.public),
		),
	)
	defer span.End()

	outcome, err := c.roundTrip(ctx, span, method, path, body, contentType, requestID, r, out)

	span.SetAttributes(attribute.String("citycard.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.ObserveRequest(method, outcome, time.Since(start))
	return err
}

func (c *Client) roundTrip(ctx context.Context, span trace.Span, method, path string, body io.Reader, contentType, requestID string, r *request, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, r.query), body)
	if err != nil {
		return outcomeInternal, apperrors.Internal(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.header {
		req.Header[k] = v
	}

	if err := c.authorize(ctx, req, r); err != nil {
		return outcomeRefreshFailed, err
	}

	logger := c.logger.With().Str("method", method).Str("path", path).Str("request_id", requestID).Logger()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		appErr := apperrors.Network(err)
		appErr.Message = c.translator.T(i18n.MsgNetworkError)
		logger.Warn().Err(err).Msg("request failed without a response")
		c.notify(r, appErr)
		return string(apperrors.KindNetwork), appErr
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		appErr := apperrors.Network(err)
		appErr.Status = resp.StatusCode
		appErr.Message = c.translator.T(i18n.MsgNetworkError)
		c.notify(r, appErr)
		return string(apperrors.KindNetwork), appErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logger.Debug().Int("status", resp.StatusCode).Msg("request succeeded")
		if err := c.accept(ctx, resp, raw, r, out); err != nil {
			return outcomeDecodeError, err
		}
		return outcomeOK, nil
	}

	appErr := c.reject(ctx, resp.StatusCode, raw, r)
	logEvent := logger.Info()
	if appErr.Kind == apperrors.KindServer {
		logEvent = logger.Warn()
	}
	logEvent.Int("status", resp.StatusCode).Str("kind", string(appErr.Kind)).Msg("request rejected")
	return string(appErr.Kind), appErr
}

// authorize is the request stage: it attaches the bearer token, renewing it
// first if it has expired locally.
func (c *Client) authorize(ctx context.Context, req *http.Request, r *request) error {
	if r.bearer != "" {
		(&oauth2.Token{AccessToken: r.bearer, TokenType: "Bearer"}).SetAuthHeader(req)
		return nil
	}
	creds := c.credentials()
	if r.public || creds == nil {
		return nil
	}

	token, gen := creds.Credentials()
	r.tracked, r.generation = true, gen
	if token == "" {
		return nil
	}
	if creds.IsExpired(token) {
		if !creds.HasRefreshToken() {
			c.logger.Debug().Msg("access token expired and no refresh token, sending unauthenticated")
			cleared, _ := creds.InvalidateIf(ctx, gen, reasonExpired)
			if !cleared {
				// A new session was installed meanwhile; send with its token.
				return c.authorize(ctx, req, r)
			}
			r.generation = gen + 1
			return nil
		}
		renewed, err := creds.Refresh(ctx)
		if err != nil {
			if creds.AccessToken() == "" {
				c.bus.Publish(events.SessionInvalidated{Reason: reasonRefreshFailed, ReturnTo: c.locator()})
			}
			appErr := asError(err)
			if appErr.Kind == apperrors.KindAuth {
				appErr.Message = c.translator.T(i18n.MsgSessionExpired)
			}
			c.notify(r, appErr)
			return appErr
		}
		token = renewed
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	return nil
}

// notify publishes a user facing message for err unless the request is silent.
func (c *Client) notify(r *request, err *apperrors.Error) {
	if r.silent || err.Kind == apperrors.KindValidation {
		return
	}
	msg := err.Message
	if msg == "" {
		msg = c.translator.FallbackForKind(err.Kind)
	}
	c.bus.Publish(events.Notify{Level: events.LevelError, Message: msg})
}

func asError(err error) *apperrors.Error {
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		cp := *appErr
		return &cp
	}
	return apperrors.Internal(err, fmt.Sprintf("unexpected error: %v", err))
}
