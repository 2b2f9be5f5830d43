package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/citycard-gateway/events"
	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
)

// Request outcomes, used as metric labels. Rejections use the error kind.
const (
	outcomeOK            = "ok"
	outcomeRefreshFailed = "refresh_failed"
	outcomeDecodeError   = "decode_error"
	outcomeInternal      = string(apperrors.KindInternal)
)

// Same values as the session package's Reason constants.
const (
	reasonUnauthorized  = "unauthorized"
	reasonExpired       = "expired"
	reasonRefreshFailed = "refresh_failed"
)

// errorBody is the shape of a backend error response. Either message or
// error may carry the text; errors carries per-field problems on a 422.
type errorBody struct {
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors"`
}

// envelope is the optional {"data": ...} wrapper around a success body. A
// renewed access token may ride alongside the data.
type envelope struct {
	Data        json.RawMessage `json:"data"`
	Token       string          `json:"token"`
	AccessToken string          `json:"accessToken"`
}

// accept is the success half of the response stage.
func (c *Client) accept(ctx context.Context, resp *http.Response, raw []byte, r *request, out any) error {
	renewed := resp.Header.Get(HeaderRenewedToken)
	payload := raw

	var env envelope
	if looksLikeObject(raw) && json.Unmarshal(raw, &env) == nil && len(env.Data) > 0 {
		payload = env.Data
		if renewed == "" {
			renewed = firstNonEmpty(env.Token, env.AccessToken)
		}
	}

	if renewed != "" && r.tracked {
		if creds := c.credentials(); creds != nil {
			if err := creds.RotateAccessTokenIf(ctx, r.generation, renewed); err != nil {
				c.logger.Warn().Err(err).Msg("failed to store renewed access token")
			}
		}
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		appErr := apperrors.Internal(err, "failed to decode response")
		appErr.Status = resp.StatusCode
		c.notify(r, appErr)
		return appErr
	}
	return nil
}

// reject is the failure half of the response stage. It builds the typed
// error and publishes the side effect that goes with the status.
func (c *Client) reject(ctx context.Context, status int, raw []byte, r *request) *apperrors.Error {
	var body errorBody
	if looksLikeObject(raw) {
		_ = json.Unmarshal(raw, &body)
	}

	msg := firstNonEmpty(body.Message, body.Error)
	if msg == "" && r.fallbackKey != "" {
		msg = c.translator.T(r.fallbackKey)
	}
	appErr := apperrors.FromStatus(status, msg)
	if msg == "" {
		appErr.Message = c.translator.FallbackForKind(appErr.Kind)
	}
	if len(body.Errors) > 0 {
		appErr.Fields = body.Errors
	}

	if !r.public {
		switch {
		case status == http.StatusUnauthorized:
			if !c.invalidate(ctx, r) {
				return appErr
			}
			c.bus.Publish(events.SessionInvalidated{Reason: reasonUnauthorized, ReturnTo: c.locator()})
		case status == http.StatusForbidden:
			c.bus.Publish(events.Forbidden{Path: c.locator()})
		case status == http.StatusNotFound:
			c.bus.Publish(events.NotFound{Path: c.locator()})
		case status >= 500:
			c.bus.Publish(events.ServerError{Status: status, Message: appErr.Message})
		}
	}

	c.notify(r, appErr)
	return appErr
}

// invalidate clears the session a 401 was answered for. It reports false when
// a newer session was installed while the request was in flight; that session
// is left alone and neither a redirect nor a notification is published.
func (c *Client) invalidate(ctx context.Context, r *request) bool {
	creds := c.credentials()
	if creds == nil || !r.tracked {
		return true
	}
	current, err := creds.InvalidateIf(ctx, r.generation, reasonUnauthorized)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to clear session after 401")
	}
	if !current {
		c.logger.Debug().Msg("ignoring 401 for a session that was already replaced")
	}
	return current
}

func looksLikeObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
