package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the gateway can report.
type Kind string

const (
	KindValidation  Kind = "validation"   // client-side shape check, never reaches the network
	KindAuth        Kind = "auth"         // 401: bad credentials, inactive/unknown account, dead session
	KindForbidden   Kind = "forbidden"    // 403: authenticated but not allowed
	KindNotFound    Kind = "not_found"    // 404
	KindConflict    Kind = "conflict"     // 409: e.g. duplicate registration
	KindBadRequest  Kind = "bad_request"  // 400, 422 and other 4xx
	KindRateLimited Kind = "rate_limited" // 429
	KindServer      Kind = "server"       // 5xx
	KindNetwork     Kind = "network"      // no response received
	KindInternal    Kind = "internal"     // local failure (storage, decoding)
)

// Sentinels for use with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrRateLimited  = errors.New("rate limited")
	ErrServer       = errors.New("server error")
	ErrNetwork      = errors.New("network error")
	ErrInternal     = errors.New("internal error")

	// Session specific causes, wrapped inside KindAuth errors.
	ErrNoSession        = errors.New("no active session")
	ErrNoRefreshToken   = errors.New("no refresh token")
	ErrTokenExpired     = errors.New("token expired")
	ErrAccountInactive  = errors.New("account inactive")
	ErrInvalidPrincipal = errors.New("invalid principal")
)

var kindSentinels = map[Kind]error{
	KindValidation:  ErrValidation,
	KindAuth:        ErrUnauthorized,
	KindForbidden:   ErrForbidden,
	KindNotFound:    ErrNotFound,
	KindConflict:    ErrConflict,
	KindBadRequest:  ErrBadRequest,
	KindRateLimited: ErrRateLimited,
	KindServer:      ErrServer,
	KindNetwork:     ErrNetwork,
	KindInternal:    ErrInternal,
}

// Error is the single result error returned by session and pipeline operations.
type Error struct {
	Kind    Kind
	Status  int               // HTTP status, zero when no response was received
	Message string            // human readable, safe to show to the user
	Fields  map[string]string // per-field problems for validation errors
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation builds a validation error with per-field messages.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Network wraps a transport failure.
func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "network unavailable", Err: cause}
}

// Internal wraps a local failure.
func Internal(cause error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindForStatus maps an HTTP status to its error kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindBadRequest
	}
}

// FromStatus builds the error for a non-2xx response.
func FromStatus(status int, message string) *Error {
	return &Error{Kind: KindForStatus(status), Status: status, Message: message}
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
