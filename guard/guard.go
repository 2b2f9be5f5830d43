// Package guard decides whether a navigation may proceed, given the target
// route's access requirements and the current session.
package guard

import (
	"errors"
	"fmt"
	"net/url"
)

type Outcome string

const (
	Allowed           Outcome = "allowed"
	RedirectLogin     Outcome = "redirect_login"
	RedirectHome      Outcome = "redirect_home"
	RedirectForbidden Outcome = "redirect_forbidden"
	RedirectError     Outcome = "redirect_error"
)

// Outcomes lists every decision Evaluate can produce.
var Outcomes = []Outcome{Allowed, RedirectLogin, RedirectHome, RedirectForbidden, RedirectError}

// Layouts a route may declare. The empty string means LayoutDefault.
const (
	LayoutDefault = "default"
	LayoutAdmin   = "admin"
	LayoutBlank   = "blank"
)

var ErrMalformedRoute = errors.New("malformed route metadata")

// Meta is the access contract a route declares.
type Meta struct {
	RequiresAuth  bool   `json:"requiresAuth,omitempty"`
	RequiresAdmin bool   `json:"requiresAdmin,omitempty"`
	GuestOnly     bool   `json:"requiresGuest,omitempty"`
	Title         string `json:"title,omitempty"`
	Layout        string `json:"layout,omitempty"`
}

// Validate rejects contradictory requirements and unknown layouts.
func (m Meta) Validate() error {
	if m.GuestOnly && (m.RequiresAuth || m.RequiresAdmin) {
		return fmt.Errorf("%w: guest-only route cannot also require authentication", ErrMalformedRoute)
	}
	switch m.Layout {
	case "", LayoutDefault, LayoutAdmin, LayoutBlank:
	default:
		return fmt.Errorf("%w: unknown layout %q", ErrMalformedRoute, m.Layout)
	}
	return nil
}

// Facts is what the guard reads from the session.
type Facts interface {
	IsLoggedIn() bool
	IsAdmin() bool
}

// Decision is the result of one evaluation. Redirect is set for
// RedirectLogin and carries the original target.
type Decision struct {
	Outcome  Outcome
	Redirect string
	Err      error
}

// Evaluate applies the decision procedure to a navigation towards target.
// It never panics: a malformed route or a failing Facts yields RedirectError.
func Evaluate(meta Meta, target string, facts Facts) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{Outcome: RedirectError, Err: fmt.Errorf("guard evaluation panicked: %v", r)}
		}
	}()

	if err := meta.Validate(); err != nil {
		return Decision{Outcome: RedirectError, Err: err}
	}

	requiresAuth := meta.RequiresAuth || meta.RequiresAdmin
	loggedIn := facts.IsLoggedIn()

	switch {
	case requiresAuth && !loggedIn:
		return Decision{Outcome: RedirectLogin, Redirect: target}
	case meta.RequiresAdmin && !facts.IsAdmin():
		return Decision{Outcome: RedirectForbidden}
	case meta.GuestOnly && loggedIn:
		return Decision{Outcome: RedirectHome}
	default:
		return Decision{Outcome: Allowed}
	}
}

// LoginLocation builds the login URL that returns the user to redirect.
func LoginLocation(loginPath, redirect string) string {
	if redirect == "" || redirect == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"redirect": {redirect}}.Encode()
}
