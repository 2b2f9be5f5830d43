package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/citycard-gateway/events"
	"github.com/jrsteele09/citycard-gateway/guard"
	"github.com/jrsteele09/citycard-gateway/internal/metrics"
	"github.com/jrsteele09/citycard-gateway/users"
)

const (
	DefaultLoginPath    = "/login"
	DefaultHomePath     = "/"
	DefaultMaxRedirects = 5
)

var (
	ErrNoRoute      = errors.New("no route matches location")
	ErrCancelled    = errors.New("navigation superseded by a newer one")
	ErrNoHistory    = errors.New("no history entry in that direction")
	ErrRedirectLoop = errors.New("too many redirects")
)

// Session is the navigator's view of the session.
type Session interface {
	guard.Facts
	Verified() bool
	FetchPrincipal(ctx context.Context) (*users.User, error)
}

// BeforeHook runs once the guard allowed a navigation; an error aborts it.
type BeforeHook func(ctx context.Context, to, from *Location) error

// AfterHook runs after a navigation was committed.
type AfterHook func(to, from *Location)

// Result describes a committed navigation for the shell to render.
type Result struct {
	Location   *Location
	Title      string
	Layout     string
	ScrollY    int
	Redirected bool
}

type mode int

const (
	modePush mode = iota
	modeReplace
	modeBack
	modeForward
)

type Navigator struct {
	table        *Table
	session      Session
	appName      string
	loginPath    string
	homePath     string
	maxRedirects int
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	mu        sync.Mutex
	seq       uint64
	pending   string
	current   *Location
	title     string
	layout    string
	loading   bool
	scrollY   int
	history   []string
	index     int
	positions map[string]int
	before    []BeforeHook
	after     []AfterHook
}

type Option func(*Navigator)

func WithAppName(name string) Option {
	return func(n *Navigator) { n.appName = name }
}

func WithLoginPath(p string) Option {
	return func(n *Navigator) {
		if p != "" {
			n.loginPath = p
		}
	}
}

func WithHomePath(p string) Option {
	return func(n *Navigator) {
		if p != "" {
			n.homePath = p
		}
	}
}

func WithMaxRedirects(max int) Option {
	return func(n *Navigator) {
		if max > 0 {
			n.maxRedirects = max
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Navigator) { n.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Navigator) { n.logger = l }
}

func NewNavigator(table *Table, sess Session, opts ...Option) (*Navigator, error) {
	if table == nil || sess == nil {
		return nil, errors.New("[router.NewNavigator] table and session are required")
	}
	n := &Navigator{
		table:        table,
		session:      sess,
		loginPath:    DefaultLoginPath,
		homePath:     DefaultHomePath,
		maxRedirects: DefaultMaxRedirects,
		logger:       log.Logger,
		index:        -1,
		positions:    map[string]int{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *Navigator) BeforeEach(h BeforeHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.before = append(n.before, h)
}

func (n *Navigator) AfterEach(h AfterHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.after = append(n.after, h)
}

// Attach routes pipeline events to navigations.
func (n *Navigator) Attach(bus *events.Bus) (unsubscribe func()) {
	return bus.Subscribe(n.handle,
		events.TypeSessionInvalidated, events.TypeForbidden, events.TypeNotFound, events.TypeServerError)
}

func (n *Navigator) handle(e events.Event) {
	var target string
	switch ev := e.(type) {
	case events.SessionInvalidated:
		returnTo := ev.ReturnTo
		if returnTo == "" {
			returnTo = n.Location()
		}
		target = guard.LoginLocation(n.loginPath, returnTo)
	case events.Forbidden:
		target = ForbiddenPath
	case events.NotFound:
		target = NotFoundPath
	case events.ServerError:
		target = ErrorPath
	default:
		return
	}
	if _, err := n.Push(context.Background(), target); err != nil && !errors.Is(err, ErrCancelled) {
		n.logger.Error().Err(err).Str("target", target).Msg("event navigation failed")
	}
}

// Push navigates to target and adds it to the history.
func (n *Navigator) Push(ctx context.Context, target string) (*Result, error) {
	return n.navigate(ctx, target, modePush)
}

// Replace navigates to target in place of the current history entry.
func (n *Navigator) Replace(ctx context.Context, target string) (*Result, error) {
	return n.navigate(ctx, target, modeReplace)
}

func (n *Navigator) Back(ctx context.Context) (*Result, error) {
	n.mu.Lock()
	if n.index <= 0 {
		n.mu.Unlock()
		return nil, ErrNoHistory
	}
	target := n.history[n.index-1]
	n.mu.Unlock()
	return n.navigate(ctx, target, modeBack)
}

func (n *Navigator) Forward(ctx context.Context) (*Result, error) {
	n.mu.Lock()
	if n.index+1 >= len(n.history) {
		n.mu.Unlock()
		return nil, ErrNoHistory
	}
	target := n.history[n.index+1]
	n.mu.Unlock()
	return n.navigate(ctx, target, modeForward)
}

// SaveScroll remembers the scroll offset of the current location, restored
// when the user comes back to it through Back or Forward.
func (n *Navigator) SaveScroll(y int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current != nil {
		n.positions[n.current.FullPath] = y
	}
}

func (n *Navigator) navigate(ctx context.Context, target string, m mode) (*Result, error) {
	n.mu.Lock()
	n.seq++
	seq := n.seq
	from := n.current
	n.loading = true
	n.pending = target
	n.mu.Unlock()

	loc, redirected, err := n.decide(ctx, target)
	if err == nil {
		err = n.runBefore(ctx, loc, from)
	}
	if err != nil {
		n.finish(seq)
		return nil, err
	}
	if redirected && m != modeReplace {
		m = modePush
	}
	return n.commit(seq, loc, from, m, redirected)
}

// decide runs the guard, following redirects until a location is allowed.
func (n *Navigator) decide(ctx context.Context, target string) (*Location, bool, error) {
	redirected := false
	for hops := 0; ; hops++ {
		if hops > n.maxRedirects {
			return nil, redirected, fmt.Errorf("%w: last target %q", ErrRedirectLoop, target)
		}
		loc, ok := n.table.Resolve(target)
		if !ok {
			return nil, redirected, fmt.Errorf("%w: %q", ErrNoRoute, target)
		}

		protected := loc.Meta.RequiresAuth || loc.Meta.RequiresAdmin
		if protected && n.session.IsLoggedIn() && !n.session.Verified() {
			if _, err := n.session.FetchPrincipal(ctx); err != nil {
				n.logger.Warn().Err(err).Str("target", loc.Path).Msg("could not confirm principal before navigation")
			}
		}

		d := guard.Evaluate(loc.Meta, loc.FullPath, n.session)
		n.metrics.GuardDecision(string(d.Outcome))

		var next string
		switch d.Outcome {
		case guard.Allowed:
			return loc, redirected, nil
		case guard.RedirectLogin:
			next = guard.LoginLocation(n.loginPath, d.Redirect)
		case guard.RedirectHome:
			next = n.homePath
		case guard.RedirectForbidden:
			next = ForbiddenPath
		case guard.RedirectError:
			n.logger.Error().Err(d.Err).Str("target", loc.Path).Msg("route guard failed")
			next = ErrorPath
		}
		n.logger.Debug().Str("from", target).Str("to", next).Str("outcome", string(d.Outcome)).Msg("navigation redirected")
		target = next
		redirected = true
	}
}

func (n *Navigator) runBefore(ctx context.Context, to, from *Location) error {
	n.mu.Lock()
	hooks := append([]BeforeHook(nil), n.before...)
	n.mu.Unlock()
	for _, h := range hooks {
		if err := h(ctx, to, from); err != nil {
			return fmt.Errorf("navigation to %q aborted: %w", to.FullPath, err)
		}
	}
	return nil
}

func (n *Navigator) commit(seq uint64, to, from *Location, m mode, redirected bool) (*Result, error) {
	n.mu.Lock()
	if seq != n.seq {
		n.mu.Unlock()
		return nil, ErrCancelled
	}

	switch {
	case m == modeBack && n.index > 0 && n.history[n.index-1] == to.FullPath:
		n.index--
	case m == modeForward && n.index+1 < len(n.history) && n.history[n.index+1] == to.FullPath:
		n.index++
	case m == modeReplace && n.index >= 0:
		n.history[n.index] = to.FullPath
	default:
		m = modePush
		n.history = append(n.history[:n.index+1], to.FullPath)
		n.index = len(n.history) - 1
	}

	scroll := 0
	if m == modeBack || m == modeForward {
		scroll = n.positions[to.FullPath]
	}

	n.current = to
	n.title = n.titleFor(to)
	n.layout = to.Meta.Layout
	if n.layout == "" {
		n.layout = guard.LayoutDefault
	}
	n.scrollY = scroll
	n.loading = false
	n.pending = ""
	res := &Result{Location: to, Title: n.title, Layout: n.layout, ScrollY: scroll, Redirected: redirected}
	hooks := append([]AfterHook(nil), n.after...)
	n.mu.Unlock()

	for _, h := range hooks {
		h(to, from)
	}
	n.logger.Debug().Str("path", to.FullPath).Str("layout", res.Layout).Msg("navigated")
	return res, nil
}

func (n *Navigator) finish(seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if seq == n.seq {
		n.loading = false
		n.pending = ""
	}
}

func (n *Navigator) titleFor(loc *Location) string {
	switch {
	case loc.Meta.Title == "":
		return n.appName
	case n.appName == "":
		return loc.Meta.Title
	default:
		return loc.Meta.Title + " | " + n.appName
	}
}

// Location is where the user is, or is heading while a navigation is being
// evaluated. The pipeline reports it as the place to return to after login.
func (n *Navigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending != "" {
		return n.pending
	}
	if n.current == nil {
		return ""
	}
	return n.current.FullPath
}

func (n *Navigator) Current() *Location {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return nil
	}
	cp := *n.current
	return &cp
}

func (n *Navigator) Title() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.title
}

func (n *Navigator) Layout() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.layout
}

func (n *Navigator) Loading() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loading
}

func (n *Navigator) ScrollY() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scrollY
}

// ReturnTarget is where to go after a successful login: the redirect query
// of the current login location when it is a local path, else home.
func (n *Navigator) ReturnTarget() string {
	cur := n.Current()
	if cur == nil {
		return n.homePath
	}
	redirect := cur.Query.Get("redirect")
	if !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") {
		return n.homePath
	}
	return redirect
}
