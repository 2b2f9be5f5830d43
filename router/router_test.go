package router_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/citycard-gateway/events"
	"github.com/jrsteele09/citycard-gateway/guard"
	"github.com/jrsteele09/citycard-gateway/internal/metrics"
	"github.com/jrsteele09/citycard-gateway/router"
	"github.com/jrsteele09/citycard-gateway/users"
)

type fakeSession struct {
	loggedIn   atomic.Bool
	admin      atomic.Bool
	verified   atomic.Bool
	fetches    atomic.Int32
	fetchError error
}

func (f *fakeSession) IsLoggedIn() bool { return f.loggedIn.Load() }
func (f *fakeSession) IsAdmin() bool    { return f.loggedIn.Load() && f.admin.Load() }
func (f *fakeSession) Verified() bool   { return f.verified.Load() }

func (f *fakeSession) FetchPrincipal(context.Context) (*users.User, error) {
	f.fetches.Add(1)
	if f.fetchError != nil {
		f.loggedIn.Store(false)
		return nil, f.fetchError
	}
	f.verified.Store(true)
	return &users.User{ID: "u-1"}, nil
}

func newNavigator(t *testing.T, sess *fakeSession, opts ...router.Option) (*router.Navigator, *metrics.Metrics) {
	t.Helper()
	table, err := router.NewTable(router.DefaultRoutes())
	require.NoError(t, err)
	mt := metrics.New(prometheus.NewRegistry())
	opts = append([]router.Option{
		router.WithAppName("市民卡"),
		router.WithMetrics(mt),
		router.WithLogger(zerolog.Nop()),
	}, opts...)
	nav, err := router.NewNavigator(table, sess, opts...)
	require.NoError(t, err)
	return nav, mt
}

func loggedIn(admin bool) *fakeSession {
	s := &fakeSession{}
	s.loggedIn.Store(true)
	s.verified.Store(true)
	s.admin.Store(admin)
	return s
}

func TestResolve(t *testing.T) {
	table, err := router.NewTable(router.DefaultRoutes())
	require.NoError(t, err)

	loc, ok := table.Resolve("/booking/42?seat=A1")
	require.True(t, ok)
	require.Equal(t, "booking", loc.Name)
	require.Equal(t, "42", loc.Params["scheduleId"])
	require.Equal(t, "/booking/42?seat=A1", loc.FullPath)
	require.Equal(t, "A1", loc.Query.Get("seat"))
	require.True(t, loc.Meta.RequiresAuth)

	loc, ok = table.Resolve("/admin/users/")
	require.True(t, ok)
	require.Equal(t, "admin-users", loc.Name)
	require.True(t, loc.Meta.RequiresAdmin)
	require.Equal(t, guard.LayoutAdmin, loc.Meta.Layout)

	loc, ok = table.Resolve("/movies")
	require.True(t, ok)
	require.Equal(t, "movies", loc.Name)

	loc, ok = table.Resolve("/no/such/page")
	require.True(t, ok)
	require.Equal(t, "not-found", loc.Name)
	require.Equal(t, "no/such/page", loc.Params["pathMatch"])
}

func TestNewTableRejectsDuplicateNames(t *testing.T) {
	_, err := router.NewTable([]router.Route{{Path: "/a", Name: "x"}, {Path: "/b", Name: "x"}})
	require.Error(t, err)
}

func TestNavigationScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("logged in visits profile", func(t *testing.T) {
		nav, mt := newNavigator(t, loggedIn(false))
		res, err := nav.Push(ctx, "/profile")
		require.NoError(t, err)
		require.Equal(t, "profile", res.Location.Name)
		require.False(t, res.Redirected)
		require.Equal(t, "個人資料 | 市民卡", nav.Title())
		require.Equal(t, guard.LayoutDefault, nav.Layout())
		require.Equal(t, 1.0, testutil.ToFloat64(mt.GuardDecisionsTotal.WithLabelValues("allowed")))
	})

	t.Run("anonymous visits profile", func(t *testing.T) {
		nav, _ := newNavigator(t, &fakeSession{})
		res, err := nav.Push(ctx, "/profile")
		require.NoError(t, err)
		require.True(t, res.Redirected)
		require.Equal(t, "login", res.Location.Name)
		require.Equal(t, "/profile", res.Location.Query.Get("redirect"))
		require.Equal(t, "/profile", nav.ReturnTarget())
		require.Equal(t, guard.LayoutBlank, res.Layout)
	})

	t.Run("member visits admin", func(t *testing.T) {
		nav, mt := newNavigator(t, loggedIn(false))
		res, err := nav.Push(ctx, "/admin")
		require.NoError(t, err)
		require.Equal(t, router.ForbiddenPath, res.Location.Path)
		require.Equal(t, 1.0, testutil.ToFloat64(mt.GuardDecisionsTotal.WithLabelValues("redirect_forbidden")))
	})

	t.Run("admin visits admin", func(t *testing.T) {
		nav, _ := newNavigator(t, loggedIn(true))
		res, err := nav.Push(ctx, "/admin/stores")
		require.NoError(t, err)
		require.Equal(t, "admin-stores", res.Location.Name)
		require.Equal(t, guard.LayoutAdmin, res.Layout)
	})

	t.Run("logged in visits login", func(t *testing.T) {
		nav, _ := newNavigator(t, loggedIn(false))
		res, err := nav.Push(ctx, "/login")
		require.NoError(t, err)
		require.Equal(t, "home", res.Location.Name)
		require.Equal(t, "首頁 | 市民卡", res.Title)
	})
}

func TestPrincipalConfirmedOnlyForProtectedRoutes(t *testing.T) {
	ctx := context.Background()
	sess := loggedIn(false)
	sess.verified.Store(false)
	nav, _ := newNavigator(t, sess)

	_, err := nav.Push(ctx, "/movies")
	require.NoError(t, err)
	require.Zero(t, sess.fetches.Load())

	_, err = nav.Push(ctx, "/wallet")
	require.NoError(t, err)
	require.Equal(t, int32(1), sess.fetches.Load())

	_, err = nav.Push(ctx, "/profile")
	require.NoError(t, err)
	require.Equal(t, int32(1), sess.fetches.Load())
}

func TestRejectedPrincipalRedirectsToLogin(t *testing.T) {
	sess := loggedIn(false)
	sess.verified.Store(false)
	sess.fetchError = errors.New("token revoked")
	nav, _ := newNavigator(t, sess)

	res, err := nav.Push(context.Background(), "/wallet")
	require.NoError(t, err)
	require.Equal(t, "login", res.Location.Name)
	require.Equal(t, "/wallet", res.Location.Query.Get("redirect"))
}

func TestRedirectLoopIsBounded(t *testing.T) {
	table, err := router.NewTable([]router.Route{
		{Path: "/gate", Name: "gate", Meta: guard.Meta{RequiresAuth: true}},
	})
	require.NoError(t, err)
	nav, err := router.NewNavigator(table, &fakeSession{},
		router.WithLoginPath("/gate"), router.WithMaxRedirects(3), router.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = nav.Push(context.Background(), "/gate")
	require.ErrorIs(t, err, router.ErrRedirectLoop)
	require.False(t, nav.Loading())
	require.Nil(t, nav.Current())
}

func TestMalformedRouteFailsSafe(t *testing.T) {
	broken := router.Route{Path: "/broken", Name: "broken", Meta: guard.Meta{GuestOnly: true, RequiresAuth: true}}
	routes := append([]router.Route{broken}, router.DefaultRoutes()...)
	table, err := router.NewTable(routes)
	require.NoError(t, err)
	nav, err := router.NewNavigator(table, loggedIn(false), router.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	res, err := nav.Push(context.Background(), "/broken")
	require.NoError(t, err)
	require.Equal(t, router.ErrorPath, res.Location.Path)
}

func TestHooksAndScroll(t *testing.T) {
	ctx := context.Background()
	nav, _ := newNavigator(t, loggedIn(false))

	var afterCalls []string
	nav.AfterEach(func(to, from *router.Location) {
		require.False(t, nav.Loading())
		afterCalls = append(afterCalls, to.Path)
	})
	nav.BeforeEach(func(_ context.Context, to, _ *router.Location) error {
		if to.Name == "stores" {
			return errors.New("stores are closed")
		}
		return nil
	})

	_, err := nav.Push(ctx, "/movies")
	require.NoError(t, err)
	nav.SaveScroll(480)

	res, err := nav.Push(ctx, "/movies/7")
	require.NoError(t, err)
	require.Zero(t, res.ScrollY)
	require.Equal(t, "7", res.Location.Params["id"])

	res, err = nav.Back(ctx)
	require.NoError(t, err)
	require.Equal(t, "/movies", res.Location.Path)
	require.Equal(t, 480, res.ScrollY)

	res, err = nav.Forward(ctx)
	require.NoError(t, err)
	require.Equal(t, "/movies/7", res.Location.Path)

	_, err = nav.Forward(ctx)
	require.ErrorIs(t, err, router.ErrNoHistory)

	_, err = nav.Push(ctx, "/stores")
	require.Error(t, err)
	require.Equal(t, "/movies/7", nav.Current().Path)
	require.False(t, nav.Loading())

	require.Equal(t, []string{"/movies", "/movies/7", "/movies", "/movies/7"}, afterCalls)
}

func TestFollowsPipelineEvents(t *testing.T) {
	ctx := context.Background()
	sess := loggedIn(false)
	nav, _ := newNavigator(t, sess)
	bus := events.NewBus()
	unsubscribe := nav.Attach(bus)
	defer unsubscribe()

	_, err := nav.Push(ctx, "/wallet?tab=history")
	require.NoError(t, err)

	bus.Publish(events.Forbidden{Path: "/wallet"})
	require.Equal(t, router.ForbiddenPath, nav.Current().Path)

	bus.Publish(events.ServerError{Status: 502})
	require.Equal(t, router.ErrorPath, nav.Current().Path)

	bus.Publish(events.NotFound{})
	require.Equal(t, router.NotFoundPath, nav.Current().Path)

	sess.loggedIn.Store(false)
	bus.Publish(events.SessionInvalidated{Reason: "unauthorized", ReturnTo: "/wallet?tab=history"})
	cur := nav.Current()
	require.Equal(t, "login", cur.Name)
	require.Equal(t, "/wallet?tab=history", cur.Query.Get("redirect"))
	require.Equal(t, "/wallet?tab=history", nav.ReturnTarget())
}

func TestReturnTargetIgnoresForeignRedirects(t *testing.T) {
	nav, _ := newNavigator(t, &fakeSession{})
	_, err := nav.Push(context.Background(), "/login?redirect=//evil.example")
	require.NoError(t, err)
	require.Equal(t, "/", nav.ReturnTarget())
}
