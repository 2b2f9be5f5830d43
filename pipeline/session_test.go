package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/citycard-gateway/authapi"
	"github.com/jrsteele09/citycard-gateway/events"
	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/pipeline"
	"github.com/jrsteele09/citycard-gateway/session"
	"github.com/jrsteele09/citycard-gateway/storage/memstore"
	"github.com/jrsteele09/citycard-gateway/token/jwt"
	"github.com/jrsteele09/citycard-gateway/users"
)

var testSigner = jwt.NewHMACSigner("pipeline-session-test-secret")

func signToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	raw, err := testSigner.Sign(&jwt.Claims{RegisteredClaims: jwtlib.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(ttl)),
		ID:        subject + time.Now().Format(time.RFC3339Nano),
	}})
	require.NoError(t, err)
	return raw
}

var accounts = map[string]map[string]any{
	"lin@citycard.tw":   {"id": "u-1", "email": "lin@citycard.tw", "name": "Lin", "role": "ROLE_USER", "active": true},
	"admin@citycard.tw": {"id": "u-2", "email": "admin@citycard.tw", "name": "Admin", "role": "ROLE_ADMIN", "active": true},
}

// backend answers login with the token handed out by tokens and delegates
// every other route to the test.
type backend struct {
	mux    *http.ServeMux
	tokens map[string]string
}

func newBackend(tokens map[string]string) *backend {
	b := &backend{mux: http.NewServeMux(), tokens: tokens}
	b.mux.HandleFunc("POST "+authapi.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"accessToken":  b.tokens[body.Email],
			"refreshToken": "refresh-" + body.Email,
			"user":         accounts[body.Email],
		}})
	})
	return b
}

type liveSession struct {
	client  *pipeline.Client
	manager *session.Manager
	events  *events.Recorder
}

func newLiveSession(t *testing.T, b *backend) *liveSession {
	t.Helper()
	srv := httptest.NewServer(b.mux)
	t.Cleanup(srv.Close)

	bus := events.NewBus()
	rec := &events.Recorder{}
	rec.Record(bus)
	pl, err := pipeline.New(srv.URL, pipeline.WithEventBus(bus), pipeline.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	mgr, err := session.NewManager(authapi.New(pl), memstore.New(), session.WithEventBus(bus), session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	pl.SetCredentialSource(mgr)
	return &liveSession{client: pl, manager: mgr, events: rec}
}

func (l *liveSession) login(t *testing.T, email string) {
	t.Helper()
	_, err := l.manager.Login(context.Background(), users.Credentials{Email: email, Password: "password1"})
	require.NoError(t, err)
}

// heldWallet blocks the first wallet request until release is closed and then
// answers it with respond.
func heldWallet(b *backend, respond http.HandlerFunc) (entered chan struct{}, release chan struct{}) {
	entered, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	b.mux.HandleFunc("GET /wallet", func(w http.ResponseWriter, r *http.Request) {
		held := false
		once.Do(func() { held = true })
		if held {
			close(entered)
			<-release
		}
		respond(w, r)
	})
	return entered, release
}

func TestRenewedTokenForReplacedSessionIsDropped(t *testing.T) {
	tokenA, tokenB := signToken(t, "u-1", time.Hour), signToken(t, "u-2", time.Hour)
	b := newBackend(map[string]string{"lin@citycard.tw": tokenA, "admin@citycard.tw": tokenB})
	entered, release := heldWallet(b, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(pipeline.HeaderRenewedToken, "renewed-token-for-lin")
		writeJSON(w, http.StatusOK, wallet{Balance: 1})
	})
	l := newLiveSession(t, b)
	ctx := context.Background()

	l.login(t, "lin@citycard.tw")
	done := make(chan error, 1)
	go func() { done <- l.client.Get(ctx, "/wallet", nil) }()
	<-entered

	l.login(t, "admin@citycard.tw")
	close(release)
	require.NoError(t, <-done)

	require.Equal(t, tokenB, l.manager.AccessToken())
	require.Equal(t, "u-2", l.manager.CurrentUser().ID)
	require.True(t, l.manager.IsAdmin())
}

func TestRenewedTokenForCurrentSessionIsInstalled(t *testing.T) {
	tokenA := signToken(t, "u-1", time.Hour)
	renewed := signToken(t, "u-1", 2*time.Hour)
	b := newBackend(map[string]string{"lin@citycard.tw": tokenA})
	b.mux.HandleFunc("GET /wallet", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(pipeline.HeaderRenewedToken, renewed)
		writeJSON(w, http.StatusOK, wallet{})
	})
	l := newLiveSession(t, b)

	l.login(t, "lin@citycard.tw")
	require.NoError(t, l.client.Get(context.Background(), "/wallet", nil))
	require.Equal(t, renewed, l.manager.AccessToken())
}

func TestLateUnauthorizedKeepsNewerSession(t *testing.T) {
	tokenA, tokenB := signToken(t, "u-1", time.Hour), signToken(t, "u-2", time.Hour)
	b := newBackend(map[string]string{"lin@citycard.tw": tokenA, "admin@citycard.tw": tokenB})
	entered, release := heldWallet(b, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token revoked"})
	})
	l := newLiveSession(t, b)
	ctx := context.Background()

	l.login(t, "lin@citycard.tw")
	done := make(chan error, 1)
	go func() { done <- l.client.Get(ctx, "/wallet", nil) }()
	<-entered

	l.login(t, "admin@citycard.tw")
	close(release)
	require.ErrorIs(t, <-done, apperrors.ErrUnauthorized)

	require.True(t, l.manager.IsLoggedIn())
	require.Equal(t, tokenB, l.manager.AccessToken())
	require.Empty(t, l.events.OfType(events.TypeSessionInvalidated))
	require.Empty(t, l.events.OfType(events.TypeNotify))

	// A 401 for the current session still clears it.
	err := l.client.Get(ctx, "/wallet", nil)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.False(t, l.manager.IsLoggedIn())
	require.Len(t, l.events.OfType(events.TypeSessionInvalidated), 1)
}

func TestConcurrentRequestsShareOneRefresh(t *testing.T) {
	expired := signToken(t, "u-1", -time.Minute)
	fresh := signToken(t, "u-1", time.Hour)
	b := newBackend(map[string]string{"lin@citycard.tw": expired})

	var refreshCalls atomic.Int32
	release := make(chan struct{})
	b.mux.HandleFunc("POST "+authapi.RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"accessToken": fresh, "refreshToken": "refresh-2"}})
	})
	var (
		mu    sync.Mutex
		auths []string
	)
	b.mux.HandleFunc("GET /wallet", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, wallet{})
	})
	l := newLiveSession(t, b)
	ctx := context.Background()
	l.login(t, "lin@citycard.tw")

	const requests = 2
	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.client.Get(ctx, "/wallet", nil)
		}(i)
	}
	require.Eventually(t, func() bool { return refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), refreshCalls.Load())
	require.Equal(t, []string{"Bearer " + fresh, "Bearer " + fresh}, auths)
	require.Equal(t, fresh, l.manager.AccessToken())
}
