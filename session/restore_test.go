package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/session"
	"github.com/jrsteele09/citycard-gateway/storage"
	"github.com/jrsteele09/citycard-gateway/storage/memstore"
	"github.com/jrsteele09/citycard-gateway/users"
)

func seed(t *testing.T, values map[string]string) *memstore.Store {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.Apply(context.Background(), storage.Batch{Set: values}))
	return store
}

func userJSON(t *testing.T, u *users.User) string {
	t.Helper()
	raw, err := json.Marshal(u)
	require.NoError(t, err)
	return string(raw)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty storage", func(t *testing.T) {
		f := newFixtureWithStore(t, &fakeAPI{}, memstore.New())
		require.NoError(t, f.manager.Restore(ctx))
		require.Nil(t, f.manager.Current())
	})

	t.Run("token without principal is dropped", func(t *testing.T) {
		store := seed(t, map[string]string{storage.KeyToken: makeToken(t, time.Hour), storage.KeyWallet: "{}"})
		f := newFixtureWithStore(t, &fakeAPI{}, store)

		require.NoError(t, f.manager.Restore(ctx))
		require.Nil(t, f.manager.Current())
		require.Empty(t, f.stored(t))
	})

	t.Run("valid session is verified with the backend", func(t *testing.T) {
		store := seed(t, map[string]string{
			storage.KeyToken: makeToken(t, time.Hour),
			storage.KeyUser:  userJSON(t, member()),
		})
		f := newFixtureWithStore(t, &fakeAPI{}, store)
		f.api.profile = func() (*users.User, error) {
			u := member()
			u.Name = "Fresh"
			return u, nil
		}

		require.NoError(t, f.manager.Restore(ctx))
		require.True(t, f.manager.IsLoggedIn())
		require.True(t, f.manager.Verified())
		require.Equal(t, "Fresh", f.manager.CurrentUser().Name)
	})

	t.Run("expired without refresh token is cleared", func(t *testing.T) {
		store := seed(t, map[string]string{
			storage.KeyToken: makeToken(t, -time.Minute),
			storage.KeyUser:  userJSON(t, member()),
		})
		f := newFixtureWithStore(t, &fakeAPI{}, store)

		require.NoError(t, f.manager.Restore(ctx))
		require.Nil(t, f.manager.Current())
		require.Empty(t, f.stored(t))
	})

	t.Run("expired with refresh token is renewed", func(t *testing.T) {
		fresh := makeToken(t, time.Hour)
		store := seed(t, map[string]string{
			storage.KeyToken:        makeToken(t, -time.Minute),
			storage.KeyRefreshToken: "refresh-1",
			storage.KeyUser:         userJSON(t, member()),
		})
		f := newFixtureWithStore(t, &fakeAPI{refresh: func(rt string) (*session.Tokens, error) {
			if rt != "refresh-1" {
				return nil, apperrors.FromStatus(401, "unknown refresh token")
			}
			return &session.Tokens{AccessToken: fresh, RefreshToken: "refresh-2"}, nil
		}}, store)

		require.NoError(t, f.manager.Restore(ctx))
		require.True(t, f.manager.IsLoggedIn())
		require.Equal(t, fresh, f.stored(t)[storage.KeyToken])
	})

	t.Run("network failure keeps cached principal", func(t *testing.T) {
		store := seed(t, map[string]string{
			storage.KeyToken: makeToken(t, time.Hour),
			storage.KeyUser:  userJSON(t, member()),
		})
		f := newFixtureWithStore(t, &fakeAPI{}, store)
		f.api.profile = func() (*users.User, error) {
			return nil, apperrors.Network(errors.New("dial tcp: connection refused"))
		}

		require.NoError(t, f.manager.Restore(ctx))
		require.True(t, f.manager.IsLoggedIn())
		require.False(t, f.manager.Verified())
	})

	t.Run("auth failure clears", func(t *testing.T) {
		store := seed(t, map[string]string{
			storage.KeyToken: makeToken(t, time.Hour),
			storage.KeyUser:  userJSON(t, member()),
		})
		f := newFixtureWithStore(t, &fakeAPI{}, store)
		f.api.profile = func() (*users.User, error) {
			return nil, apperrors.FromStatus(401, "token revoked")
		}

		require.NoError(t, f.manager.Restore(ctx))
		require.Nil(t, f.manager.Current())
		require.Empty(t, f.stored(t))
	})
}
