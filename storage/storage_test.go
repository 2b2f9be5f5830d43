package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/citycard-gateway/storage"
	"github.com/jrsteele09/citycard-gateway/storage/filestore"
	"github.com/jrsteele09/citycard-gateway/storage/memstore"
	"github.com/jrsteele09/citycard-gateway/storage/redisstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	fs, err := filestore.New(filepath.Join(t.TempDir(), "nested", "session.json"))
	require.NoError(t, err)

	out := map[string]storage.Store{
		"memstore":  memstore.New(),
		"filestore": fs,
	}
	mr := miniredis.RunT(t)
	rs, err := redisstore.New(context.Background(), redisstore.Options{Addr: mr.Addr(), Key: "citycard:test:" + t.Name()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	out["redisstore"] = rs
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { _ = storage.Delete(ctx, s, storage.SessionKeys...) }()

			values, err := s.Load(ctx, storage.KeyToken)
			require.NoError(t, err)
			require.Empty(t, values)

			require.NoError(t, s.Apply(ctx, storage.Batch{Set: map[string]string{
				storage.KeyToken:        "access",
				storage.KeyRefreshToken: "refresh",
				storage.KeyUser:         `{"id":"1"}`,
			}}))
			require.NoError(t, storage.Set(ctx, s, storage.KeyWallet, `{"balance":100}`))

			values, err = s.Load(ctx, storage.SessionKeys...)
			require.NoError(t, err)
			require.Equal(t, "access", values[storage.KeyToken])
			require.Len(t, values, 4)

			require.NoError(t, s.Apply(ctx, storage.Batch{
				Set:    map[string]string{storage.KeyToken: "rotated"},
				Delete: []string{storage.KeyRefreshToken},
			}))
			v, ok, err := storage.Get(ctx, s, storage.KeyToken)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "rotated", v)

			_, ok, err = storage.Get(ctx, s, storage.KeyRefreshToken)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, storage.Delete(ctx, s, storage.SessionKeys...))
			values, err = s.Load(ctx, storage.SessionKeys...)
			require.NoError(t, err)
			require.Empty(t, values)

			// deleting again is a no-op
			require.NoError(t, storage.Delete(ctx, s, storage.SessionKeys...))
		})
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := filestore.New(path)
	require.NoError(t, err)
	require.NoError(t, storage.Set(ctx, first, storage.KeyToken, "abc"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := filestore.New(path)
	require.NoError(t, err)
	v, ok, err := storage.Get(ctx, second, storage.KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := filestore.New(path)
	require.NoError(t, err)
	_, err = s.Load(context.Background(), storage.KeyToken)
	require.ErrorContains(t, err, "parse session file")
}

func TestMemStore_ConcurrentApply(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Apply(ctx, storage.Batch{Set: map[string]string{storage.KeyToken: "a", storage.KeyUser: "u"}})
			_ = storage.Delete(ctx, s, storage.KeyToken, storage.KeyUser)
		}()
	}
	wg.Wait()

	values, err := s.Load(ctx, storage.KeyToken, storage.KeyUser)
	require.NoError(t, err)
	require.True(t, len(values) == 0 || len(values) == 2)

	require.NoError(t, s.Close())
	_, err = s.Load(ctx, storage.KeyToken)
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestRedisStore_SharedBetweenProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	first := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "citycard:session")
	second := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "citycard:session")
	defer func() { _ = first.Close(); _ = second.Close() }()

	require.NoError(t, storage.Set(ctx, first, storage.KeyToken, "shared"))
	require.Equal(t, "shared", mr.HGet("citycard:session", storage.KeyToken))

	v, ok, err := storage.Get(ctx, second, storage.KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "shared", v)
}
