package token_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/citycard-gateway/token"
)

func newRedisList(t *testing.T) (*token.RedisRevocationList, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return token.NewRedisRevocationList(client, "revoked"), mr
}

func TestRedisRevocationList(t *testing.T) {
	l, mr := newRedisList(t)

	require.NoError(t, l.Add("jti-1", time.Now().Add(2*time.Minute)))
	require.True(t, l.IsRevoked("jti-1"))
	require.False(t, l.IsRevoked("jti-2"))
	require.False(t, l.IsRevoked(""))

	ttl := mr.TTL("revoked:jti-1")
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, 2*time.Minute)

	mr.FastForward(3 * time.Minute)
	require.False(t, l.IsRevoked("jti-1"))

	require.NoError(t, l.Add("old", time.Now().Add(-time.Minute)))
	require.False(t, mr.Exists("revoked:old"))
	require.ErrorIs(t, l.Add(" ", time.Now().Add(time.Minute)), token.ErrMissingTokenID)
}

func TestRedisRevocationListFailsClosed(t *testing.T) {
	l, mr := newRedisList(t)
	mr.SetError("ERR injected failure")
	require.True(t, l.IsRevoked("anything"))
}
