package token_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/citycard-gateway/token"
)

func TestRevocationList(t *testing.T) {
	l := token.NewRevocationList()
	require.NoError(t, l.Add("live", time.Now().Add(time.Hour)))
	require.NoError(t, l.Add("stale", time.Now().Add(-time.Hour)))
	require.ErrorIs(t, l.Add("", time.Now().Add(time.Hour)), token.ErrMissingTokenID)

	require.True(t, l.IsRevoked("live"))
	require.False(t, l.IsRevoked("stale"))
	require.False(t, l.IsRevoked("unknown"))
	require.Equal(t, 1, l.Len(), "already expired tokens are not remembered")
}

func TestRevocationListPurge(t *testing.T) {
	now := time.Now()
	token.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { token.NowTimeFunc = time.Now })

	l := token.NewRevocationList()
	require.NoError(t, l.Add("short", now.Add(time.Minute)))
	require.NoError(t, l.Add("long", now.Add(time.Hour)))

	now = now.Add(2 * time.Minute)
	require.False(t, l.IsRevoked("short"))
	require.Equal(t, 1, l.Purge())
	require.Equal(t, 1, l.Len())
	require.True(t, l.IsRevoked("long"))
}

func TestRevocationListSweepsOnGrowth(t *testing.T) {
	now := time.Now()
	token.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { token.NowTimeFunc = time.Now })

	l := token.NewRevocationList()
	for i := range 1024 {
		require.NoError(t, l.Add(fmt.Sprintf("old-%d", i), now.Add(time.Second)))
	}
	now = now.Add(time.Minute)
	require.NoError(t, l.Add("new", now.Add(time.Hour)))
	require.Equal(t, 1, l.Len())
}
