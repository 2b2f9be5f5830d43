package refresh_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/citycard-gateway/token/refresh"
	refreshrepofake "github.com/jrsteele09/citycard-gateway/token/refresh/repofake"
	"github.com/stretchr/testify/require"
)

type testConfig struct{}

func (testConfig) GetRefreshTokenLength() int           { return 32 }
func (testConfig) GetRefreshTokenExpiry() time.Duration { return time.Hour }

func TestManager_CreateAndRotate(t *testing.T) {
	m := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), testConfig{})

	first, err := m.Create("u-1")
	require.NoError(t, err)
	require.Len(t, first, 64)

	userID, second, err := m.Rotate(first)
	require.NoError(t, err)
	require.Equal(t, "u-1", userID)
	require.NotEqual(t, first, second)

	_, _, err = m.Rotate(first)
	require.ErrorIs(t, err, refresh.ErrUnknownToken)

	require.NoError(t, m.RevokeUser("u-1"))
	_, _, err = m.Rotate(second)
	require.ErrorIs(t, err, refresh.ErrUnknownToken)
}

func TestManager_Expiry(t *testing.T) {
	m := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), testConfig{})
	tok, err := m.Create("u-1")
	require.NoError(t, err)

	refresh.NowTimeFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	defer func() { refresh.NowTimeFunc = time.Now }()

	_, _, err = m.Rotate(tok)
	require.ErrorIs(t, err, refresh.ErrExpiredToken)
}
