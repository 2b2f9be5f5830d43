package session

import (
	"context"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/storage"
)

// Restore loads the persisted session at start up.
//
// An inconsistent record (token without principal or the reverse) is
// removed. An expired token is refreshed when a refresh token is stored and
// cleared otherwise. The principal is then re-fetched: a network failure keeps
// the cached principal, an auth failure clears the session.
func (m *Manager) Restore(ctx context.Context) error {
	values, err := m.store.Load(ctx, storage.KeyToken, storage.KeyRefreshToken, storage.KeyUser)
	if err != nil {
		return apperrors.Internal(err, "load session")
	}

	restored, ok := decodeStored(values)
	if !ok {
		if len(values) > 0 {
			m.logger.Warn().Int("keys", len(values)).Msg("dropping inconsistent persisted session")
			return m.clear(ctx, ReasonInconsistent)
		}
		return nil
	}

	m.writeMu.Lock()
	m.mu.Lock()
	m.current = restored
	m.generation++
	m.verified = false
	m.mu.Unlock()
	m.writeMu.Unlock()

	if IsExpired(restored.AccessToken) {
		if restored.RefreshToken == "" {
			m.logger.Info().Msg("persisted access token expired and cannot be renewed")
			return m.clear(ctx, ReasonExpired)
		}
		if _, err := m.Refresh(ctx); err != nil {
			m.logger.Info().Err(err).Msg("could not renew persisted session")
			return nil
		}
	}

	if _, err := m.FetchPrincipal(ctx); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNetwork, apperrors.KindServer:
			m.logger.Warn().Err(err).Msg("backend unreachable, keeping cached principal")
		case apperrors.KindAuth:
			return m.clear(ctx, ReasonUnauthorized)
		default:
			m.logger.Warn().Err(err).Msg("profile reload failed")
		}
	}
	return nil
}
