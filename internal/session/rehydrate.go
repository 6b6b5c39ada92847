package session

import (
	"context"
	"errors"

	"github.com/atendo/atendo/internal/storage"
)

// Rehydrate restores the persisted session and validates it. It runs once;
// later calls return immediately. Any inconsistency ends the session quietly.
// HasHydrated is set once it returns, whatever the outcome.
func (m *Manager) Rehydrate(ctx context.Context) {
	m.hydrateOnce.Do(func() {
		result := m.rehydrate(ctx)
		m.metrics.RehydrationsTotal.Add(ctx, 1, outcome(result))
		m.logger().Debug().Str("outcome", result).Msg("session rehydrated")

		m.mu.Lock()
		m.hydrated = true
		m.mu.Unlock()
		close(m.hydratedCh)

		m.notify()
	})
}

func (m *Manager) rehydrate(ctx context.Context) string {
	ps, err := m.loadSnapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return "empty"
	}
	if err != nil {
		m.logger().Warn().Err(err).Msg("persisted session unreadable, ending session")
		m.Logout(ctx)
		return "corrupt"
	}

	if ps.AccessToken == "" {
		if ps.User != nil || ps.RefreshToken != "" {
			m.Logout(ctx)
		}
		return "empty"
	}

	m.mu.Lock()
	m.user = ps.User.Clone()
	m.accessToken = ps.AccessToken
	m.refreshToken = ps.RefreshToken
	m.recomputeLocked()
	m.mu.Unlock()

	claims, err := m.cfg.Decoder(ps.AccessToken)
	if err != nil {
		m.logger().Warn().Err(err).Msg("persisted access token undecodable, ending session")
		m.Logout(ctx)
		return "invalid"
	}

	if claims.Expired(m.cfg.Clock.Now()) {
		if ps.RefreshToken == "" {
			m.Logout(ctx)
			return "expired"
		}
		if !m.RefreshAccessToken(ctx) {
			m.Logout(ctx)
			return "refresh_failed"
		}

		// a refreshed session is only kept when it still has a user
		m.mu.Lock()
		missingUser := m.user == nil
		m.mu.Unlock()
		if missingUser {
			m.Logout(ctx)
			return "inconsistent"
		}
		return "refreshed"
	}

	if ps.RefreshToken == "" || ps.User == nil {
		m.Logout(ctx)
		return "inconsistent"
	}

	m.mu.Lock()
	m.establishLocked(ps.User, ps.AccessToken, ps.RefreshToken, claims)
	m.mu.Unlock()

	return "restored"
}
