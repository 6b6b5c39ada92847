package session

import (
	"context"
	"time"

	"github.com/atendo/atendo/internal/telemetry"
	"github.com/atendo/atendo/internal/token"
	"go.opentelemetry.io/otel/codes"
)

const refreshKey = "refresh"

// RefreshAccessToken obtains a new access token with the refresh token.
// It reports whether the session holds a valid access token afterwards.
//
// Concurrent callers share a single refresh request and its result. A caller
// arriving while a login is in flight waits for the login instead. Any failure
// of the refresh request tears the session down.
func (m *Manager) RefreshAccessToken(ctx context.Context) bool {
	m.mu.Lock()
	hasRefreshToken := m.refreshToken != ""
	m.mu.Unlock()

	if !hasRefreshToken {
		m.metrics.RefreshSkippedTotal.Add(ctx, 1, outcome("no_refresh_token"))
		return false
	}

	if m.cfg.Location != nil && IsPublicRoute(m.cfg.Location(), m.cfg.PublicRoutes) {
		m.metrics.RefreshSkippedTotal.Add(ctx, 1, outcome("public_route"))
		m.logger().Debug().Msg("refresh skipped on public route")
		return false
	}

	m.mu.Lock()
	loginDone := m.loginDone
	m.mu.Unlock()

	if loginDone != nil {
		m.metrics.RefreshCoalescedTotal.Add(ctx, 1)
		select {
		case <-loginDone:
		case <-ctx.Done():
			return false
		}
		return m.AccessToken() != ""
	}

	ch := m.refreshes.DoChan(refreshKey, func() (any, error) {
		// the shared call outlives any single caller
		return m.refresh(context.WithoutCancel(ctx)), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RefreshCoalescedTotal.Add(ctx, 1)
		}
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) refresh(ctx context.Context) bool {
	m.mu.Lock()
	refreshToken := m.refreshToken
	generation := m.generation
	if refreshToken == "" {
		m.mu.Unlock()
		return false
	}
	m.inflight++
	m.mu.Unlock()
	m.notify()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
		m.notify()
	}()

	ctx, span := telemetry.Tracer().Start(ctx, "session.refresh")
	defer span.End()

	m.metrics.RefreshTotal.Add(ctx, 1)
	started := time.Now()

	ts, err := m.cfg.Auth.Refresh(ctx, refreshToken)
	m.metrics.RefreshDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		m.logger().Warn().Err(err).Msg("refresh failed, ending session")
		m.failRefresh(ctx, generation)
		return false
	}

	claims, err := m.cfg.Decoder(ts.AccessToken)
	if err != nil {
		m.logger().Warn().Err(err).Msg("refresh returned an undecodable access token, ending session")
		m.failRefresh(ctx, generation)
		return false
	}

	m.mu.Lock()
	if m.generation != generation {
		// a login or logout replaced the session while the request was out
		valid := m.authenticated && m.accessToken != ""
		m.mu.Unlock()
		m.logger().Debug().Msg("discarding refresh result for a replaced session")
		return valid
	}

	m.accessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		m.refreshToken = ts.RefreshToken
	}
	m.recomputeLocked()
	m.persistLocked(ctx)

	now := m.cfg.Clock.Now()
	m.scheduleAfterRefreshLocked(claims, now)
	m.mu.Unlock()

	m.logger().Debug().
		Str("token", token.Fingerprint(ts.AccessToken)).
		Bool("rotated", ts.RefreshToken != "").
		Time("expiresAt", claims.Expiry()).
		Msg("access token refreshed")

	return !claims.Expired(now)
}

// scheduleAfterRefreshLocked schedules the next refresh at expiry minus
// RefreshSkew, no sooner than MinRefreshDelay. Delays of MaxRefreshDelay or
// more are left to the next reactive refresh.
func (m *Manager) scheduleAfterRefreshLocked(claims *token.Claims, now time.Time) {
	delay := max(claims.ExpiresIn(now)-m.cfg.RefreshSkew, m.cfg.MinRefreshDelay)
	if delay < m.cfg.MaxRefreshDelay {
		m.scheduleRefreshLocked(delay)
		return
	}
	m.cancelTimerLocked()
}

func (m *Manager) failRefresh(ctx context.Context, generation uint64) {
	m.metrics.RefreshErrorsTotal.Add(ctx, 1)
	m.logoutGeneration(ctx, generation)
}

// CheckAuth reports whether the session holds a usable access token,
// refreshing it when it expires within RefreshSkew. A malformed token
// yields false without ending the session.
func (m *Manager) CheckAuth(ctx context.Context) bool {
	accessToken := m.AccessToken()
	if accessToken == "" {
		return false
	}

	claims, err := m.cfg.Decoder(accessToken)
	if err != nil {
		m.logger().Debug().Err(err).Msg("access token could not be decoded")
		return false
	}

	if !m.cfg.Clock.Now().Before(claims.Expiry().Add(-m.cfg.RefreshSkew)) {
		return m.RefreshAccessToken(ctx)
	}

	return true
}
