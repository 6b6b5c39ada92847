package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atendo/atendo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRehydrate_Empty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.manager.Rehydrate(ctx)

	state := h.manager.State()
	assert.True(t, state.HasHydrated)
	assert.False(t, state.IsAuthenticated)
	assert.NoError(t, h.manager.WaitHydrated(ctx))
}

func TestRehydrate_RestoresValidSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	access := h.issue(time.Hour)
	h.seed(persistedState{User: h.user, AccessToken: access, RefreshToken: "R1", IsAuthenticated: true})

	h.manager.Rehydrate(ctx)

	state := h.manager.State()
	assert.True(t, state.HasHydrated)
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, access, state.AccessToken)
	assert.Equal(t, "a@b.com", state.User.Email)
	assert.Equal(t, 0, h.auth.RefreshCalls())

	// timers do not survive restarts, so one is scheduled again
	at, ok := h.manager.NextRefreshAt()
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(55*time.Minute), at)
}

func TestRehydrate_ExpiredWithRefreshToken(t *testing.T) {
	t.Run("renewal succeeds", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.seed(persistedState{User: h.user, AccessToken: h.issue(-time.Minute), RefreshToken: "R1", IsAuthenticated: true})

		h.manager.Rehydrate(ctx)

		assert.Equal(t, 1, h.auth.RefreshCalls())
		state := h.manager.State()
		assert.True(t, state.HasHydrated)
		assert.True(t, state.IsAuthenticated)
		assert.Equal(t, "R1", state.RefreshToken)
		assert.Equal(t, 1, h.clock.Pending())
	})

	t.Run("renewal fails", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.auth.refresh = func(string) (*models.TokenSet, error) {
			return nil, &statusError{status: 401, msg: "expired"}
		}
		h.seed(persistedState{User: h.user, AccessToken: h.issue(-time.Minute), RefreshToken: "R1", IsAuthenticated: true})

		h.manager.Rehydrate(ctx)

		assert.Equal(t, 1, h.auth.RefreshCalls())
		state := h.manager.State()
		assert.True(t, state.HasHydrated)
		assert.False(t, state.IsAuthenticated)
		assert.Empty(t, state.Error)
		_, ok := h.stored(SnapshotKey)
		assert.False(t, ok)
	})

	t.Run("renewal succeeds without user", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.seed(persistedState{AccessToken: h.issue(-time.Minute), RefreshToken: "R1"})

		h.manager.Rehydrate(ctx)

		assert.Equal(t, 1, h.auth.RefreshCalls())
		assert.False(t, h.manager.State().IsAuthenticated)
		assert.Equal(t, 0, h.clock.Pending())
	})
}

func TestRehydrate_ForcesLogout(t *testing.T) {
	tests := []struct {
		name string
		seed func(h *harness) persistedState
	}{
		{
			name: "expired without refresh token",
			seed: func(h *harness) persistedState {
				return persistedState{User: h.user, AccessToken: h.issue(-time.Minute), IsAuthenticated: true}
			},
		},
		{
			name: "valid without refresh token",
			seed: func(h *harness) persistedState {
				return persistedState{User: h.user, AccessToken: h.issue(time.Hour), IsAuthenticated: true}
			},
		},
		{
			name: "valid without user",
			seed: func(h *harness) persistedState {
				return persistedState{AccessToken: h.issue(time.Hour), RefreshToken: "R1", IsAuthenticated: true}
			},
		},
		{
			name: "undecodable token",
			seed: func(h *harness) persistedState {
				return persistedState{User: h.user, AccessToken: "not-a-jwt", RefreshToken: "R1", IsAuthenticated: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.seed(tt.seed(h))

			h.manager.Rehydrate(ctx)

			state := h.manager.State()
			assert.True(t, state.HasHydrated)
			assert.False(t, state.IsAuthenticated)
			assert.Nil(t, state.User)
			assert.Empty(t, state.AccessToken)
			assert.Empty(t, state.Error)
			assert.Equal(t, 0, h.auth.RefreshCalls())

			for _, key := range []string{AccessTokenKey, RefreshTokenKey, SnapshotKey} {
				_, ok := h.stored(key)
				assert.False(t, ok, key)
			}
		})
	}
}

func TestRehydrate_CorruptSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.storage.Set(ctx, SnapshotKey, "{not json"))

	h.manager.Rehydrate(ctx)

	assert.True(t, h.manager.State().HasHydrated)
	_, ok := h.stored(SnapshotKey)
	assert.False(t, ok)
}

func TestRehydrate_RunsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(persistedState{User: h.user, AccessToken: h.issue(-time.Minute), RefreshToken: "R1", IsAuthenticated: true})

	h.manager.Rehydrate(ctx)
	h.manager.Rehydrate(ctx)

	assert.Equal(t, 1, h.auth.RefreshCalls())
}

func TestWaitHydrated_ContextDone(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := h.manager.WaitHydrated(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
