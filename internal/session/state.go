package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atendo/atendo/internal/models"
	"github.com/atendo/atendo/internal/storage"
)

// State is a point-in-time copy of the session handed to consumers.
type State struct {
	User            *models.User
	AccessToken     string
	RefreshToken    string
	IsAuthenticated bool
	IsLoading       bool
	Error           string
	HasHydrated     bool
}

// persistedState is the part of the session that survives a restart.
type persistedState struct {
	User            *models.User `json:"user"`
	AccessToken     string       `json:"access_token"`
	RefreshToken    string       `json:"refresh_token"`
	IsAuthenticated bool         `json:"is_authenticated"`
}

type snapshot struct {
	State   persistedState `json:"state"`
	Version int            `json:"version"`
}

func encodeSnapshot(ps persistedState) (string, error) {
	data, err := json.Marshal(snapshot{State: ps, Version: snapshotVersion})
	if err != nil {
		return "", fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	return string(data), nil
}

func decodeSnapshot(raw string) (persistedState, error) {
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return persistedState{}, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if snap.Version != snapshotVersion {
		return persistedState{}, fmt.Errorf("%w: unsupported snapshot version %d", storage.ErrCorrupt, snap.Version)
	}
	return snap.State, nil
}

// persistLocked writes the snapshot and both token keys in one call.
// Storage failures are logged and never surface to callers.
func (m *Manager) persistLocked(ctx context.Context) {
	ps := persistedState{
		User:            m.user,
		AccessToken:     m.accessToken,
		RefreshToken:    m.refreshToken,
		IsAuthenticated: m.authenticated,
	}

	raw, err := encodeSnapshot(ps)
	if err != nil {
		m.logger().Warn().Err(err).Msg("failed to persist session")
		return
	}

	entries := map[string]string{
		m.cfg.StorageKey: raw,
		AccessTokenKey:   m.accessToken,
	}
	if m.refreshToken != "" {
		entries[RefreshTokenKey] = m.refreshToken
	}

	if err := m.cfg.Storage.SetMany(ctx, entries); err != nil {
		m.logger().Warn().Err(err).Msg("failed to persist session")
		return
	}

	if m.refreshToken == "" {
		if err := m.cfg.Storage.Remove(ctx, RefreshTokenKey); err != nil {
			m.logger().Warn().Err(err).Msg("failed to remove refresh token")
		}
	}
}

// purgeLocked removes every session entry from storage.
func (m *Manager) purgeLocked(ctx context.Context) {
	if err := m.cfg.Storage.Remove(ctx, m.cfg.StorageKey, AccessTokenKey, RefreshTokenKey); err != nil {
		m.logger().Warn().Err(err).Msg("failed to purge session storage")
	}
}

func (m *Manager) loadSnapshot(ctx context.Context) (persistedState, error) {
	raw, err := m.cfg.Storage.Get(ctx, m.cfg.StorageKey)
	if err != nil {
		return persistedState{}, err
	}
	return decodeSnapshot(raw)
}
