package session

import (
	"context"
	"errors"
	"time"

	"github.com/atendo/atendo/internal/models"
	"github.com/atendo/atendo/internal/storage"
	"github.com/atendo/atendo/internal/token"
)

const (
	// SnapshotKey is the storage entry holding the persisted session.
	SnapshotKey = "auth-storage"

	// AccessTokenKey and RefreshTokenKey mirror the tokens for the API request layer.
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"

	snapshotVersion = 1
)

var (
	// ErrMissingCredentials is returned by Login when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")

	// ErrInvalidToken is returned by Login when the issued access token cannot be decoded.
	ErrInvalidToken = errors.New("invalid access token received")
)

// Authenticator calls the credential and refresh endpoints.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*models.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error)
}

// Config holds the session manager configuration
type Config struct {
	Storage storage.Storage
	Auth    Authenticator
	Decoder token.Decoder
	Clock   Clock

	// PublicRoutes are path prefixes on which refresh is skipped.
	PublicRoutes []string

	// Location returns the current navigation path. Nil disables the public route check.
	Location func() string

	// RefreshSkew is how long before expiry the proactive refresh fires.
	RefreshSkew time.Duration

	// MinRefreshDelay is the floor for refresh timers scheduled after a refresh.
	MinRefreshDelay time.Duration

	// MaxRefreshDelay bounds refresh timers scheduled after a refresh; longer
	// delays are not scheduled at all.
	MaxRefreshDelay time.Duration

	// RefreshTimeout bounds refreshes started by the timer.
	RefreshTimeout time.Duration

	StorageKey string
}

// DefaultConfig returns a default session configuration without collaborators
func DefaultConfig() Config {
	return Config{
		Decoder:         token.Decode,
		Clock:           wallClock{},
		PublicRoutes:    DefaultPublicRoutes,
		RefreshSkew:     5 * time.Minute,
		MinRefreshDelay: 60 * time.Second,
		MaxRefreshDelay: time.Hour,
		RefreshTimeout:  30 * time.Second,
		StorageKey:      SnapshotKey,
	}
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.Storage == nil {
		return cfg, errors.New("session storage is required")
	}
	if cfg.Auth == nil {
		return cfg, errors.New("session authenticator is required")
	}

	defaults := DefaultConfig()

	if cfg.Decoder == nil {
		cfg.Decoder = defaults.Decoder
	}
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}
	if cfg.PublicRoutes == nil {
		cfg.PublicRoutes = defaults.PublicRoutes
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = defaults.RefreshSkew
	}
	if cfg.MinRefreshDelay <= 0 {
		cfg.MinRefreshDelay = defaults.MinRefreshDelay
	}
	if cfg.MaxRefreshDelay <= 0 {
		cfg.MaxRefreshDelay = defaults.MaxRefreshDelay
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaults.RefreshTimeout
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaults.StorageKey
	}

	return cfg, nil
}
