package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/atendo/atendo/internal/authapi"
	"github.com/atendo/atendo/internal/client"
	"github.com/atendo/atendo/internal/config"
	"github.com/atendo/atendo/internal/session"
	"github.com/atendo/atendo/internal/storage"
	"github.com/rs/zerolog/log"
)

// stdout is where commands print results.
var stdout io.Writer = os.Stdout

type Globals struct {
	Debug     bool
	Version   string
	Config    string
	Server    string
	StateDir  string
	Telemetry bool
}

// sessionStack is a rehydrated session manager and what it was built from.
type sessionStack struct {
	cfg      config.Config
	stateDir string
	store    storage.Storage
	auth     *authapi.Client
	manager  *session.Manager
}

// openSession builds the session manager from config and flags and restores
// the persisted session. Callers must Close the manager.
func openSession(ctx context.Context, globals *Globals) (*sessionStack, error) {
	return openSessionAt(ctx, globals, nil)
}

// openSessionAt is openSession with a location hook for the public route guard.
func openSessionAt(ctx context.Context, globals *Globals, location func() string) (*sessionStack, error) {
	cfg, err := config.Load(globals.Config)
	if err != nil {
		return nil, err
	}
	if globals.Server != "" {
		cfg.ServerURL = globals.Server
	}

	stateDir := globals.StateDir
	if stateDir == "" {
		stateDir, err = config.Dir()
		if err != nil {
			return nil, err
		}
	}

	store := storage.OpenOrNop(stateDir)

	auth, err := authapi.New(authapi.Config{
		BaseURL:     cfg.ServerURL,
		LoginPath:   cfg.LoginPath,
		RefreshPath: cfg.RefreshPath,
		Mode:        authapi.Mode(cfg.AuthMode),
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	manager, err := session.New(session.Config{
		Storage:      store,
		Auth:         auth,
		PublicRoutes: cfg.PublicRoutes,
		RefreshSkew:  cfg.RefreshSkew,
		Location:     location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	manager.Rehydrate(ctx)

	log.Debug().Str("server", cfg.ServerURL).Str("stateDir", stateDir).Msg("session opened")

	return &sessionStack{cfg: cfg, stateDir: stateDir, store: store, auth: auth, manager: manager}, nil
}

// apiClient returns a request client bound to the session, mirroring tokens
// into its cookie jar.
func (s *sessionStack) apiClient() (*client.Client, func(), error) {
	mirror, err := client.NewCookieMirror(s.cfg.ServerURL, nil)
	if err != nil {
		return nil, nil, err
	}
	detach := mirror.Attach(s.manager)

	cacheDir := s.cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(s.stateDir, "cache")
	}

	c, err := client.New(client.Config{
		BaseURL:  s.cfg.ServerURL,
		Timeout:  s.cfg.Timeout,
		Cache:    s.cfg.Cache,
		CacheDir: cacheDir,
		Jar:      mirror.Jar(),
	}, s.manager)
	if err != nil {
		detach()
		return nil, nil, err
	}

	return c, detach, nil
}

func (s *sessionStack) Close() {
	s.manager.Close()
}
