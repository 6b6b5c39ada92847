package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atendo/atendo/internal/authstub"
	"github.com/atendo/atendo/internal/authstub/postgres"
	"github.com/atendo/atendo/internal/logger"
	"github.com/atendo/atendo/internal/telemetry"
	"github.com/atendo/atendo/internal/token"
	"github.com/rs/zerolog/log"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"localhost:8000" env:"ATENDO_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"ATENDO_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"ATENDO_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for browser clients" default:"" env:"ATENDO_CORS_ORIGINS"`

	// Token configuration
	SigningKey       string        `help:"path to a PEM encoded EC private key for access tokens (ephemeral when empty)" default:"" env:"ATENDO_SIGNING_KEY"`
	AccessTTL        time.Duration `help:"access token lifetime" default:"1h" env:"ATENDO_ACCESS_TTL"`
	RefreshTTL       time.Duration `help:"refresh session lifetime" default:"720h" env:"ATENDO_REFRESH_TTL"`
	KeepRefreshToken bool          `help:"do not rotate refresh tokens on refresh" default:"false" env:"ATENDO_KEEP_REFRESH_TOKEN"`

	// Accounts
	Accounts []string `help:"accounts to create, as email:password[:full name[:role]]" env:"ATENDO_ACCOUNTS" sep:";"`

	Tracing bool `help:"enable tracing and metrics export" default:"false" env:"ATENDO_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"ATENDO_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"ATENDO_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting auth server")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, telemetry.Options{
			ServiceName: "atendo-auth",
			Version:     globals.Version,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	accounts, sessions, closeStore, err := c.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stub, err := c.newServer(ctx, accounts, sessions)
	if err != nil {
		return err
	}

	log.Info().Str("kid", stub.Keys().Kid()).Int("accounts", len(c.Accounts)).Msg("Auth backend initialized")

	listener, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Listen, err)
	}

	return c.serve(ctx, listener, stub.Handler())
}

// openStores returns the account and session stores selected by --store-type.
// Nil stores mean in-memory.
func (c *ServeCmd) openStores(ctx context.Context) (authstub.Accounts, authstub.Sessions, func(), error) {
	if c.StoreType != "postgres" {
		log.Info().Msg("Using in-memory account and session stores")
		return nil, nil, func() {}, nil
	}

	if err := c.PostgresStore.Validate(); err != nil {
		return nil, nil, nil, err
	}

	pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{
		ConnString:      c.PostgresStore.ConnString,
		MaxConns:        c.PostgresStore.MaxConns,
		MinConns:        c.PostgresStore.MinConns,
		MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
		MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if c.PostgresStore.AutoMigrate {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	log.Info().Msg("Using PostgreSQL account and session stores")

	return postgres.NewAccountStore(pool), postgres.NewSessionStore(pool), pool.Close, nil
}

// newServer builds the backend and seeds the configured accounts.
func (c *ServeCmd) newServer(ctx context.Context, accounts authstub.Accounts, sessions authstub.Sessions) (*authstub.Server, error) {
	var keys *token.KeyManager
	if c.SigningKey != "" {
		var err error
		keys, err = loadKeyManager(c.SigningKey)
		if err != nil {
			return nil, err
		}
	}

	stub, err := authstub.New(authstub.Config{
		AccessTTL:        c.AccessTTL,
		RefreshTTL:       c.RefreshTTL,
		KeepRefreshToken: c.KeepRefreshToken,
		AllowedOrigins:   nonEmpty(c.CORSOrigins),
		Keys:             keys,
		Accounts:         accounts,
		Sessions:         sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth backend: %w", err)
	}

	for _, spec := range c.Accounts {
		email, password, fullName, role, err := parseAccount(spec)
		if err != nil {
			return nil, err
		}
		account, err := stub.AddAccount(ctx, email, password, fullName, role)
		if errors.Is(err, authstub.ErrAccountExists) {
			log.Info().Str("email", email).Msg("Account already exists")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to add account %s: %w", email, err)
		}
		log.Info().Str("email", account.Email).Str("userID", account.UserID.String()).Msg("Account created")
	}

	return stub, nil
}

// serve runs the HTTP server until ctx is done, then drains connections.
func (c *ServeCmd) serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := configureHTTPServer(c.Listen, handler)

	tls := c.Cert != "" || c.Key != ""
	if tls {
		if c.Cert == "" || c.Key == "" {
			return errors.New("both --cert and --key are required for TLS")
		}
		for _, path := range []string{c.Cert, c.Key} {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("TLS file not found at %s: %w", path, err)
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Bool("tls", tls).Msg("Starting HTTP server")
		if tls {
			errCh <- srv.ServeTLS(listener, c.Cert, c.Key)
			return
		}
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// parseAccount splits email:password[:full name[:role]].
func parseAccount(spec string) (email, password, fullName, role string, err error) {
	parts := strings.SplitN(spec, ":", 4)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", "", fmt.Errorf("invalid account %q, expected email:password[:full name[:role]]", spec)
	}

	email, password = parts[0], parts[1]
	if len(parts) > 2 {
		fullName = parts[2]
	}
	if len(parts) > 3 {
		role = parts[3]
	}
	return email, password, fullName, role, nil
}

func loadKeyManager(path string) (*token.KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	keys, err := token.NewKeyManagerFromPEM(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key %s: %w", path, err)
	}
	return keys, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
