// Package authstub is a development auth backend implementing the credential,
// refresh and identity endpoints the session manager talks to.
package authstub

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/atendo/atendo/internal/logger"
	"github.com/atendo/atendo/internal/models"
	"github.com/atendo/atendo/internal/token"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Config holds the dev backend configuration
type Config struct {
	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of a refresh session.
	RefreshTTL time.Duration

	// KeepRefreshToken disables refresh token rotation; refresh answers
	// then carry only an access token.
	KeepRefreshToken bool

	// AllowedOrigins enables CORS for browser clients. Empty disables CORS.
	AllowedOrigins []string

	// Keys signs access tokens. Nil generates an ephemeral key.
	Keys *token.KeyManager

	// Now is the time source. Nil means time.Now.
	Now func() time.Time

	// Accounts and Sessions back the server. Nil means in-memory stores.
	Accounts Accounts
	Sessions Sessions

	// PasswordCost is the bcrypt cost for new accounts. Zero means bcrypt.DefaultCost.
	PasswordCost int
}

// DefaultConfig returns a default dev backend configuration
func DefaultConfig() Config {
	return Config{
		AccessTTL:  time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

// Server is the dev auth backend.
type Server struct {
	cfg      Config
	keys     *token.KeyManager
	accounts Accounts
	sessions Sessions
	hooks    *hooks
	origins  *csrf.Protection
}

// New creates a dev backend with no accounts.
func New(cfg Config) (*Server, error) {
	defaults := DefaultConfig()
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaults.AccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaults.RefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Accounts == nil {
		cfg.Accounts = NewMemoryAccountStore()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewMemorySessionStore()
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}

	keys := cfg.Keys
	if keys == nil {
		var err error
		keys, err = token.NewKeyManager()
		if err != nil {
			return nil, fmt.Errorf("failed to create signing key: %w", err)
		}
	}

	origins, err := newCrossOriginProtection(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		keys:     keys,
		accounts: cfg.Accounts,
		sessions: cfg.Sessions,
		hooks:    newHooks(cfg.AccessTTL),
		origins:  origins,
	}, nil
}

// Keys returns the access token signing keys.
func (s *Server) Keys() *token.KeyManager {
	return s.keys
}

// Sessions returns the refresh session store.
func (s *Server) Sessions() Sessions {
	return s.sessions
}

// AddAccount registers a user that can log in with email and password.
func (s *Server) AddAccount(ctx context.Context, email, password, fullName, role string) (*models.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	userID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user ID: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		UserID:       userID,
		CompanyID:    uuid.NewSHA1(uuid.NameSpaceDNS, []byte(domainOf(email))),
		Email:        email,
		FullName:     fullName,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    s.cfg.Now(),
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	return account, nil
}

// authenticate returns the account when email and password match.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Server) authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// DisableAccount stops an account from logging in or refreshing.
func (s *Server) DisableAccount(ctx context.Context, userID uuid.UUID) error {
	return s.accounts.Disable(ctx, userID, s.cfg.Now())
}

// IssueAccessToken signs an access token for the account.
func (s *Server) IssueAccessToken(account *models.Account) (string, error) {
	return s.keys.Issue(account.UserID.String(), token.Claims{
		Email:     account.Email,
		Role:      account.Role,
		CompanyID: account.CompanyID.String(),
	}, s.accessTTL(), s.cfg.Now())
}

// Handler returns the HTTP handler with logging, client IP, gzip, cross-origin
// protection and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/token", s.handleToken)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)

	var h http.Handler = mux
	h = s.origins.Handler(h)
	h = withGzip(h)
	h = logger.Middleware(log.Logger, func(r *http.Request) string {
		return ClientIPFromContext(r.Context())
	})(h)
	h = clientIPMiddleware(h)
	if len(s.cfg.AllowedOrigins) > 0 {
		h = withCORS(s.cfg.AllowedOrigins, h)
	}
	return h
}

// newRefreshToken returns an opaque refresh token and the hash stored for it.
func newRefreshToken() (plain, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	plain = base58.Encode(buf)
	return plain, hashRefreshToken(plain), nil
}

func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func domainOf(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return strings.ToLower(domain)
	}
	return email
}
