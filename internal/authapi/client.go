package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atendo/atendo/internal/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Mode selects the credential endpoint dialect.
type Mode string

const (
	// ModeJSON posts {email, password} as JSON.
	ModeJSON Mode = "json"

	// ModePasswordGrant posts an OAuth2 password grant form {username, password, grant_type}.
	ModePasswordGrant Mode = "password_grant"
)

const maxResponseBytes = 1 << 20

// Config holds the auth API client configuration
type Config struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	Mode        Mode

	// HTTPClient is used for every request. Nil means a client with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration

	// LoginRetries is the number of extra attempts for transient login failures.
	// Refresh is never retried.
	LoginRetries         uint
	RetryInitialInterval time.Duration
}

// DefaultConfig returns a default auth API configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:              "http://localhost:8000",
		LoginPath:            "/auth/login",
		RefreshPath:          "/auth/refresh",
		Mode:                 ModeJSON,
		Timeout:              30 * time.Second,
		LoginRetries:         2,
		RetryInitialInterval: 250 * time.Millisecond,
	}
}

// Client talks to the credential and refresh endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	oauth      *oauth2.Config
}

// New creates an auth API client. Empty fields fall back to DefaultConfig.
func New(cfg Config) (*Client, error) {
	defaults := DefaultConfig()

	if cfg.BaseURL == "" {
		return nil, errors.New("auth api base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.LoginPath == "" {
		cfg.LoginPath = defaults.LoginPath
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = defaults.RefreshPath
	}
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.Mode != ModeJSON && cfg.Mode != ModePasswordGrant {
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaults.RetryInitialInterval
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{cfg: cfg, httpClient: httpClient}

	if cfg.Mode == ModePasswordGrant {
		c.oauth = &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.BaseURL + cfg.LoginPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	}

	return c, nil
}

// LoginURL returns the credential endpoint.
func (c *Client) LoginURL() string {
	return c.cfg.BaseURL + c.cfg.LoginPath
}

// RefreshURL returns the refresh endpoint.
func (c *Client) RefreshURL() string {
	return c.cfg.BaseURL + c.cfg.RefreshPath
}

// Login exchanges credentials for a user and token pair.
// Transport errors and 5xx answers are retried with exponential backoff;
// other failures are returned at once as *APIError.
func (c *Client) Login(ctx context.Context, email, password string) (*models.TokenSet, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval

	attempt := 0
	op := func() (*models.TokenSet, error) {
		attempt++
		ts, err := c.loginOnce(ctx, email, password)
		if err == nil {
			return ts, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrMissingAccessToken) || errors.Is(err, ErrMissingUser) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	ts, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.LoginRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", next).Msg("login attempt failed, retrying")
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, err
	}

	return ts, nil
}

func (c *Client) loginOnce(ctx context.Context, email, password string) (*models.TokenSet, error) {
	if c.cfg.Mode == ModePasswordGrant {
		return c.passwordGrant(ctx, email, password)
	}

	var ts models.TokenSet
	if err := c.postJSON(ctx, c.LoginURL(), map[string]string{
		"email":    email,
		"password": password,
	}, &ts); err != nil {
		return nil, err
	}

	if ts.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	if ts.User == nil {
		return nil, ErrMissingUser
	}

	return &ts, nil
}

// passwordGrant runs the OAuth2 resource owner password flow.
// The user record rides along as an extra field of the token response.
func (c *Client) passwordGrant(ctx context.Context, email, password string) (*models.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, newAPIError(retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return nil, fmt.Errorf("password grant failed: %w", err)
	}

	if tok.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	raw := tok.Extra("user")
	if raw == nil {
		return nil, ErrMissingUser
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	return &models.TokenSet{
		User:         &user,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. It is never retried.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	var ts models.TokenSet
	if err := c.postJSON(ctx, c.RefreshURL(), map[string]string{
		"refresh_token": refreshToken,
	}, &ts); err != nil {
		return nil, err
	}

	if ts.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	// refresh responses never change identity
	ts.User = nil

	return &ts, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
