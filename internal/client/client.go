package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atendo/atendo/internal/logger"
	"github.com/atendo/atendo/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrUnauthorized is returned when the server rejects the session.
var ErrUnauthorized = errors.New("not authenticated")

// Config holds common client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Cache enables HTTP response caching. CacheDir persists it on disk.
	Cache    bool
	CacheDir string

	// Jar receives cookies set on and by the API, see CookieMirror.
	Jar http.CookieJar
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 30 * time.Second,
		Cache:   true,
	}
}

// StatusError is a non-2xx API answer other than 401.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client calls the authenticated API on behalf of a session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an API client. Requests flow through the session transport,
// the response cache and the request logger, in that order.
func New(cfg Config, session Session) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base URL is required")
	}
	if session == nil {
		return nil, errors.New("session is required")
	}

	var transport http.RoundTripper = logger.NewRequests(log.Logger, nil)
	if cfg.Cache {
		transport = newCachingTransport(cfg.CacheDir, transport)
	}
	transport = NewTransport(session, transport)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			Jar:       cfg.Jar,
		},
	}, nil
}

// HTTPClient returns the underlying client for calls the helpers do not cover.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// GetJSON fetches path and decodes the JSON answer into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return nil
}

// JWKS returns the server's public signing keys.
func (c *Client) JWKS(ctx context.Context) (map[string]any, error) {
	var keys map[string]any
	if err := c.GetJSON(ctx, "/.well-known/jwks.json", &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Me returns the user the server sees for the current access token.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.GetJSON(ctx, "/api/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}
