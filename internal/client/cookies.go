package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/atendo/atendo/internal/session"
	"github.com/atendo/atendo/internal/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

// RefreshCookieTTL is the lifetime of the mirrored refresh token cookie.
const RefreshCookieTTL = 30 * 24 * time.Hour

// CookieMirror copies the session tokens into a cookie jar for deployments
// that expect them as cookies. The access token cookie expires with the
// token; the refresh token cookie lasts RefreshCookieTTL. Both are expired
// as soon as the session ends.
type CookieMirror struct {
	jar    *cookiejar.Jar
	target *url.URL
	decode token.Decoder
	now    func() time.Time

	mu      sync.Mutex
	access  string
	refresh string
}

// NewCookieMirror creates a mirror scoped to baseURL. A nil decode uses token.Decode.
func NewCookieMirror(baseURL string, decode token.Decoder) (*CookieMirror, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if target.Host == "" {
		return nil, errors.New("base URL must include a host")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if decode == nil {
		decode = token.Decode
	}

	return &CookieMirror{jar: jar, target: target, decode: decode, now: time.Now}, nil
}

// Jar returns the cookie jar to hand to an http.Client.
func (c *CookieMirror) Jar() http.CookieJar {
	return c.jar
}

// Cookies returns the cookies the jar would send to the base URL.
func (c *CookieMirror) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.target)
}

// Attach mirrors the manager's current state and every later change.
func (c *CookieMirror) Attach(m *session.Manager) (detach func()) {
	c.Observe(m.State())
	return m.Subscribe(c.Observe)
}

// Observe mirrors one session state.
func (c *CookieMirror) Observe(state session.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state.AccessToken == c.access && state.RefreshToken == c.refresh {
		return
	}

	var cookies []*http.Cookie

	switch {
	case state.AccessToken == "":
		if c.access != "" {
			cookies = append(cookies, c.expired(session.AccessTokenKey))
		}
	case state.AccessToken != c.access:
		cookie := c.cookie(session.AccessTokenKey, state.AccessToken)
		if claims, err := c.decode(state.AccessToken); err == nil {
			cookie.Expires = claims.Expiry()
		} else {
			log.Debug().Err(err).Msg("access token cookie set without expiry")
		}
		cookies = append(cookies, cookie)
	}

	switch {
	case state.RefreshToken == "":
		if c.refresh != "" {
			cookies = append(cookies, c.expired(session.RefreshTokenKey))
		}
	case state.RefreshToken != c.refresh:
		cookie := c.cookie(session.RefreshTokenKey, state.RefreshToken)
		cookie.Expires = c.now().Add(RefreshCookieTTL)
		cookies = append(cookies, cookie)
	}

	c.access = state.AccessToken
	c.refresh = state.RefreshToken

	if len(cookies) > 0 {
		c.jar.SetCookies(c.target, cookies)
	}
}

func (c *CookieMirror) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   c.target.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *CookieMirror) expired(name string) *http.Cookie {
	cookie := c.cookie(name, "")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	return cookie
}
