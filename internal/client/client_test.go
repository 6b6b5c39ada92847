package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atendo/atendo/internal/authapi"
	"github.com/atendo/atendo/internal/authstub"
	"github.com/atendo/atendo/internal/session"
	"github.com/atendo/atendo/internal/storage"
	"github.com/atendo/atendo/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	stub    *authstub.Server
	server  *httptest.Server
	manager *session.Manager
	client  *Client
}

func newStack(t *testing.T, cfg Config) *stack {
	t.Helper()
	ctx := context.Background()

	stub, err := authstub.New(authstub.Config{})
	require.NoError(t, err)
	_, err = stub.AddAccount(ctx, "ana@salao.com", "pw", "Ana Silva", "owner")
	require.NoError(t, err)

	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)

	auth, err := authapi.New(authapi.Config{BaseURL: server.URL})
	require.NoError(t, err)

	manager, err := session.New(session.Config{Storage: storage.NewMemoryStorage(), Auth: auth})
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	cfg.BaseURL = server.URL
	client, err := New(cfg, manager)
	require.NoError(t, err)

	return &stack{stub: stub, server: server, manager: manager, client: client}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, &fakeSession{})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://x"}, nil)
	assert.Error(t, err)
}

func TestClient_Me(t *testing.T) {
	s := newStack(t, Config{Timeout: 5 * time.Second})
	ctx := context.Background()

	_, err := s.client.Me(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, s.manager.Login(ctx, "ana@salao.com", "pw"))

	user, err := s.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana@salao.com", user.Email)
	assert.Equal(t, s.manager.State().User.ID, user.ID)
}

func TestClient_ReactiveRefresh(t *testing.T) {
	s := newStack(t, Config{Timeout: 5 * time.Second})
	ctx := context.Background()

	// log in with a token the server already considers expired
	s.stub.SetAccessTTL(-time.Minute)
	require.NoError(t, s.manager.Login(ctx, "ana@salao.com", "pw"))
	s.stub.SetAccessTTL(time.Hour)
	stale := s.manager.AccessToken()

	user, err := s.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana@salao.com", user.Email)

	assert.Equal(t, 1, s.stub.Calls(authstub.EndpointRefresh))
	assert.NotEqual(t, stale, s.manager.AccessToken())
	assert.True(t, s.manager.State().IsAuthenticated)
}

func TestClient_ReactiveRefreshFailureLogsOut(t *testing.T) {
	s := newStack(t, Config{Timeout: 5 * time.Second})
	ctx := context.Background()

	s.stub.SetAccessTTL(-time.Minute)
	require.NoError(t, s.manager.Login(ctx, "ana@salao.com", "pw"))
	s.stub.ForceStatus(authstub.EndpointRefresh, http.StatusUnauthorized)

	_, err := s.client.Me(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, s.manager.State().IsAuthenticated)
}

func TestClient_CachesPublicResponses(t *testing.T) {
	s := newStack(t, Config{Timeout: 5 * time.Second, Cache: true})
	ctx := context.Background()

	for range 3 {
		keys, err := s.client.JWKS(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, keys["keys"])
	}

	assert.Equal(t, 1, s.stub.Calls(authstub.EndpointJWKS))
}

func TestClient_CachesOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := newStack(t, Config{Timeout: 5 * time.Second, Cache: true, CacheDir: dir})
	ctx := context.Background()

	_, err := s.client.JWKS(ctx)
	require.NoError(t, err)

	// a second client over the same directory reuses the entry
	again, err := New(Config{BaseURL: s.server.URL, Cache: true, CacheDir: dir}, s.manager)
	require.NoError(t, err)
	_, err = again.JWKS(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, s.stub.Calls(authstub.EndpointJWKS))
}

func TestClient_NeverCachesAuthenticatedResponses(t *testing.T) {
	s := newStack(t, Config{Timeout: 5 * time.Second, Cache: true, CacheDir: t.TempDir()})
	ctx := context.Background()

	_, err := s.stub.AddAccount(ctx, "bia@salao.com", "pw", "Bia Costa", "staff")
	require.NoError(t, err)

	require.NoError(t, s.manager.Login(ctx, "ana@salao.com", "pw"))
	user, err := s.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana@salao.com", user.Email)

	s.manager.Logout(ctx)
	require.NoError(t, s.manager.Login(ctx, "bia@salao.com", "pw"))

	user, err = s.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bia@salao.com", user.Email)
	assert.Equal(t, "staff", user.Role)

	assert.Equal(t, 2, s.stub.Calls(authstub.EndpointMe))
}

func TestCookieMirror(t *testing.T) {
	s := newStack(t, Config{})
	ctx := context.Background()

	mirror, err := NewCookieMirror(s.server.URL, nil)
	require.NoError(t, err)
	detach := mirror.Attach(s.manager)
	defer detach()

	assert.Empty(t, mirror.Cookies())

	require.NoError(t, s.manager.Login(ctx, "ana@salao.com", "pw"))

	cookies := cookieMap(mirror)
	assert.Equal(t, s.manager.AccessToken(), cookies[session.AccessTokenKey])
	assert.Equal(t, s.manager.State().RefreshToken, cookies[session.RefreshTokenKey])

	// refresh rotates both
	require.True(t, s.manager.RefreshAccessToken(ctx))
	cookies = cookieMap(mirror)
	assert.Equal(t, s.manager.AccessToken(), cookies[session.AccessTokenKey])
	assert.Equal(t, s.manager.State().RefreshToken, cookies[session.RefreshTokenKey])

	s.manager.Logout(ctx)
	assert.Empty(t, mirror.Cookies())
}

func TestCookieMirror_ExpiredAccessToken(t *testing.T) {
	km, err := token.NewKeyManager()
	require.NoError(t, err)
	expired, err := km.Issue("1", token.Claims{}, -time.Minute, time.Now())
	require.NoError(t, err)

	mirror, err := NewCookieMirror("http://127.0.0.1:8000", nil)
	require.NoError(t, err)

	mirror.Observe(session.State{AccessToken: expired, RefreshToken: "R1"})

	// the jar drops cookies past their expiry
	cookies := cookieMap(mirror)
	assert.NotContains(t, cookies, session.AccessTokenKey)
	assert.Equal(t, "R1", cookies[session.RefreshTokenKey])
}

func TestNewCookieMirror_InvalidURL(t *testing.T) {
	_, err := NewCookieMirror("not a url", nil)
	assert.Error(t, err)
}

func TestTokenSource_Session(t *testing.T) {
	s := newStack(t, Config{})
	ctx := context.Background()
	require.NoError(t, s.manager.Login(ctx, "ana@salao.com", "pw"))

	tok, err := NewTokenSource(ctx, s.manager, nil).Token()
	require.NoError(t, err)
	assert.Equal(t, s.manager.AccessToken(), tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Valid())
}

func cookieMap(m *CookieMirror) map[string]string {
	out := make(map[string]string)
	for _, c := range m.Cookies() {
		out[c.Name] = c.Value
	}
	return out
}
