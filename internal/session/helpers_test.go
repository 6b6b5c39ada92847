package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/atendo/atendo/internal/models"
	"github.com/atendo/atendo/internal/storage"
	"github.com/atendo/atendo/internal/token"
	"github.com/stretchr/testify/require"
)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_760_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs every timer that came due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending counts timers that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeAuth stands in for the credential and refresh endpoints.
type fakeAuth struct {
	mu           sync.Mutex
	loginCalls   int
	refreshCalls int
	refreshSeen  []string

	login   func(email, password string) (*models.TokenSet, error)
	refresh func(refreshToken string) (*models.TokenSet, error)
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*models.TokenSet, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.login
	f.mu.Unlock()
	return fn(email, password)
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.refreshSeen = append(f.refreshSeen, refreshToken)
	fn := f.refresh
	f.mu.Unlock()
	return fn(refreshToken)
}

func (f *fakeAuth) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAuth) LoginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls
}

type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string       { return e.msg }
func (e *statusError) UserMessage() string { return e.msg }

type harness struct {
	t       *testing.T
	km      *token.KeyManager
	clock   *fakeClock
	auth    *fakeAuth
	storage *storage.MemoryStorage
	manager *Manager
	user    *models.User
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	km, err := token.NewKeyManager()
	require.NoError(t, err)

	h := &harness{
		t:       t,
		km:      km,
		clock:   newFakeClock(),
		storage: storage.NewMemoryStorage(),
		user:    &models.User{ID: "1", Email: "a@b.com", FullName: "Ana", Role: "owner"},
	}

	h.auth = &fakeAuth{
		login: func(email, password string) (*models.TokenSet, error) {
			if password != "pw" {
				return nil, &statusError{status: 401, msg: "Incorrect email or password"}
			}
			return &models.TokenSet{User: h.user, AccessToken: h.issue(time.Hour), RefreshToken: "R1"}, nil
		},
		refresh: func(refreshToken string) (*models.TokenSet, error) {
			return &models.TokenSet{AccessToken: h.issue(time.Hour)}, nil
		},
	}

	cfg := Config{
		Storage: h.storage,
		Auth:    h.auth,
		Clock:   h.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.manager, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(h.manager.Close)

	return h
}

// issue mints an access token expiring ttl after the fake clock's now.
func (h *harness) issue(ttl time.Duration) string {
	h.t.Helper()
	tok, err := h.km.Issue(string(h.user.ID), token.Claims{Email: h.user.Email}, ttl, h.clock.Now())
	require.NoError(h.t, err)
	return tok
}

func (h *harness) stored(key string) (string, bool) {
	v, err := h.storage.Get(context.Background(), key)
	if err != nil {
		return "", false
	}
	return v, true
}

// seed writes a persisted session as a previous process would have left it.
func (h *harness) seed(ps persistedState) {
	h.t.Helper()
	raw, err := encodeSnapshot(ps)
	require.NoError(h.t, err)
	require.NoError(h.t, h.storage.SetMany(context.Background(), map[string]string{
		SnapshotKey:     raw,
		AccessTokenKey:  ps.AccessToken,
		RefreshTokenKey: ps.RefreshToken,
	}))
}
