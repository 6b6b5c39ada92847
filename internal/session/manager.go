package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/atendo/atendo/internal/models"
	"github.com/atendo/atendo/internal/telemetry"
	"github.com/atendo/atendo/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Manager owns an authenticated session: its tokens, the proactive refresh
// timer and the persisted snapshot. All mutations go through its methods.
type Manager struct {
	cfg     Config
	log     zerolog.Logger
	metrics *telemetry.Metrics

	mu            sync.Mutex
	user          *models.User
	accessToken   string
	refreshToken  string
	authenticated bool
	errMsg        string
	inflight      int

	// generation changes on login and logout; refresh results from an older
	// generation are discarded.
	generation uint64

	// epoch changes on login, logout and every timer (re)schedule; a timer
	// callback carrying an older epoch does nothing.
	epoch       uint64
	timer       Timer
	nextRefresh time.Time
	closed      bool

	logins    int
	loginDone chan struct{}

	refreshes singleflight.Group

	hydrateOnce sync.Once
	hydrated    bool
	hydratedCh  chan struct{}

	listenersMu  sync.Mutex
	listeners    map[int]func(State)
	nextListener int

	// pending holds states not yet handed to listeners; one goroutine at a
	// time drains it so listeners see states in the order they were taken.
	deliverMu  sync.Mutex
	pending    []State
	delivering bool
}

// New creates a session manager. The session starts empty; call Rehydrate to
// restore a persisted one.
func New(cfg Config) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:        cfg,
		log:        log.With().Str("component", "session").Logger(),
		metrics:    telemetry.GetMetrics(),
		hydratedCh: make(chan struct{}),
		listeners:  make(map[int]func(State)),
	}, nil
}

func (m *Manager) logger() *zerolog.Logger {
	return &m.log
}

// State returns a copy of the current session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	return State{
		User:            m.user.Clone(),
		AccessToken:     m.accessToken,
		RefreshToken:    m.refreshToken,
		IsAuthenticated: m.authenticated,
		IsLoading:       m.inflight > 0,
		Error:           m.errMsg,
		HasHydrated:     m.hydrated,
	}
}

// AccessToken returns the current access token, or "".
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// NextRefreshAt returns when the pending proactive refresh fires.
func (m *Manager) NextRefreshAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return time.Time{}, false
	}
	return m.nextRefresh, true
}

// Subscribe registers fn to receive the session state after every change.
// States arrive in the order the changes happened. fn runs outside the
// manager lock and may call back into the manager; a change made from fn is
// delivered after fn returns.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	state := m.stateLocked()
	m.deliverMu.Lock()
	m.mu.Unlock()

	m.pending = append(m.pending, state)
	if m.delivering {
		m.deliverMu.Unlock()
		return
	}
	m.delivering = true

	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.deliverMu.Unlock()

		m.dispatch(next)

		m.deliverMu.Lock()
	}
	m.pending = nil
	m.delivering = false
	m.deliverMu.Unlock()
}

func (m *Manager) dispatch(state State) {
	m.listenersMu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Login exchanges credentials for a session. On failure the session stays
// unauthenticated and State().Error carries a message for display.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		m.mu.Lock()
		m.errMsg = ErrMissingCredentials.Error()
		m.mu.Unlock()
		m.notify()
		return ErrMissingCredentials
	}

	ctx, span := telemetry.Tracer().Start(ctx, "session.Login")
	defer span.End()

	m.beginLogin()
	defer m.endLogin()
	m.notify()

	m.metrics.LoginsTotal.Add(ctx, 1)

	ts, err := m.cfg.Auth.Login(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		m.failLogin(ctx, errorMessage(err))
		m.logger().Warn().Err(err).Str("email", email).Msg("login failed")
		return err
	}

	if ts.User == nil {
		m.failLogin(ctx, "login response did not include a user")
		return errors.New("login response missing user")
	}

	claims, err := m.cfg.Decoder(ts.AccessToken)
	if err != nil {
		m.failLogin(ctx, ErrInvalidToken.Error())
		m.logger().Warn().Err(err).Msg("login returned an undecodable access token")
		return errors.Join(ErrInvalidToken, err)
	}

	m.mu.Lock()
	m.generation++
	m.establishLocked(ts.User, ts.AccessToken, ts.RefreshToken, claims)
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.logger().Info().
		Str("userID", string(ts.User.ID)).
		Str("token", token.Fingerprint(ts.AccessToken)).
		Time("expiresAt", claims.Expiry()).
		Msg("session established")

	return nil
}

func (m *Manager) beginLogin() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logins == 0 {
		m.loginDone = make(chan struct{})
	}
	m.logins++
	m.inflight++
	m.errMsg = ""
}

func (m *Manager) endLogin() {
	m.mu.Lock()
	m.logins--
	m.inflight--
	if m.logins == 0 {
		close(m.loginDone)
		m.loginDone = nil
	}
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) failLogin(ctx context.Context, msg string) {
	m.metrics.LoginErrorsTotal.Add(ctx, 1)

	m.mu.Lock()
	m.errMsg = msg
	m.mu.Unlock()
}

// errorMessage picks the text to show for a failed login.
func errorMessage(err error) string {
	var display interface{ UserMessage() string }
	if errors.As(err, &display) && display.UserMessage() != "" {
		return display.UserMessage()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "login was cancelled"
	}
	return "unable to reach the authentication server"
}

// establishLocked installs a session and schedules its proactive refresh at
// expiry minus RefreshSkew. No timer is scheduled when that moment has passed.
func (m *Manager) establishLocked(user *models.User, accessToken, refreshToken string, claims *token.Claims) {
	m.user = user.Clone()
	m.accessToken = accessToken
	m.refreshToken = refreshToken
	m.errMsg = ""
	m.recomputeLocked()

	delay := claims.ExpiresIn(m.cfg.Clock.Now()) - m.cfg.RefreshSkew
	if delay > 0 {
		m.scheduleRefreshLocked(delay)
	} else {
		m.cancelTimerLocked()
	}
}

func (m *Manager) recomputeLocked() {
	m.authenticated = m.user != nil && m.accessToken != ""
}

// UpdateUser patches the current user. It reports false when there is no user.
func (m *Manager) UpdateUser(ctx context.Context, patch models.UserPatch) bool {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return false
	}
	m.user = patch.Apply(m.user)
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.notify()
	return true
}

// Logout tears the session down. It is safe to call at any time, repeatedly.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.endSessionLocked(ctx)
	m.mu.Unlock()

	m.notify()
}

// logoutGeneration ends the session only if it is still the given generation.
func (m *Manager) logoutGeneration(ctx context.Context, generation uint64) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return
	}
	m.endSessionLocked(ctx)
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) endSessionLocked(ctx context.Context) {
	hadSession := m.authenticated || m.refreshToken != ""

	m.generation++
	m.cancelTimerLocked()
	m.user = nil
	m.accessToken = ""
	m.refreshToken = ""
	m.authenticated = false
	m.errMsg = ""
	m.purgeLocked(ctx)

	if hadSession {
		m.metrics.LogoutsTotal.Add(ctx, 1)
		m.logger().Info().Msg("session ended")
	}
}

// Close stops the refresh timer without touching persisted state.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancelTimerLocked()
}

// scheduleRefreshLocked cancels any pending refresh and schedules a new one.
func (m *Manager) scheduleRefreshLocked(delay time.Duration) {
	m.cancelTimerLocked()
	if m.closed {
		return
	}

	epoch := m.epoch
	m.nextRefresh = m.cfg.Clock.Now().Add(delay)
	m.timer = m.cfg.Clock.AfterFunc(delay, func() {
		m.onRefreshTimer(epoch)
	})

	m.logger().Debug().Dur("in", delay).Time("at", m.nextRefresh).Msg("refresh scheduled")
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.nextRefresh = time.Time{}
	m.epoch++
}

func (m *Manager) onRefreshTimer(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.closed || !m.authenticated || m.refreshToken == "" {
		m.mu.Unlock()
		m.logger().Debug().Msg("stale refresh timer ignored")
		return
	}
	m.timer = nil
	m.nextRefresh = time.Time{}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()

	m.RefreshAccessToken(ctx)
}

// WaitHydrated blocks until Rehydrate has finished or ctx is done.
func (m *Manager) WaitHydrated(ctx context.Context) error {
	select {
	case <-m.hydratedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcome(result string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("outcome", result))
}
