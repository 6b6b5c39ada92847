package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atendo/atendo/internal/authstub"
	"github.com/atendo/atendo/internal/config"
	"github.com/atendo/atendo/internal/session"
	"github.com/atendo/atendo/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	stub    *authstub.Server
	server  *httptest.Server
	globals *Globals
	out     *bytes.Buffer
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	stub, err := authstub.New(authstub.Config{})
	require.NoError(t, err)
	_, err = stub.AddAccount(context.Background(), "ana@salao.com", "pw", "Ana Silva", "owner")
	require.NoError(t, err)

	server := httptest.NewServer(stub.Handler())
	t.Cleanup(server.Close)

	dir := t.TempDir()
	out := &bytes.Buffer{}

	previous := stdout
	stdout = out
	t.Cleanup(func() { stdout = previous })

	return &cliEnv{
		stub:   stub,
		server: server,
		out:    out,
		globals: &Globals{
			Version:  "test",
			Config:   filepath.Join(dir, "config.yaml"),
			Server:   server.URL,
			StateDir: filepath.Join(dir, "state"),
		},
	}
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	cmd := &LoginCmd{Email: "ana@salao.com", Password: "pw"}
	require.NoError(t, cmd.Run(context.Background(), e.globals))
	e.out.Reset()
}

func (e *cliEnv) status(t *testing.T) statusOutput {
	t.Helper()
	e.out.Reset()
	require.NoError(t, (&StatusCmd{JSON: true}).Run(context.Background(), e.globals))

	var out statusOutput
	require.NoError(t, json.Unmarshal(e.out.Bytes(), &out))
	e.out.Reset()
	return out
}

func TestLoginCmd(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	cmd := &LoginCmd{Email: "ana@salao.com", Password: "pw"}
	require.NoError(t, cmd.Run(ctx, env.globals))
	assert.Contains(t, env.out.String(), "Logged in as Ana Silva (ana@salao.com)")
	assert.Contains(t, env.out.String(), "Access token refreshes at")

	// persisted for the next process
	st, err := storage.NewFileStorage(env.globals.StateDir)
	require.NoError(t, err)
	raw, err := st.Get(ctx, session.SnapshotKey)
	require.NoError(t, err)
	assert.Contains(t, raw, "ana@salao.com")
}

func TestLoginCmd_Rejected(t *testing.T) {
	env := newCLIEnv(t)

	err := (&LoginCmd{Email: "ana@salao.com", Password: "wrong"}).Run(context.Background(), env.globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect email or password")
	assert.False(t, env.status(t).Authenticated)
}

func TestLoginCmd_PasswordFromStdin(t *testing.T) {
	env := newCLIEnv(t)

	previous := stdin
	stdin = strings.NewReader("pw\n")
	t.Cleanup(func() { stdin = previous })

	require.NoError(t, (&LoginCmd{Email: "ana@salao.com"}).Run(context.Background(), env.globals))
	assert.True(t, env.status(t).Authenticated)
}

func TestLoginCmd_Remember(t *testing.T) {
	env := newCLIEnv(t)

	require.NoError(t, (&LoginCmd{Email: "ana@salao.com", Password: "pw", Remember: true}).Run(context.Background(), env.globals))

	cfg, err := config.Load(env.globals.Config)
	require.NoError(t, err)
	assert.Equal(t, "ana@salao.com", cfg.Email)

	// the remembered email is used when none is given
	env.out.Reset()
	require.NoError(t, (&LoginCmd{Password: "pw"}).Run(context.Background(), env.globals))
	assert.Contains(t, env.out.String(), "ana@salao.com")
}

func TestLoginCmd_MissingEmail(t *testing.T) {
	env := newCLIEnv(t)

	err := (&LoginCmd{Password: "pw"}).Run(context.Background(), env.globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
}

func TestStatusCmd(t *testing.T) {
	env := newCLIEnv(t)

	t.Run("logged out", func(t *testing.T) {
		require.NoError(t, (&StatusCmd{}).Run(context.Background(), env.globals))
		assert.Contains(t, env.out.String(), "Not logged in")
		env.out.Reset()
	})

	env.login(t)

	t.Run("text", func(t *testing.T) {
		require.NoError(t, (&StatusCmd{}).Run(context.Background(), env.globals))
		out := env.out.String()
		assert.Contains(t, out, "Logged in as Ana Silva <ana@salao.com>")
		assert.Contains(t, out, "Role:         owner")
		assert.Contains(t, out, "Next refresh:")
		env.out.Reset()
	})

	t.Run("json", func(t *testing.T) {
		out := env.status(t)
		assert.True(t, out.Authenticated)
		assert.Equal(t, "ana@salao.com", out.Email)
		assert.NotEmpty(t, out.Token)
		require.NotNil(t, out.ExpiresAt)
		require.NotNil(t, out.NextRefresh)
		assert.True(t, out.NextRefresh.Before(*out.ExpiresAt))
		assert.Equal(t, env.server.URL+"/auth/login", out.LoginURL)
		assert.Equal(t, filepath.Join(env.globals.StateDir, storage.DocumentName), out.StatePath)
	})
}

func TestLogoutCmd(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	require.NoError(t, (&LogoutCmd{}).Run(context.Background(), env.globals))
	assert.Equal(t, "Logged out\n", env.out.String())

	assert.False(t, env.status(t).Authenticated)

	// idempotent
	require.NoError(t, (&LogoutCmd{}).Run(context.Background(), env.globals))
}

func TestRefreshCmd(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	err := (&RefreshCmd{}).Run(ctx, env.globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	env.login(t)
	before := env.status(t).Token

	require.NoError(t, (&RefreshCmd{}).Run(ctx, env.globals))
	assert.Contains(t, env.out.String(), "Access token refreshed")
	assert.Equal(t, 1, env.stub.Calls(authstub.EndpointRefresh))

	after := env.status(t)
	assert.True(t, after.Authenticated)
	assert.NotEqual(t, before, after.Token)
}

func TestRefreshCmd_SessionRevoked(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	env.stub.ForceStatus(authstub.EndpointRefresh, 401)

	err := (&RefreshCmd{}).Run(context.Background(), env.globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session has ended")

	assert.False(t, env.status(t).Authenticated)
}

func TestWhoamiCmd(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	err := (&WhoamiCmd{}).Run(ctx, env.globals)
	require.Error(t, err)

	env.login(t)

	require.NoError(t, (&WhoamiCmd{}).Run(ctx, env.globals))
	out := env.out.String()
	assert.Contains(t, out, "Ana Silva <ana@salao.com>")
	assert.Contains(t, out, "role: owner")
	assert.Contains(t, out, "company: ")
	assert.Equal(t, 1, env.stub.Calls(authstub.EndpointMe))
}

func TestWhoamiCmd_AfterSwitchingUsers(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	_, err := env.stub.AddAccount(ctx, "bia@salao.com", "pw", "Bia Costa", "staff")
	require.NoError(t, err)

	env.login(t)
	require.NoError(t, (&WhoamiCmd{}).Run(ctx, env.globals))
	require.NoError(t, (&LogoutCmd{}).Run(ctx, env.globals))

	require.NoError(t, (&LoginCmd{Email: "bia@salao.com", Password: "pw"}).Run(ctx, env.globals))
	env.out.Reset()

	require.NoError(t, (&WhoamiCmd{}).Run(ctx, env.globals))
	assert.Contains(t, env.out.String(), "Bia Costa <bia@salao.com>")
	assert.NotContains(t, env.out.String(), "ana@salao.com")

	st := env.status(t)
	assert.Equal(t, "bia@salao.com", st.Email)
	assert.Equal(t, "Bia Costa", st.Name)
	assert.Equal(t, "staff", st.Role)
}

func TestTokenCmd(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	err := (&TokenCmd{}).Run(ctx, env.globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	env.login(t)

	require.NoError(t, (&TokenCmd{Header: true, Expiry: true}).Run(ctx, env.globals))
	lines := strings.Split(strings.TrimSpace(env.out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Bearer ey"))

	claims, err := env.stub.Keys().Verify(strings.TrimPrefix(lines[0], "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "ana@salao.com", claims.Email)
}

func TestWatchCmd(t *testing.T) {
	env := newCLIEnv(t)

	err := (&WatchCmd{Location: "/", For: 10 * time.Millisecond}).Run(context.Background(), env.globals)
	require.Error(t, err)

	env.login(t)
	require.NoError(t, (&WatchCmd{Location: "/dashboard", For: 10 * time.Millisecond}).Run(context.Background(), env.globals))
	assert.True(t, env.status(t).Authenticated)
}

func TestOpenSession_CorruptStateIsCleared(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	require.NoError(t, os.WriteFile(filepath.Join(env.globals.StateDir, storage.DocumentName), []byte("{garbage"), 0600))

	out := env.status(t)
	assert.False(t, out.Authenticated)

	// the logout during start-up rewrote the document
	st, err := storage.NewFileStorage(env.globals.StateDir)
	require.NoError(t, err)
	_, err = st.Get(context.Background(), session.SnapshotKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
