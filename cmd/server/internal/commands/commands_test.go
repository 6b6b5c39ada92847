package commands

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atendo/atendo/internal/authapi"
	"github.com/atendo/atendo/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSigningKey(t *testing.T) string {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0600))
	return path
}

func TestParseAccount(t *testing.T) {
	tests := []struct {
		input                       string
		email, password, name, role string
		wantErr                     bool
	}{
		{input: "ana@salao.com:pw", email: "ana@salao.com", password: "pw"},
		{input: "ana@salao.com:pw:Ana Silva", email: "ana@salao.com", password: "pw", name: "Ana Silva"},
		{input: "ana@salao.com:pw:Ana Silva:owner", email: "ana@salao.com", password: "pw", name: "Ana Silva", role: "owner"},
		{input: "ana@salao.com:p:w:x:y", email: "ana@salao.com", password: "p", name: "w", role: "x:y"},
		{input: "ana@salao.com", wantErr: true},
		{input: ":pw", wantErr: true},
		{input: "ana@salao.com:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			email, password, name, role, err := parseAccount(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.email, email)
			assert.Equal(t, tt.password, password)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.role, role)
		})
	}
}

func TestServeCmd_NewServer(t *testing.T) {
	keyPath := writeSigningKey(t)

	cmd := &ServeCmd{
		SigningKey: keyPath,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Accounts:   []string{"ana@salao.com:pw:Ana Silva:owner"},
	}

	stub, err := cmd.newServer(context.Background(), nil, nil)
	require.NoError(t, err)

	expected, err := loadKeyManager(keyPath)
	require.NoError(t, err)
	assert.Equal(t, expected.Kid(), stub.Keys().Kid())

	_, err = (&ServeCmd{Accounts: []string{"broken"}}).newServer(context.Background(), nil, nil)
	assert.Error(t, err)

	_, err = (&ServeCmd{SigningKey: filepath.Join(t.TempDir(), "missing.pem")}).newServer(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestServeCmd_ServesUntilCancelled(t *testing.T) {
	cmd := &ServeCmd{Accounts: []string{"ana@salao.com:pw:Ana Silva:owner"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub, err := cmd.newServer(ctx, nil, nil)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- cmd.serve(ctx, listener, stub.Handler()) }()

	baseURL := fmt.Sprintf("http://%s", listener.Addr().String())
	auth, err := authapi.New(authapi.Config{BaseURL: baseURL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	ts, err := auth.Login(ctx, "ana@salao.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", ts.User.FullName)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get(baseURL + "/.well-known/jwks.json")
	assert.Error(t, err)
}

func TestServeCmd_OpenStores(t *testing.T) {
	accounts, sessions, closeStore, err := (&ServeCmd{StoreType: "memory"}).openStores(context.Background())
	require.NoError(t, err)
	assert.Nil(t, accounts)
	assert.Nil(t, sessions)
	closeStore()

	_, _, _, err = (&ServeCmd{StoreType: "postgres"}).openStores(context.Background())
	assert.ErrorContains(t, err, "connection string is required")
}

func TestServeCmd_TLSRequiresBothFiles(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cmd := &ServeCmd{Cert: "cert.pem"}
	err = cmd.serve(context.Background(), listener, http.NotFoundHandler())
	assert.Error(t, err)
}

func TestIssueTokenCmd(t *testing.T) {
	keyPath := writeSigningKey(t)

	out := &bytes.Buffer{}
	previous := stdout
	stdout = out
	t.Cleanup(func() { stdout = previous })

	cmd := &IssueTokenCmd{Email: "ana@salao.com", Subject: "user-1", Role: "owner", TTL: time.Hour, SigningKey: keyPath}
	require.NoError(t, cmd.Run(context.Background()))

	keys, err := loadKeyManager(keyPath)
	require.NoError(t, err)

	claims, err := keys.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ana@salao.com", claims.Email)
	assert.Equal(t, "owner", claims.Role)

	decoded, err := token.Decode(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), decoded.Expiry(), 5*time.Second)

	assert.Error(t, (&IssueTokenCmd{Email: "a@b.com", TTL: 0, SigningKey: keyPath}).Run(context.Background()))
}

func TestNonEmpty(t *testing.T) {
	assert.Nil(t, nonEmpty([]string{"", " "}))
	assert.Equal(t, []string{"https://app.atendo.com"}, nonEmpty([]string{"", " https://app.atendo.com "}))
}
