package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManager_SignVerify(t *testing.T) {
	km, err := NewKeyManager()
	require.NoError(t, err)
	assert.NotEmpty(t, km.Kid())

	tok, err := km.Issue("user-1", Claims{Email: "a@b.com"}, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := km.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "atendo", claims.Issuer)
	assert.Equal(t, "a@b.com", claims.Email)
}

func TestKeyManager_VerifyRejects(t *testing.T) {
	km, err := NewKeyManager()
	require.NoError(t, err)

	t.Run("expired token", func(t *testing.T) {
		tok, err := km.Issue("user-1", Claims{}, -time.Minute, time.Now())
		require.NoError(t, err)

		_, err = km.Verify(tok)
		assert.Error(t, err)
	})

	t.Run("token from another key", func(t *testing.T) {
		other, err := NewKeyManager()
		require.NoError(t, err)
		tok, err := other.Issue("user-1", Claims{}, time.Hour, time.Now())
		require.NoError(t, err)

		_, err = km.Verify(tok)
		assert.Error(t, err)
	})
}

func TestNewKeyManagerFromPEM(t *testing.T) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	first, err := NewKeyManagerFromPEM(string(keyPEM))
	require.NoError(t, err)
	second, err := NewKeyManagerFromPEM(string(keyPEM))
	require.NoError(t, err)

	// Same key, same kid
	assert.Equal(t, first.Kid(), second.Kid())

	_, err = NewKeyManagerFromPEM("not pem")
	assert.Error(t, err)
}

func TestKeyManager_JWK(t *testing.T) {
	km, err := NewKeyManager()
	require.NoError(t, err)

	jwk := km.JWK()
	assert.Equal(t, "EC", jwk["kty"])
	assert.Equal(t, "ES256", jwk["alg"])
	assert.Equal(t, km.Kid(), jwk["kid"])
	assert.NotEmpty(t, jwk["x"])
	assert.NotEmpty(t, jwk["y"])
}
