package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
)

// KeyManager manages an ECDSA keypair for signing access tokens.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	kid        string // Key ID (fingerprint)
}

// NewKeyManager creates a new KeyManager with a fresh ECDSA P-256 keypair.
// The key ID (kid) is computed as the base58-encoded SHA256 hash of the public key DER bytes.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	return newKeyManager(privateKey)
}

// NewKeyManagerFromPEM loads a PEM-encoded ECDSA private key.
func NewKeyManagerFromPEM(privateKeyPEM string) (*KeyManager, error) {
	privateKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	return newKeyManager(privateKey)
}

func newKeyManager(privateKey *ecdsa.PrivateKey) (*KeyManager, error) {
	pubKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	hash := sha256.Sum256(pubKeyDER)

	return &KeyManager{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		kid:        base58.Encode(hash[:]),
	}, nil
}

// Kid returns the key ID (fingerprint) for this keypair.
func (km *KeyManager) Kid() string {
	return km.kid
}

// Sign signs claims with the private key. The header carries the kid.
func (km *KeyManager) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = km.kid

	tokenString, err := t.SignedString(km.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// Issue signs an access token for subject valid for ttl from now.
func (km *KeyManager) Issue(subject string, claims Claims, ttl time.Duration, now time.Time) (string, error) {
	claims.Subject = subject
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Issuer == "" {
		claims.Issuer = "atendo"
	}
	return km.Sign(claims)
}

// Verify checks the signature and expiry of an access token.
func (km *KeyManager) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodES256 {
			return nil, errors.New("invalid signing method")
		}
		return km.publicKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid claims")
	}

	return claims, nil
}

// JWK returns the public key in JWK (JSON Web Key) format.
func (km *KeyManager) JWK() map[string]any {
	return map[string]any{
		"kty": "EC",
		"use": "sig",
		"crv": "P-256",
		"kid": km.kid,
		"x":   base64.RawURLEncoding.EncodeToString(km.publicKey.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(km.publicKey.Y.Bytes()),
		"alg": "ES256",
	}
}
