package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
)

// ErrMalformed is returned when a token cannot be decoded or lacks an expiry.
var ErrMalformed = errors.New("malformed token")

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email,omitempty"`
	Role      string   `json:"role,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	CompanyID string   `json:"company_id,omitempty"`
}

// Decoder extracts the payload of an access token.
type Decoder func(token string) (*Claims, error)

// Decode reads the payload of a JWT without verifying its signature.
// Clients never hold the signing key; the server stays authoritative.
func Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}

	return claims, nil
}

// Expiry returns the exp claim.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpiresIn returns the time left before exp, negative once expired.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	return c.Expiry().Sub(now)
}

// Expired reports whether exp has been reached.
func (c *Claims) Expired(now time.Time) bool {
	return !now.Before(c.Expiry())
}

// Fingerprint returns a short, non-reversible identifier for a token, safe for logs.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	fp := base58.Encode(hash[:])
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}
