package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a server-side refresh session.
// Only the SHA-256 hash of the refresh token is kept; the plain token lives with the client.
type Session struct {
	SessionID        uuid.UUID // UUIDv7
	UserID           uuid.UUID // Who is logged in
	RefreshTokenHash string    // hex SHA-256 of the current refresh token

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
