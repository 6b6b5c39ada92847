package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atendo/atendo/internal/authstub"
	"github.com/atendo/atendo/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var _ authstub.Sessions = (*SessionStore)(nil)

// SessionStore implements authstub.Sessions using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create creates a new session in the database.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, user_id, refresh_token_hash,
			created_at, expires_at, last_used_at,
			user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := s.pool.Exec(ctx, query,
		session.SessionID,
		session.UserID,
		session.RefreshTokenHash,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastUsedAt,
		session.UserAgent,
		session.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("user_id", session.UserID.String()).
		Msg("Created session")

	return nil
}

// GetByRefreshTokenHash finds the session whose current refresh token has the given hash.
func (s *SessionStore) GetByRefreshTokenHash(ctx context.Context, hash string, now time.Time) (*models.Session, error) {
	query := `
		SELECT
			session_id, user_id, refresh_token_hash,
			created_at, expires_at, last_used_at,
			user_agent, ip_address
		FROM sessions
		WHERE refresh_token_hash = $1
	`

	var session models.Session
	err := s.pool.QueryRow(ctx, query, hash).Scan(
		&session.SessionID,
		&session.UserID,
		&session.RefreshTokenHash,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LastUsedAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authstub.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}

	if session.IsExpired(now) {
		return nil, authstub.ErrSessionExpired
	}

	return &session, nil
}

// Rotate swaps the refresh token hash; the old hash stops matching at once.
func (s *SessionStore) Rotate(ctx context.Context, sessionID uuid.UUID, newHash string, now time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $2, last_used_at = $3
		WHERE session_id = $1
	`, sessionID, newHash, now)
	if err != nil {
		return fmt.Errorf("failed to rotate session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return authstub.ErrSessionNotFound
	}

	return nil
}

// Touch updates the last_used_at timestamp for a session.
func (s *SessionStore) Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	result, err := s.pool.Exec(ctx, `UPDATE sessions SET last_used_at = $2 WHERE session_id = $1`, sessionID, now)
	if err != nil {
		return fmt.Errorf("failed to update session last_used_at: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return authstub.ErrSessionNotFound
	}

	return nil
}

// Delete deletes a session by ID.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return authstub.ErrSessionNotFound
	}

	log.Debug().Str("session_id", sessionID.String()).Msg("Deleted session")

	return nil
}

// DeleteExpired deletes all expired sessions.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Deleted expired sessions")
	}

	return count, nil
}
