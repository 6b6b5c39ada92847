package authstub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/atendo/atendo/internal/models"
	"github.com/google/uuid"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Accounts persists the accounts that can log in. Emails are matched
// case-insensitively.
type Accounts interface {
	Create(ctx context.Context, account *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	Disable(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Sessions persists refresh sessions, found by the hash of their current
// refresh token.
type Sessions interface {
	Create(ctx context.Context, session *models.Session) error
	GetByRefreshTokenHash(ctx context.Context, hash string, now time.Time) (*models.Session, error)
	Rotate(ctx context.Context, sessionID uuid.UUID, newHash string, now time.Time) error
	Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

var (
	_ Accounts = (*MemoryAccountStore)(nil)
	_ Sessions = (*MemorySessionStore)(nil)
)

// MemoryAccountStore keeps accounts in memory, indexed by lower-cased email.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	byID     map[uuid.UUID]*models.Account
}

// NewMemoryAccountStore creates an empty account store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*models.Account),
		byID:     make(map[uuid.UUID]*models.Account),
	}
}

// Create adds an account.
func (s *MemoryAccountStore) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(account.Email)
	if _, exists := s.accounts[key]; exists {
		return ErrAccountExists
	}

	// Clone to avoid external modifications
	clone := *account
	s.accounts[key] = &clone
	s.byID[account.UserID] = &clone

	return nil
}

// GetByEmail returns an account by email.
func (s *MemoryAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, ErrAccountNotFound
	}

	clone := *account
	return &clone, nil
}

// Get returns an account by user ID.
func (s *MemoryAccountStore) Get(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.byID[userID]
	if !exists {
		return nil, ErrAccountNotFound
	}

	clone := *account
	return &clone, nil
}

// Disable marks an account disabled; its sessions stop refreshing.
func (s *MemoryAccountStore) Disable(ctx context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.byID[userID]
	if !exists {
		return ErrAccountNotFound
	}
	account.DisabledAt = &at
	return nil
}

// MemorySessionStore keeps refresh sessions in memory.
type MemorySessionStore struct {
	mu sync.RWMutex

	sessions map[uuid.UUID]*models.Session // session_id -> Session
	byHash   map[string]uuid.UUID          // refresh_token_hash -> session_id
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[uuid.UUID]*models.Session),
		byHash:   make(map[string]uuid.UUID),
	}
}

// Create stores a new session.
func (s *MemorySessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.SessionID] = &clone
	s.byHash[session.RefreshTokenHash] = session.SessionID

	return nil
}

// GetByRefreshTokenHash finds the session whose current refresh token has the given hash.
func (s *MemorySessionStore) GetByRefreshTokenHash(ctx context.Context, hash string, now time.Time) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.byHash[hash]
	if !exists {
		return nil, ErrSessionNotFound
	}

	session := s.sessions[sessionID]
	if session.IsExpired(now) {
		return nil, ErrSessionExpired
	}

	clone := *session
	return &clone, nil
}

// Rotate swaps the refresh token hash of a session and records its use.
// The old hash stops matching immediately.
func (s *MemorySessionStore) Rotate(ctx context.Context, sessionID uuid.UUID, newHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	delete(s.byHash, session.RefreshTokenHash)
	session.RefreshTokenHash = newHash
	session.LastUsedAt = now
	s.byHash[newHash] = sessionID

	return nil
}

// Touch records a use of the session without rotating.
func (s *MemorySessionStore) Touch(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	session.LastUsedAt = now
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	delete(s.byHash, session.RefreshTokenHash)
	delete(s.sessions, sessionID)

	return nil
}

// DeleteExpired removes every expired session and returns how many went.
func (s *MemorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []uuid.UUID
	for id, session := range s.sessions {
		if session.IsExpired(now) {
			toDelete = append(toDelete, id)
		}
	}

	for _, sessionID := range toDelete {
		delete(s.byHash, s.sessions[sessionID].RefreshTokenHash)
		delete(s.sessions, sessionID)
	}

	return len(toDelete), nil
}

// Len returns the number of live sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
