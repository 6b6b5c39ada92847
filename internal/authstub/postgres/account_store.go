package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atendo/atendo/internal/authstub"
	"github.com/atendo/atendo/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var _ authstub.Accounts = (*AccountStore)(nil)

// AccountStore implements authstub.Accounts using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a PostgreSQL-backed account store.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountColumns = `user_id, company_id, email, full_name, role, password_hash, created_at, disabled_at`

func (s *AccountStore) Create(ctx context.Context, account *models.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.UserID,
		account.CompanyID,
		account.Email,
		account.FullName,
		account.Role,
		account.PasswordHash,
		account.CreatedAt,
		account.DisabledAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().Str("user_id", account.UserID.String()).Msg("Created account")

	return nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanAccount(row)
}

func (s *AccountStore) Get(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

func (s *AccountStore) Disable(ctx context.Context, userID uuid.UUID, at time.Time) error {
	result, err := s.pool.Exec(ctx, `UPDATE accounts SET disabled_at = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to disable account: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return authstub.ErrAccountNotFound
	}

	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.UserID,
		&account.CompanyID,
		&account.Email,
		&account.FullName,
		&account.Role,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.DisabledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authstub.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", mapPostgresError(err))
	}
	return &account, nil
}
