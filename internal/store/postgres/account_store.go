package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Debit is a
// guarded single-statement UPDATE, so balances cannot go negative even under
// concurrent spenders.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Get retrieves a user's account.
func (s *AccountStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	var (
		a       domain.Account
		balance string
	)
	err := q(ctx, s.pool).QueryRow(ctx,
		`SELECT user_id, balance::text, updated_at FROM accounts WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &balance, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", userID, err)
	}
	if a.Balance, err = scanDec(balance); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// Credit adds amount to the user's balance, creating the account if needed.
func (s *AccountStore) Credit(ctx context.Context, userID string, amount *apd.Decimal) error {
	const query = `
		INSERT INTO accounts (user_id, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`

	if _, err := q(ctx, s.pool).Exec(ctx, query, userID, decArg(amount)); err != nil {
		return fmt.Errorf("postgres: credit account %s: %w", userID, err)
	}
	return nil
}

// Debit subtracts amount from the user's balance. The balance check and the
// subtraction are one statement; zero rows affected means the funds were not
// there.
func (s *AccountStore) Debit(ctx context.Context, userID string, amount *apd.Decimal) error {
	const query = `
		UPDATE accounts SET
			balance    = balance - $2::numeric,
			updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2::numeric`

	tag, err := q(ctx, s.pool).Exec(ctx, query, userID, decArg(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit account %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}
