package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

type txKey struct{}

// TxManager implements domain.TxManager on a pgx connection pool. The open
// transaction rides in the context; stores resolve their querier from it, so
// every store call inside WithinTx joins the same transaction. Nested
// WithinTx calls join the enclosing transaction instead of opening a new one.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a TxManager over pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithinTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// q returns the context's transaction if one is open, else the pool.
func q(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// decArg renders a decimal for a NUMERIC bind parameter.
func decArg(d *apd.Decimal) string {
	if d == nil {
		return "0"
	}
	return d.Text('f')
}

// scanDec parses a NUMERIC value selected with a ::text cast.
func scanDec(s string) (*apd.Decimal, error) {
	if s == "" {
		return domain.DecZero(), nil
	}
	return domain.ParseDec(s)
}

// outcomeArg renders an optional outcome for a nullable SMALLINT column.
func outcomeArg(o *domain.Outcome) any {
	if o == nil {
		return nil
	}
	return int16(*o)
}

// outcomeFromNullable converts a scanned nullable SMALLINT back.
func outcomeFromNullable(v *int16) *domain.Outcome {
	if v == nil {
		return nil
	}
	o := domain.Outcome(*v)
	return &o
}
