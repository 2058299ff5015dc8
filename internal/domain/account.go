package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Account is a user's engine-side USDC balance. Deposits and withdrawals
// against the external ledger network happen outside this engine; the
// engine only escrows stakes and credits payouts.
type Account struct {
	UserID    string
	Balance   *apd.Decimal
	UpdatedAt time.Time
}
