package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// SharePosition is a user's holding of outcome shares in one market,
// accumulated through AMM trades. Quantity never goes negative; selling
// moves quantity into SoldQuantity and realizes P&L atomically.
type SharePosition struct {
	ID       string
	UserID   string
	MarketID string
	Outcome  Outcome

	Quantity     *apd.Decimal
	CostBasis    *apd.Decimal // total USDC paid for the currently held quantity
	SoldQuantity *apd.Decimal
	RealizedPnl  *apd.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}
