package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// TradeSide distinguishes buys from sells against the AMM pool.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is an immutable record of one executed AMM trade.
type Trade struct {
	ID       string
	UserID   string
	MarketID string
	Outcome  Outcome
	Side     TradeSide

	Shares       *apd.Decimal
	UsdcAmount   *apd.Decimal // gross spend on buys, net payout on sells
	PricePerUnit *apd.Decimal
	FeeAmount    *apd.Decimal

	TxHash     string
	ExecutedAt time.Time
}
