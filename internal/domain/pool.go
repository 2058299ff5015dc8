package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// LiquidityPool holds the AMM reserves for one market. The constant-product
// invariant ReserveYes * ReserveNo is preserved (net of fees) across trades.
type LiquidityPool struct {
	MarketID   string
	ReserveYes *apd.Decimal
	ReserveNo  *apd.Decimal
	FeeRate    *apd.Decimal // proportional fee, e.g. 0.02

	// Cumulative traded USDC per outcome side.
	TradeVolumeYes *apd.Decimal
	TradeVolumeNo  *apd.Decimal

	UpdatedAt time.Time
}
