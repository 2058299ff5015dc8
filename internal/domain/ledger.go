package domain

import (
	"context"

	"github.com/cockroachdb/apd/v3"
)

// LedgerReceipt is the acknowledgement returned by the external settlement
// network for a submitted operation.
type LedgerReceipt struct {
	TxHash string
}

// LedgerTradeParams carries the fields of an AMM trade mirrored to the
// external ledger network.
type LedgerTradeParams struct {
	MarketRef  string
	UserID     string
	Outcome    Outcome
	Shares     *apd.Decimal
	UsdcAmount *apd.Decimal
}

// LedgerClient is the narrow interface to the external ledger/settlement
// network. Calls are fallible remote operations; a failure aborts the local
// unit of work before any balance mutation, so callers may safely retry.
type LedgerClient interface {
	CommitPrediction(ctx context.Context, marketRef, commitmentHash string, amount *apd.Decimal) (LedgerReceipt, error)
	RevealPrediction(ctx context.Context, marketRef string, outcome Outcome, salt string) (LedgerReceipt, error)
	BuyShares(ctx context.Context, params LedgerTradeParams) (LedgerReceipt, error)
	SellShares(ctx context.Context, params LedgerTradeParams) (LedgerReceipt, error)
}
