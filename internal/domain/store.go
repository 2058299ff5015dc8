package domain

import (
	"context"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TxManager runs a function inside a single atomic unit of work. Either all
// store mutations performed through ctx apply, or none do. Implementations
// must support nesting by joining the enclosing transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MarketStore persists markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// GetByIDForUpdate locks the market row for the duration of the
	// enclosing unit of work.
	GetByIDForUpdate(ctx context.Context, id string) (Market, error)
	Update(ctx context.Context, m Market) error
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// AddVolume accumulates commit-stake volume on one outcome side.
	AddVolume(ctx context.Context, marketID string, outcome Outcome, amount *apd.Decimal) error
}

// PredictionStore persists commit-reveal predictions. Create must enforce the
// one-prediction-per-(user, market) invariant, returning ErrAlreadyCommitted
// when a concurrent or earlier commit won.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	GetByIDForUpdate(ctx context.Context, id string) (Prediction, error)
	GetByUserAndMarket(ctx context.Context, userID, marketID string) (Prediction, error)
	Update(ctx context.Context, p Prediction) error
	ListByMarket(ctx context.Context, marketID string) ([]Prediction, error)
	UserStats(ctx context.Context, userID string) (PredictionStats, error)
}

// PositionStore persists AMM share positions, one row per
// (user, market, outcome).
type PositionStore interface {
	Get(ctx context.Context, userID, marketID string, outcome Outcome) (SharePosition, error)
	GetForUpdate(ctx context.Context, userID, marketID string, outcome Outcome) (SharePosition, error)
	Upsert(ctx context.Context, pos SharePosition) error
	ListByUser(ctx context.Context, userID string) ([]SharePosition, error)
}

// PoolStore persists AMM liquidity pools, one per market.
type PoolStore interface {
	Create(ctx context.Context, pool LiquidityPool) error
	GetByMarket(ctx context.Context, marketID string) (LiquidityPool, error)
	GetByMarketForUpdate(ctx context.Context, marketID string) (LiquidityPool, error)
	Update(ctx context.Context, pool LiquidityPool) error
}

// TradeStore persists executed AMM trades.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
}

// AttestationStore persists oracle attestations. Create must enforce
// uniqueness per (market, oracle), returning ErrDuplicateAttestation.
type AttestationStore interface {
	Create(ctx context.Context, a Attestation) error
	ListByMarket(ctx context.Context, marketID string) ([]Attestation, error)
}

// OracleStore persists the oracle registry.
type OracleStore interface {
	Create(ctx context.Context, o Oracle) error
	GetByID(ctx context.Context, id string) (Oracle, error)
	CountActive(ctx context.Context) (int, error)
	ListActive(ctx context.Context) ([]Oracle, error)
}

// DisputeStore persists disputes.
type DisputeStore interface {
	Create(ctx context.Context, d Dispute) error
	GetByID(ctx context.Context, id string) (Dispute, error)
	GetByIDForUpdate(ctx context.Context, id string) (Dispute, error)
	Update(ctx context.Context, d Dispute) error
	ListByMarket(ctx context.Context, marketID string) ([]Dispute, error)
}

// AccountStore persists user balances. Debit returns
// ErrInsufficientBalance without mutating when the balance cannot cover the
// amount; both Debit and Credit must be race-safe under concurrent callers.
type AccountStore interface {
	Get(ctx context.Context, userID string) (Account, error)
	Credit(ctx context.Context, userID string, amount *apd.Decimal) error
	Debit(ctx context.Context, userID string, amount *apd.Decimal) error
}
