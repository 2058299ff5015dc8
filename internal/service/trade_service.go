package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/outcomelab/predmarket/internal/amm"
	"github.com/outcomelab/predmarket/internal/domain"
	"github.com/outcomelab/predmarket/internal/lifecycle"
)

// positionLockTTL bounds how long a buy/sell holds the per-position lock.
const positionLockTTL = 15 * time.Second

// defaultSellFloorRate is applied when the seller does not supply a minimum
// payout: 95% of the share count, i.e. an implied floor price of 0.95.
var defaultSellFloorRate = domain.MustDec("0.95")

// TradeService executes AMM share trades: constant-product quotes, slippage
// protection, position bookkeeping, and ledger mirroring.
type TradeService struct {
	markets   domain.MarketStore
	pools     domain.PoolStore
	positions domain.PositionStore
	trades    domain.TradeStore
	accounts  domain.AccountStore
	tx        domain.TxManager
	ledger    domain.LedgerClient
	locks     domain.LockManager
	prices    domain.PriceCache
	bus       domain.SignalBus
	sink      domain.NotificationSink
	logger    *slog.Logger
	now       func() time.Time
}

func NewTradeService(
	markets domain.MarketStore,
	pools domain.PoolStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	accounts domain.AccountStore,
	tx domain.TxManager,
	ledger domain.LedgerClient,
	locks domain.LockManager,
	prices domain.PriceCache,
	bus domain.SignalBus,
	sink domain.NotificationSink,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		markets:   markets,
		pools:     pools,
		positions: positions,
		trades:    trades,
		accounts:  accounts,
		tx:        tx,
		ledger:    ledger,
		locks:     locks,
		prices:    prices,
		bus:       bus,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

func positionLockKey(userID, marketID string, outcome domain.Outcome) string {
	return fmt.Sprintf("position:%s:%s:%s", userID, marketID, outcome.Label())
}

func (s *TradeService) tradableMarket(ctx context.Context, marketID string) (domain.Market, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return domain.Market{}, fmt.Errorf("trade_service: get market %s: %w", marketID, err)
	}
	if err := lifecycle.CanTrade(&market); err != nil {
		return domain.Market{}, err
	}
	return market, nil
}

// QuoteBuy prices spending usdcAmount on outcome shares without executing.
func (s *TradeService) QuoteBuy(ctx context.Context, marketID string, outcome domain.Outcome, usdcAmount *apd.Decimal) (amm.Quote, error) {
	if _, err := s.tradableMarket(ctx, marketID); err != nil {
		return amm.Quote{}, err
	}
	pool, err := s.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return amm.Quote{}, fmt.Errorf("trade_service: get pool %s: %w", marketID, err)
	}
	return amm.QuoteBuy(&pool, outcome, usdcAmount)
}

// QuoteSell prices selling shares of outcome without executing.
func (s *TradeService) QuoteSell(ctx context.Context, marketID string, outcome domain.Outcome, shares *apd.Decimal) (amm.Quote, error) {
	if _, err := s.tradableMarket(ctx, marketID); err != nil {
		return amm.Quote{}, err
	}
	pool, err := s.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return amm.Quote{}, fmt.Errorf("trade_service: get pool %s: %w", marketID, err)
	}
	return amm.QuoteSell(&pool, outcome, shares)
}

// BuyShares spends usdcAmount buying outcome shares at the pool's current
// curve. If minShares is non-nil and the curve delivers fewer shares, the
// trade aborts with ErrSlippageExceeded before any funds move.
func (s *TradeService) BuyShares(ctx context.Context, userID, marketID string, outcome domain.Outcome, usdcAmount, minShares *apd.Decimal) (domain.Trade, error) {
	if !outcome.Valid() {
		return domain.Trade{}, domain.ErrInvalidOutcome
	}
	if usdcAmount == nil || usdcAmount.Sign() <= 0 {
		return domain.Trade{}, domain.ErrInvalidAmount
	}
	market, err := s.tradableMarket(ctx, marketID)
	if err != nil {
		return domain.Trade{}, err
	}

	unlock, err := s.locks.Acquire(ctx, positionLockKey(userID, marketID, outcome), positionLockTTL)
	if err != nil {
		return domain.Trade{}, err
	}
	defer unlock()

	var trade domain.Trade
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pool, err := s.pools.GetByMarketForUpdate(ctx, marketID)
		if err != nil {
			return fmt.Errorf("trade_service: lock pool %s: %w", marketID, err)
		}

		quote, err := amm.ApplyBuy(&pool, outcome, usdcAmount)
		if err != nil {
			return err
		}
		// Slippage check before the external call: a rejected trade must
		// leave nothing to unwind.
		if minShares != nil && quote.Shares.Cmp(minShares) < 0 {
			return fmt.Errorf("trade_service: curve delivers %s shares, floor %s: %w",
				quote.Shares.Text('f'), minShares.Text('f'), domain.ErrSlippageExceeded)
		}

		receipt, err := s.ledger.BuyShares(ctx, domain.LedgerTradeParams{
			MarketRef:  market.ContractRef,
			UserID:     userID,
			Outcome:    outcome,
			Shares:     quote.Shares,
			UsdcAmount: usdcAmount,
		})
		if err != nil {
			return fmt.Errorf("trade_service: ledger buy: %w", err)
		}

		if err := s.accounts.Debit(ctx, userID, usdcAmount); err != nil {
			return err
		}

		pool.UpdatedAt = s.now()
		if err := s.pools.Update(ctx, pool); err != nil {
			return err
		}

		pos, err := s.positions.GetForUpdate(ctx, userID, marketID, outcome)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("trade_service: lock position: %w", err)
			}
			pos = domain.SharePosition{
				ID:           uuid.New().String(),
				UserID:       userID,
				MarketID:     marketID,
				Outcome:      outcome,
				Quantity:     domain.DecZero(),
				CostBasis:    domain.DecZero(),
				SoldQuantity: domain.DecZero(),
				RealizedPnl:  domain.DecZero(),
				CreatedAt:    s.now(),
			}
		}
		if pos.Quantity, err = domain.DecAdd(pos.Quantity, quote.Shares); err != nil {
			return err
		}
		if pos.CostBasis, err = domain.DecAdd(pos.CostBasis, usdcAmount); err != nil {
			return err
		}
		pos.UpdatedAt = s.now()
		if err := s.positions.Upsert(ctx, pos); err != nil {
			return err
		}

		trade = domain.Trade{
			ID:           uuid.New().String(),
			UserID:       userID,
			MarketID:     marketID,
			Outcome:      outcome,
			Side:         domain.TradeSideBuy,
			Shares:       quote.Shares,
			UsdcAmount:   domain.CloneDec(usdcAmount),
			PricePerUnit: quote.PricePerUnit,
			FeeAmount:    quote.FeeAmount,
			TxHash:       receipt.TxHash,
			ExecutedAt:   s.now(),
		}
		if err := s.trades.Create(ctx, trade); err != nil {
			return err
		}

		s.refreshPriceCache(ctx, &pool)
		return nil
	})
	if err != nil {
		return domain.Trade{}, err
	}

	s.afterTrade(ctx, trade)
	return trade, nil
}

// SellShares returns shares of outcome to the pool for USDC. minPayout guards
// against slippage; when nil it defaults to 95% of the share count, an
// implied floor price of 0.95 per share.
func (s *TradeService) SellShares(ctx context.Context, userID, marketID string, outcome domain.Outcome, shares, minPayout *apd.Decimal) (domain.Trade, error) {
	if !outcome.Valid() {
		return domain.Trade{}, domain.ErrInvalidOutcome
	}
	if shares == nil || shares.Sign() <= 0 {
		return domain.Trade{}, domain.ErrInvalidShareCount
	}
	market, err := s.tradableMarket(ctx, marketID)
	if err != nil {
		return domain.Trade{}, err
	}

	floor := minPayout
	if floor == nil {
		if floor, err = domain.DecMul(shares, defaultSellFloorRate); err != nil {
			return domain.Trade{}, err
		}
	}

	unlock, err := s.locks.Acquire(ctx, positionLockKey(userID, marketID, outcome), positionLockTTL)
	if err != nil {
		return domain.Trade{}, err
	}
	defer unlock()

	var trade domain.Trade
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pos, err := s.positions.GetForUpdate(ctx, userID, marketID, outcome)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no %s shares held in market %s: %w",
					outcome.Label(), marketID, domain.ErrNoSharesFound)
			}
			return fmt.Errorf("trade_service: lock position: %w", err)
		}
		if pos.Quantity.Cmp(shares) < 0 {
			return fmt.Errorf("have %s, requested %s: %w",
				pos.Quantity.Text('f'), shares.Text('f'), domain.ErrInsufficientShares)
		}

		pool, err := s.pools.GetByMarketForUpdate(ctx, marketID)
		if err != nil {
			return fmt.Errorf("trade_service: lock pool %s: %w", marketID, err)
		}

		quote, err := amm.ApplySell(&pool, outcome, shares)
		if err != nil {
			return err
		}
		if quote.Payout.Cmp(floor) < 0 {
			return fmt.Errorf("trade_service: payout %s below floor %s: %w",
				quote.Payout.Text('f'), floor.Text('f'), domain.ErrSlippageExceeded)
		}

		receipt, err := s.ledger.SellShares(ctx, domain.LedgerTradeParams{
			MarketRef:  market.ContractRef,
			UserID:     userID,
			Outcome:    outcome,
			Shares:     shares,
			UsdcAmount: quote.Payout,
		})
		if err != nil {
			return fmt.Errorf("trade_service: ledger sell: %w", err)
		}

		if err := s.accounts.Credit(ctx, userID, quote.Payout); err != nil {
			return err
		}

		pool.UpdatedAt = s.now()
		if err := s.pools.Update(ctx, pool); err != nil {
			return err
		}

		// Release cost basis proportionally to the fraction of the holding
		// sold; the remainder stays attached to the unsold quantity.
		costTimesShares, err := domain.DecMul(pos.CostBasis, shares)
		if err != nil {
			return err
		}
		costPortion, err := domain.DecQuo(costTimesShares, pos.Quantity)
		if err != nil {
			return err
		}
		pnl, err := domain.DecSub(quote.Payout, costPortion)
		if err != nil {
			return err
		}

		if pos.Quantity, err = domain.DecSub(pos.Quantity, shares); err != nil {
			return err
		}
		if pos.CostBasis, err = domain.DecSub(pos.CostBasis, costPortion); err != nil {
			return err
		}
		if pos.SoldQuantity, err = domain.DecAdd(pos.SoldQuantity, shares); err != nil {
			return err
		}
		if pos.RealizedPnl, err = domain.DecAdd(pos.RealizedPnl, pnl); err != nil {
			return err
		}
		pos.UpdatedAt = s.now()
		if err := s.positions.Upsert(ctx, pos); err != nil {
			return err
		}

		trade = domain.Trade{
			ID:           uuid.New().String(),
			UserID:       userID,
			MarketID:     marketID,
			Outcome:      outcome,
			Side:         domain.TradeSideSell,
			Shares:       domain.CloneDec(shares),
			UsdcAmount:   quote.Payout,
			PricePerUnit: quote.PricePerUnit,
			FeeAmount:    quote.FeeAmount,
			TxHash:       receipt.TxHash,
			ExecutedAt:   s.now(),
		}
		if err := s.trades.Create(ctx, trade); err != nil {
			return err
		}

		s.refreshPriceCache(ctx, &pool)
		return nil
	})
	if err != nil {
		return domain.Trade{}, err
	}

	s.afterTrade(ctx, trade)
	return trade, nil
}

// Positions lists the user's share positions across all markets.
func (s *TradeService) Positions(ctx context.Context, userID string) ([]domain.SharePosition, error) {
	positions, err := s.positions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list positions for %q: %w", userID, err)
	}
	return positions, nil
}

// TradeHistory lists the user's executed trades, newest first.
func (s *TradeService) TradeHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades for %q: %w", userID, err)
	}
	return trades, nil
}

// YesPrice returns the market's current YES price, preferring the cache and
// falling back to the pool reserves.
func (s *TradeService) YesPrice(ctx context.Context, marketID string) (*apd.Decimal, error) {
	if s.prices != nil {
		if cached, _, err := s.prices.GetYesPrice(ctx, marketID); err == nil && cached != "" {
			if p, err := domain.ParseDec(cached); err == nil {
				return p, nil
			}
		}
	}
	pool, err := s.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("trade_service: get pool %s: %w", marketID, err)
	}
	return amm.YesPrice(&pool)
}

func (s *TradeService) refreshPriceCache(ctx context.Context, pool *domain.LiquidityPool) {
	if s.prices == nil {
		return
	}
	price, err := amm.YesPrice(pool)
	if err != nil {
		s.logger.WarnContext(ctx, "trade_service: price recompute failed",
			slog.String("market_id", pool.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.prices.SetYesPrice(ctx, pool.MarketID, price.Text('f'), s.now()); err != nil {
		s.logger.WarnContext(ctx, "trade_service: price cache write failed",
			slog.String("market_id", pool.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TradeService) afterTrade(ctx context.Context, trade domain.Trade) {
	payload := map[string]any{
		"event":     "trade_executed",
		"trade_id":  trade.ID,
		"market_id": trade.MarketID,
		"side":      string(trade.Side),
		"outcome":   trade.Outcome.Label(),
		"shares":    trade.Shares.Text('f'),
		"usdc":      trade.UsdcAmount.Text('f'),
	}
	publishEvent(ctx, s.bus, s.logger, "trades", payload)
	notifyUser(ctx, s.sink, s.logger, trade.UserID, domain.NotifyTradeExecuted, payload)

	s.logger.InfoContext(ctx, "trade_service: executed",
		slog.String("trade_id", trade.ID),
		slog.String("market_id", trade.MarketID),
		slog.String("side", string(trade.Side)),
		slog.String("shares", trade.Shares.Text('f')),
		slog.String("usdc", trade.UsdcAmount.Text('f')),
	)
}
