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

// Settler triggers parimutuel payout distribution once a market's winning
// outcome is fixed. Implemented by SettlementService.
type Settler interface {
	SettleMarket(ctx context.Context, marketID string) error
	// ResettleMarket reruns settlement after a dispute overturned the
	// outcome. It returns the IDs of predictions whose payouts were already
	// claimed and therefore could not be reversed.
	ResettleMarket(ctx context.Context, marketID string) ([]string, error)
}

// CreateMarketParams are the inputs for opening a new market.
type CreateMarketParams struct {
	Question       string
	ContractRef    string
	ClosingAt      time.Time
	Subsidy        *apd.Decimal // AMM liquidity subsidy
	InitialYesProb *apd.Decimal // initial YES probability in (0, 1)
	FeeRate        *apd.Decimal // proportional AMM fee
}

// MarketService administers market lifecycle: creation with a seeded AMM
// pool, closing, resolution, and cancellation.
type MarketService struct {
	markets domain.MarketStore
	pools   domain.PoolStore
	tx      domain.TxManager
	settler Settler
	prices  domain.PriceCache
	bus     domain.SignalBus
	logger  *slog.Logger
	now     func() time.Time
}

func NewMarketService(
	markets domain.MarketStore,
	pools domain.PoolStore,
	tx domain.TxManager,
	settler Settler,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		pools:   pools,
		tx:      tx,
		settler: settler,
		prices:  prices,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateMarket opens a new market and seeds its AMM pool so the opening YES
// price equals InitialYesProb.
func (s *MarketService) CreateMarket(ctx context.Context, params CreateMarketParams) (domain.Market, error) {
	if params.Question == "" {
		return domain.Market{}, fmt.Errorf("market_service: question must not be empty: %w", domain.ErrInvalidMarketState)
	}
	if !params.ClosingAt.After(s.now()) {
		return domain.Market{}, fmt.Errorf("market_service: closing time %s is not in the future: %w",
			params.ClosingAt.Format(time.RFC3339), domain.ErrInvalidMarketState)
	}
	if params.FeeRate == nil || params.FeeRate.Sign() < 0 {
		return domain.Market{}, fmt.Errorf("market_service: fee rate must be non-negative: %w", domain.ErrInvalidAmount)
	}

	reserveYes, reserveNo, err := amm.SeedReserves(params.Subsidy, params.InitialYesProb)
	if err != nil {
		return domain.Market{}, err
	}

	market := domain.Market{
		ID:          uuid.New().String(),
		Question:    params.Question,
		ContractRef: params.ContractRef,
		Status:      domain.MarketStatusOpen,
		ClosingAt:   params.ClosingAt,
		VolumeYes:   domain.DecZero(),
		VolumeNo:    domain.DecZero(),
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}
	pool := domain.LiquidityPool{
		MarketID:       market.ID,
		ReserveYes:     reserveYes,
		ReserveNo:      reserveNo,
		FeeRate:        domain.CloneDec(params.FeeRate),
		TradeVolumeYes: domain.DecZero(),
		TradeVolumeNo:  domain.DecZero(),
		UpdatedAt:      s.now(),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.markets.Create(ctx, market); err != nil {
			return err
		}
		return s.pools.Create(ctx, pool)
	})
	if err != nil {
		return domain.Market{}, err
	}

	if s.prices != nil {
		if err := s.prices.SetYesPrice(ctx, market.ID, params.InitialYesProb.Text('f'), s.now()); err != nil {
			s.logger.WarnContext(ctx, "market_service: seed price cache failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "market_service: created",
		slog.String("market_id", market.ID),
		slog.String("question", market.Question),
		slog.Time("closing_at", market.ClosingAt),
	)

	return market, nil
}

// GetMarket fetches a market by ID.
func (s *MarketService) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", marketID, err)
	}
	return market, nil
}

// ListMarkets lists markets in the given status.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list %s markets: %w", status, err)
	}
	return markets, nil
}

// CloseMarket transitions an open market past its deadline to closed,
// freezing new commits and trades.
func (s *MarketService) CloseMarket(ctx context.Context, marketID string) (domain.Market, error) {
	var market domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.markets.GetByIDForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
			}
			return fmt.Errorf("market_service: lock market %s: %w", marketID, err)
		}
		if err := lifecycle.Close(&m, s.now()); err != nil {
			return err
		}
		m.UpdatedAt = s.now()
		if err := s.markets.Update(ctx, m); err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	s.logger.InfoContext(ctx, "market_service: closed", slog.String("market_id", marketID))
	return market, nil
}

// ResolveMarket fixes the winning outcome from the given source and runs
// settlement. Used by the oracle consensus sweep and by admin override.
func (s *MarketService) ResolveMarket(ctx context.Context, marketID string, outcome domain.Outcome, source domain.ResolutionSource) (domain.Market, error) {
	var market domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.markets.GetByIDForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
			}
			return fmt.Errorf("market_service: lock market %s: %w", marketID, err)
		}
		if err := lifecycle.Resolve(&m, outcome, source, s.now()); err != nil {
			return err
		}
		m.UpdatedAt = s.now()
		if err := s.markets.Update(ctx, m); err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	if err := s.settler.SettleMarket(ctx, marketID); err != nil {
		// Resolution already committed; settlement is idempotent and will be
		// retried by the resolution sweeper.
		s.logger.ErrorContext(ctx, "market_service: settlement failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return market, fmt.Errorf("market_service: settle market %s: %w", marketID, err)
	}

	publishEvent(ctx, s.bus, s.logger, "markets", map[string]any{
		"event":     "market_resolved",
		"market_id": marketID,
		"outcome":   outcome.Label(),
		"source":    string(source),
	})

	s.logger.InfoContext(ctx, "market_service: resolved",
		slog.String("market_id", marketID),
		slog.String("outcome", outcome.Label()),
		slog.String("source", string(source)),
	)

	return market, nil
}

// CancelMarket moves a market to the terminal cancelled state.
func (s *MarketService) CancelMarket(ctx context.Context, marketID string) (domain.Market, error) {
	var market domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.markets.GetByIDForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
			}
			return fmt.Errorf("market_service: lock market %s: %w", marketID, err)
		}
		if err := lifecycle.Cancel(&m); err != nil {
			return err
		}
		m.UpdatedAt = s.now()
		if err := s.markets.Update(ctx, m); err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	s.logger.InfoContext(ctx, "market_service: cancelled", slog.String("market_id", marketID))
	return market, nil
}

// CloseDueMarkets sweeps open markets whose closing deadline has passed and
// closes them. Returns the number of markets closed.
func (s *MarketService) CloseDueMarkets(ctx context.Context) (int, error) {
	open, err := s.markets.ListByStatus(ctx, domain.MarketStatusOpen, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("market_service: list open markets: %w", err)
	}

	closed := 0
	for _, m := range open {
		if !m.ClosingPassed(s.now()) {
			continue
		}
		if _, err := s.CloseMarket(ctx, m.ID); err != nil {
			// Lost the race to another closer or resolver; keep sweeping.
			s.logger.WarnContext(ctx, "market_service: sweep close failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
	}
	return closed, nil
}
