// Package app provides the top-level lifecycle management for the prediction
// market engine. It wires together all dependencies (stores, caches, the
// ledger client, the proof vault, and notifications), builds the services,
// and runs the background sweepers until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outcomelab/predmarket/internal/commitment"
	"github.com/outcomelab/predmarket/internal/config"
	"github.com/outcomelab/predmarket/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// Services holds the fully wired service layer.
type Services struct {
	Markets     *service.MarketService
	Predictions *service.PredictionService
	Trades      *service.TradeService
	Oracles     *service.OracleService
	Disputes    *service.DisputeService
	Settlements *service.SettlementService
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the
// services, starts the sweeper goroutines, and blocks until the context is
// cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svcs := a.buildServices(deps)

	g, ctx := errgroup.WithContext(ctx)

	// Close markets whose closing time has passed.
	g.Go(func() error {
		return a.runSweeper(ctx, "close_markets", a.cfg.Engine.CloseSweepInterval.Duration,
			svcs.Markets.CloseDueMarkets)
	})

	// Resolve closed markets that have reached oracle consensus.
	g.Go(func() error {
		return a.runSweeper(ctx, "resolve_markets", a.cfg.Engine.ResolveSweepInterval.Duration,
			svcs.Oracles.ResolvePending)
	})

	return g.Wait()
}

// buildServices constructs the service layer from wired dependencies. The
// settlement service doubles as the Settler for market resolution and
// dispute review; the market service is the Resolver for oracle consensus.
func (a *App) buildServices(deps *Dependencies) *Services {
	settlementSvc := service.NewSettlementService(
		deps.MarketStore, deps.PredictionStore, deps.AccountStore,
		deps.TxManager, deps.LockManager, deps.SignalBus, deps.Notifier,
		a.logger,
	)
	marketSvc := service.NewMarketService(
		deps.MarketStore, deps.PoolStore, deps.TxManager,
		settlementSvc, deps.PriceCache, deps.SignalBus,
		a.logger,
	)
	predictionSvc := service.NewPredictionService(
		deps.MarketStore, deps.PredictionStore, deps.AccountStore,
		deps.TxManager, deps.Ledger, commitment.NewEngine(deps.SaltBox),
		deps.SignalBus, a.logger,
	)
	tradeSvc := service.NewTradeService(
		deps.MarketStore, deps.PoolStore, deps.PositionStore, deps.TradeStore,
		deps.AccountStore, deps.TxManager, deps.Ledger, deps.LockManager,
		deps.PriceCache, deps.SignalBus, deps.Notifier,
		a.logger,
	)
	oracleSvc := service.NewOracleService(
		deps.OracleStore, deps.AttestationStore, deps.MarketStore,
		deps.TxManager, marketSvc, deps.ProofVault,
		a.logger,
	)
	disputeSvc := service.NewDisputeService(
		deps.DisputeStore, deps.MarketStore, deps.TxManager,
		settlementSvc, deps.SignalBus, deps.Notifier,
		a.logger,
	)

	return &Services{
		Markets:     marketSvc,
		Predictions: predictionSvc,
		Trades:      tradeSvc,
		Oracles:     oracleSvc,
		Disputes:    disputeSvc,
		Settlements: settlementSvc,
	}
}

// runSweeper invokes fn on a fixed ticker until the context is cancelled.
// Sweep failures are logged and the loop keeps going; both sweeps are
// idempotent, so a failed pass is simply retried on the next tick.
func (a *App) runSweeper(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "app: sweeper started",
		slog.String("sweeper", name),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := fn(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "app: sweep failed",
					slog.String("sweeper", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "app: sweep completed",
					slog.String("sweeper", name),
					slog.Int("processed", n),
				)
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down engine")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
