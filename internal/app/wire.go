package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/outcomelab/predmarket/internal/blob/s3"
	"github.com/outcomelab/predmarket/internal/cache/redis"
	"github.com/outcomelab/predmarket/internal/config"
	"github.com/outcomelab/predmarket/internal/crypto"
	"github.com/outcomelab/predmarket/internal/domain"
	"github.com/outcomelab/predmarket/internal/ledger"
	"github.com/outcomelab/predmarket/internal/notify"
	"github.com/outcomelab/predmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the engine needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore      domain.MarketStore
	PredictionStore  domain.PredictionStore
	PoolStore        domain.PoolStore
	PositionStore    domain.PositionStore
	TradeStore       domain.TradeStore
	AttestationStore domain.AttestationStore
	OracleStore      domain.OracleStore
	DisputeStore     domain.DisputeStore
	AccountStore     domain.AccountStore
	TxManager        domain.TxManager

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// External services
	Ledger     domain.LedgerClient
	ProofVault domain.ProofVault

	// Commitment sealing
	SaltBox *crypto.SaltBox

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PredictionStore = postgres.NewPredictionStore(pool)
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AttestationStore = postgres.NewAttestationStore(pool)
	deps.OracleStore = postgres.NewOracleStore(pool)
	deps.DisputeStore = postgres.NewDisputeStore(pool)
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.TxManager = postgres.NewTxManager(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Ledger network client ---
	var auth *crypto.HMACAuth
	if cfg.Ledger.ApiKey != "" {
		auth = &crypto.HMACAuth{
			Key:        cfg.Ledger.ApiKey,
			Secret:     cfg.Ledger.ApiSecret,
			Passphrase: cfg.Ledger.ApiPassphrase,
		}
	}
	deps.Ledger = ledger.NewClient(ledger.ClientConfig{
		BaseURL:    cfg.Ledger.BaseURL,
		Timeout:    cfg.Ledger.Timeout.Duration,
		RateLimit:  cfg.Ledger.RateLimit,
		RateWindow: cfg.Ledger.RateWindow.Duration,
	}, auth, deps.RateLimiter)

	// --- S3 proof vault (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.ProofVault = s3blob.NewVault(s3Client)
	}

	// --- Commitment sealing ---
	saltBox, err := crypto.NewSaltBox(cfg.Engine.SaltSecret)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: saltbox: %w", err)
	}
	deps.SaltBox = saltBox

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
