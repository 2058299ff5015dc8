package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDMARKET_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "PREDMARKET_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PREDMARKET_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PREDMARKET_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PREDMARKET_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "PREDMARKET_DATABASE_USER")
	setStr(&cfg.Database.Password, "PREDMARKET_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PREDMARKET_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "PREDMARKET_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PREDMARKET_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PREDMARKET_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREDMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDMARKET_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.BaseURL, "PREDMARKET_LEDGER_BASE_URL")
	setStr(&cfg.Ledger.ApiKey, "PREDMARKET_LEDGER_API_KEY")
	setStr(&cfg.Ledger.ApiSecret, "PREDMARKET_LEDGER_API_SECRET")
	setStr(&cfg.Ledger.ApiPassphrase, "PREDMARKET_LEDGER_API_PASSPHRASE")
	setDuration(&cfg.Ledger.Timeout, "PREDMARKET_LEDGER_TIMEOUT")
	setInt(&cfg.Ledger.RateLimit, "PREDMARKET_LEDGER_RATE_LIMIT")
	setDuration(&cfg.Ledger.RateWindow, "PREDMARKET_LEDGER_RATE_WINDOW")

	// ── Engine ──
	setStr(&cfg.Engine.SaltSecret, "PREDMARKET_ENGINE_SALT_SECRET")
	setStr(&cfg.Engine.DefaultFeeRate, "PREDMARKET_ENGINE_DEFAULT_FEE_RATE")
	setDuration(&cfg.Engine.CloseSweepInterval, "PREDMARKET_ENGINE_CLOSE_SWEEP_INTERVAL")
	setDuration(&cfg.Engine.ResolveSweepInterval, "PREDMARKET_ENGINE_RESOLVE_SWEEP_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PREDMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
