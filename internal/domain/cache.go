package domain

import (
	"context"
	"time"
)

// LockManager provides distributed mutual exclusion. Per-prediction claims
// and per-position sells are serialized through it so the loser of a race
// observes a stale-state error instead of silently losing funds.
type LockManager interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The returned
	// function releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PriceCache stores the latest AMM outcome price snapshot per market for
// cheap external reads. Failures here never abort a trade.
type PriceCache interface {
	SetYesPrice(ctx context.Context, marketID string, price string, ts time.Time) error
	GetYesPrice(ctx context.Context, marketID string) (string, time.Time, error)
}

// StreamMessage is one durable signal-bus entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes engine events (settlements, claims, trades) for
// downstream consumers. Publishing is fire-and-forget from the caller's
// point of view; failures are logged, never propagated into the financial
// path.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles outbound ledger-network calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
