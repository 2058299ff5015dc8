package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outcomelab/predmarket/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. The latest YES
// probability for a market is stored at "price:yes:{marketID}" with fields
// "price" (decimal string) and "ts" (Unix nanosecond timestamp). Prices are
// kept as strings end to end; no float conversion happens on this path.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func yesPriceKey(marketID string) string {
	return "price:yes:" + marketID
}

// SetYesPrice stores the latest YES price snapshot for a market.
func (pc *PriceCache) SetYesPrice(ctx context.Context, marketID string, price string, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price,
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, yesPriceKey(marketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set yes price %s: %w", marketID, err)
	}
	return nil
}

// GetYesPrice retrieves the latest YES price snapshot for a market. It
// returns domain.ErrNotFound when no snapshot exists.
func (pc *PriceCache) GetYesPrice(ctx context.Context, marketID string) (string, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, yesPriceKey(marketID)).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("redis: get yes price %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return "", time.Time{}, domain.ErrNotFound
	}

	price, ok := vals["price"]
	if !ok {
		return "", time.Time{}, domain.ErrNotFound
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return "", time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("redis: parse yes price ts %s: %w", marketID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
