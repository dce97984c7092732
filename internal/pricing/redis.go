package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/metrics"
)

// Cached wraps a primary Source with a Redis read-through cache. Reads check
// Redis first and fall back to the primary; a successful primary read
// populates the cache for ttl. Redis failures are logged and bypassed,
// primary failures propagate unchanged.
type Cached struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCached creates a cached wrapper around a primary source.
func NewCached(primary Source, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (c *Cached) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := priceKey(symbol)

	// Try cache.
	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, perr := decimal.NewFromString(cached); perr == nil {
			metrics.PriceCacheLookups.WithLabelValues("hit").Inc()
			return p, nil
		}
		metrics.PriceCacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.PriceCacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.PriceCacheLookups.WithLabelValues("error").Inc()
		slog.Warn("price cache read failed", "symbol", symbol, "err", err)
	}

	// Cache miss: read from primary.
	p, err := c.primary.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.rdb.Set(ctx, key, p.String(), c.ttl).Err(); err != nil {
		slog.Warn("price cache write failed", "symbol", symbol, "err", err)
	}
	return p, nil
}

func priceKey(symbol string) string { return fmt.Sprintf("price:%s", strings.ToUpper(symbol)) }
