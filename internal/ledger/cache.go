package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trading-engine/internal/logging"
)

const settingsTTL = 30 * time.Second

// CachedLedger decorates a Ledger with a Redis read cache over the
// settings row. Trade writes pass straight through; settings writes are
// write-through so the cache never serves stale data past the TTL.
type CachedLedger struct {
	inner  Ledger
	client *redis.Client
	key    string
	log    *logging.Logger
}

// NewCachedLedger wraps inner with a Redis settings cache.
func NewCachedLedger(inner Ledger, client *redis.Client, symbol string) *CachedLedger {
	return &CachedLedger{
		inner:  inner,
		client: client,
		key:    fmt.Sprintf("engine:settings:%s", symbol),
		log:    logging.Default().WithComponent("ledger-cache"),
	}
}

func (c *CachedLedger) CreateTrade(ctx context.Context, record *TradeRecord) error {
	return c.inner.CreateTrade(ctx, record)
}

func (c *CachedLedger) UpdateTrade(ctx context.Context, id string, patch TradeUpdate) error {
	return c.inner.UpdateTrade(ctx, id, patch)
}

// GetSettings serves from Redis when possible and falls back to the
// inner ledger on miss or cache error.
func (c *CachedLedger) GetSettings(ctx context.Context) (Settings, error) {
	payload, err := c.client.Get(ctx, c.key).Bytes()
	if err == nil {
		var s Settings
		if err := json.Unmarshal(payload, &s); err == nil {
			return s, nil
		}
		c.log.Warn("discarding unreadable cached settings")
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("settings cache read failed", "error", err.Error())
	}

	s, err := c.inner.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	c.store(ctx, s)
	return s, nil
}

// UpdateSettings writes through to the inner ledger first; the cache is
// only refreshed after the durable write succeeds.
func (c *CachedLedger) UpdateSettings(ctx context.Context, s Settings) error {
	if err := c.inner.UpdateSettings(ctx, s); err != nil {
		return err
	}
	c.store(ctx, s)
	return nil
}

func (c *CachedLedger) store(ctx context.Context, s Settings) {
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, payload, settingsTTL).Err(); err != nil {
		c.log.Warn("settings cache write failed", "error", err.Error())
	}
}
