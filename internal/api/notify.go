package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// TradeNotice is the payload published to external consumers (the chat
// bot process) after a trade lands on the ledger.
type TradeNotice struct {
	TradeID  string          `json:"trade_id"`
	UserID   int64           `json:"user_id"`
	MarketID int64           `json:"market_id"`
	Side     event.Side      `json:"side"`
	Quantity int64           `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
	PriceYes decimal.Decimal `json:"price_yes"`
}

// Notifier announces committed trades out of process.
type Notifier interface {
	PublishTrade(ctx context.Context, notice TradeNotice) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) PublishTrade(context.Context, TradeNotice) error { return nil }

// RedisNotifier publishes trade notices as JSON on a Redis pub/sub
// channel. Delivery is fire-and-forget; subscribers that are down miss
// the notice and catch up from the ledger instead.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing on the given channel.
func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) PublishTrade(ctx context.Context, notice TradeNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal trade notice: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish trade notice: %w", err)
	}
	return nil
}
