// Package redis fans security alerts out to other process instances and to
// connected websocket observers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/caretrace/internal/notify"
)

// AlertBus publishes alerts on a single Redis channel and lets observers
// subscribe to the live stream. It implements notify.Sink, so the dispatcher
// treats it like any other delivery target.
type AlertBus struct {
	client  *redis.Client
	channel string
}

func New(ctx context.Context, addr, password string, db int, channel string) (*AlertBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &AlertBus{client: client, channel: channel}, nil
}

func (b *AlertBus) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("redis.AlertBus.Close: %w", err)
	}
	return nil
}

// Send publishes the alert as JSON. Pub/sub is fire-and-forget: observers that
// are not connected at publish time miss the alert, which is fine because the
// ledger remains the durable record.
func (b *AlertBus) Send(ctx context.Context, alert notify.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis.AlertBus.Send: marshal: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.AlertBus.Send: publish: %w", err)
	}
	return nil
}

// Subscribe streams alerts published by any process instance until ctx is
// cancelled. The cleanup func must be called when the consumer is done.
func (b *AlertBus) Subscribe(ctx context.Context) (<-chan notify.Alert, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.AlertBus.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan notify.Alert, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				var alert notify.Alert
				if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
					log.Warn().Err(err).Msg("redis: dropping undecodable alert")
					continue
				}
				select {
				case out <- alert:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}
