package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBridge mirrors a Broker over a Redis pub/sub channel so that several
// processes sharing one Redis see each other's writes.
type RedisBridge struct {
	client  *redis.Client
	channel string
	broker  *Broker
}

func NewRedisBridge(kv *RedisKV, broker *Broker) *RedisBridge {
	return &RedisBridge{
		client:  kv.client,
		channel: kv.Key("changes"),
		broker:  broker,
	}
}

// Run forwards local changes to Redis and remote ones to the broker until ctx
// is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before relaying.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	local, unsubscribe := b.broker.Subscribe(64)
	defer unsubscribe()

	remote := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c, ok := <-local:
			if !ok {
				return nil
			}
			if c.Origin != b.broker.ID() {
				continue
			}
			payload, err := json.Marshal(c)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode change")
				continue
			}
			if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
				log.Warn().Err(err).Msg("Failed to publish change to Redis")
			}

		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			c, err := decodeChange(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring malformed change from Redis")
				continue
			}
			if c.Origin == b.broker.ID() {
				continue
			}
			b.broker.Publish(c)
		}
	}
}

func decodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	if c.Topic == "" || c.Origin == "" {
		return Change{}, fmt.Errorf("change missing topic or origin")
	}
	return c, nil
}
