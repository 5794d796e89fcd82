package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
)

// RedisBroadcaster connects desk processes sharing a Redis instance, e.g.
// several kiosk tabs on one machine each running their own agent.
type RedisBroadcaster struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedisBroadcaster publishes on config.CacheKey.TabBroadcastChannel.
func NewRedisBroadcaster(rdb *redis.Client, log zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb:     rdb,
		channel: config.CacheKey.TabBroadcastChannel(),
		log:     log.With().Str("component", "redis_broadcaster").Logger(),
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, fn func(Message)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn().Err(err).Msg("Dropping malformed broadcast")
					continue
				}
				fn(msg)
			}
		}
	}()
	return nil
}

func (b *RedisBroadcaster) Close() error { return nil }
