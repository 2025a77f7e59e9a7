package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus fans envelopes out through Redis pub/sub, one channel per room.
type RedisBus struct {
	client     *redis.Client
	prefix     string
	ownsClient bool

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "locationshare"
	}
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) channel(roomID string) string {
	return fmt.Sprintf("%s:room:%s", b.prefix, roomID)
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	if env.RoomID == "" {
		return ErrMissingRoom
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(env.RoomID), data).Err()
}

// Subscribe pattern-subscribes to every room channel under the prefix.
func (b *RedisBus) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+":room:*")
	// wait for the subscription confirmation so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				log.Warn().Str("module", "hub").Str("channel", msg.Channel).Err(err).Msg("dropping malformed envelope")
				continue
			}
			if env.RoomID == "" {
				env.RoomID = strings.TrimPrefix(msg.Channel, b.prefix+":room:")
			}
			deliver(env)
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
		<-done
	}
	if b.ownsClient {
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
