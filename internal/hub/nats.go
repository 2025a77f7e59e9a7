package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 5 * time.Second

// NATSBus fans envelopes out on <prefix>.room.<session_id> subjects.
type NATSBus struct {
	nc       *nats.Conn
	prefix   string
	ownsConn bool

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSBus(nc *nats.Conn, prefix string) *NATSBus {
	if prefix == "" {
		prefix = "locationshare"
	}
	return &NATSBus{nc: nc, prefix: prefix}
}

func (b *NATSBus) subject(roomID string) string {
	return fmt.Sprintf("%s.room.%s", b.prefix, roomID)
}

func (b *NATSBus) Publish(ctx context.Context, env Envelope) error {
	if env.RoomID == "" {
		return ErrMissingRoom
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject(env.RoomID), data)
}

func (b *NATSBus) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	sub, err := b.nc.Subscribe(b.prefix+".room.*", func(msg *nats.Msg) {
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			log.Warn().Str("module", "hub").Str("subject", msg.Subject).Err(err).Msg("dropping malformed envelope")
			return
		}
		deliver(env)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	// round trip to the server so the interest is registered before we return
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if b.ownsConn {
		b.nc.Close()
	}
	return err
}
