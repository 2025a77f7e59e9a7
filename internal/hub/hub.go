package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

// Hub is the group broadcaster: it encodes outbound messages once, publishes
// them on the bus and delivers whatever the bus hands back to local sockets.
type Hub struct {
	bus      Bus
	registry interfaces.ConnectionRegistry

	running bool
	cancel  context.CancelFunc
	mu      sync.RWMutex

	delivered atomic.Uint64
	failed    atomic.Uint64
}

var _ interfaces.Broadcaster = (*Hub)(nil)

func NewHub(registry interfaces.ConnectionRegistry, bus Bus) *Hub {
	if bus == nil {
		bus = NewLocalBus()
	}
	return &Hub{
		bus:      bus,
		registry: registry,
	}
}

// Start subscribes to the bus. Delivery begins before Start returns.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := h.bus.Subscribe(ctx, h.deliver); err != nil {
		cancel()
		return err
	}
	h.cancel = cancel
	h.running = true

	log.Info().Str("module", "hub").Msg("broadcast hub started")
	return nil
}

// Stop closes the bus subscription.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()

	log.Info().Str("module", "hub").Msg("broadcast hub stopped")
	return h.bus.Close()
}

func (h *Hub) Broadcast(ctx context.Context, roomID string, msg types.Outbound) error {
	return h.publish(ctx, roomID, "", msg)
}

func (h *Hub) BroadcastOthers(ctx context.Context, roomID, excludeParticipantID string, msg types.Outbound) error {
	return h.publish(ctx, roomID, excludeParticipantID, msg)
}

func (h *Hub) publish(ctx context.Context, roomID, exclude string, msg types.Outbound) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	payload, err := types.EncodeOutbound(msg)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, Envelope{
		RoomID:             roomID,
		ExcludeParticipant: exclude,
		Payload:            payload,
	})
}

// deliver fans one envelope out to the local sockets of its room. Send never
// blocks, so one stalled socket cannot hold up the rest.
func (h *Hub) deliver(env Envelope) {
	conns := h.registry.GetRoomConnections(env.RoomID)
	for _, conn := range conns {
		if env.ExcludeParticipant != "" && conn.GetParticipantID() == env.ExcludeParticipant {
			continue
		}
		if err := conn.Send(env.Payload); err != nil {
			h.failed.Add(1)
			log.Debug().Str("module", "hub").Str("session_id", env.RoomID).Str("conn_id", conn.GetID()).Err(err).Msg("delivery failed")
			continue
		}
		h.delivered.Add(1)
	}
}

func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"frames_delivered": h.delivered.Load(),
		"frames_failed":    h.failed.Load(),
	}
}

// BusConfig selects and addresses the broadcast backend.
type BusConfig struct {
	Backend   string
	RedisAddr string
	NATSURL   string
	Prefix    string
}

// NewBus connects the configured backend. Buses built here own their client
// and close it on Close.
func NewBus(ctx context.Context, cfg BusConfig) (Bus, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBus(), nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		bus := NewRedisBus(client, cfg.Prefix)
		bus.ownsClient = true
		return bus, nil

	case "nats":
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("locationshare"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
		}
		bus := NewNATSBus(nc, cfg.Prefix)
		bus.ownsConn = true
		return bus, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
