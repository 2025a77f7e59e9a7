package hub

import (
	"context"
	"encoding/json"
	"sync"
)

// Envelope is the unit carried on a bus. Payload is an already encoded
// outbound frame so every process delivers identical bytes.
type Envelope struct {
	RoomID             string          `json:"session_id"`
	ExcludeParticipant string          `json:"exclude_participant,omitempty"`
	Payload            json.RawMessage `json:"payload"`
}

// DeliverFunc receives every envelope published on the bus, from any process.
type DeliverFunc func(env Envelope)

// Bus moves envelopes between hub instances
// ARCHITECTURAL DISCOVERY: The hub only ever delivers to sockets it holds;
// the bus decides which processes see an envelope
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe starts delivery and returns once the subscription is live.
	Subscribe(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

// LocalBus delivers in the publisher's goroutine, so a publisher observes
// its frames queued on every local socket when Publish returns.
type LocalBus struct {
	mu      sync.RWMutex
	deliver DeliverFunc
	closed  bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	deliver, closed := b.deliver, b.closed
	b.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}
	if deliver != nil {
		deliver(env)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.deliver = deliver
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.deliver = nil
	b.mu.Unlock()
	return nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
