package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"locationshare/pkg/interfaces"
)

// Options tune a connection's send queue and write deadline.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// DefaultOptions returns the defaults used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		SendBuffer:   100,
		WriteTimeout: 5 * time.Second,
	}
}

// Connection implements interfaces.Connection over a gorilla websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes are serialized through one writer
// goroutine; Send only enqueues, so a slow peer can never stall a broadcast
type Connection struct {
	conn          *websocket.Conn
	id            string
	roomID        string
	participantID string
	writeCh       chan []byte
	writeTimeout  time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	drain         chan struct{}
	drainOnce     sync.Once
	closeOnce     sync.Once
	mu            sync.RWMutex
	dropped       atomic.Uint64
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn for roomID and starts its writer.
func NewConnection(conn *websocket.Conn, roomID string, opts Options) *Connection {
	c := newConnection(conn, roomID, opts)
	go c.writeLoop()
	return c
}

func newConnection(conn *websocket.Conn, roomID string, opts Options) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:         conn,
		id:           ulid.Make().String(),
		roomID:       roomID,
		writeCh:      make(chan []byte, opts.SendBuffer),
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		drain:        make(chan struct{}),
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				log.Debug().Str("module", "websocket").Str("conn_id", c.id).Err(err).Msg("write failed")
				_ = c.Close()
				return
			}

		case <-c.drain:
			// flush what is queued, then close the socket cleanly
			for {
				select {
				case data := <-c.writeCh:
					if err := c.write(data); err != nil {
						_ = c.Close()
						return
					}
					continue
				default:
				}
				break
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			_ = c.Close()
			return

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Send enqueues data without blocking. When the queue is full the oldest
// queued frame is discarded to make room.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	for {
		select {
		case c.writeCh <- data:
			return nil
		default:
		}
		select {
		case <-c.writeCh:
			n := c.dropped.Add(1)
			log.Debug().Str("module", "websocket").Str("conn_id", c.id).Uint64("dropped", n).Msg("send queue full, dropped oldest frame")
		default:
		}
	}
}

// SendJSON marshals v and enqueues it.
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Send(data)
}

// CloseAfterFlush writes every queued frame, sends a normal close frame and
// then closes the socket. Further sends are still accepted until the close.
func (c *Connection) CloseAfterFlush() {
	c.drainOnce.Do(func() { close(c.drain) })
}

// Close cancels pending sends and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) GetID() string {
	return c.id
}

func (c *Connection) GetRoomID() string {
	return c.roomID
}

func (c *Connection) GetParticipantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantID
}

// BindParticipant binds on first call only and returns the bound id.
func (c *Connection) BindParticipant(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participantID == "" {
		c.participantID = id
	}
	return c.participantID
}

func (c *Connection) UnbindParticipant() {
	c.mu.Lock()
	c.participantID = ""
	c.mu.Unlock()
}

// Dropped returns how many frames were discarded on overflow.
func (c *Connection) Dropped() uint64 {
	return c.dropped.Load()
}
