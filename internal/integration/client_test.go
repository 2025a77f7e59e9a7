package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"locationshare/internal/app"
	"locationshare/internal/config"
	"locationshare/pkg/types"
)

const frameTimeout = 3 * time.Second

// testClient is a participant socket that decodes every server frame.
type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan types.Outbound
	done   chan struct{}
}

func dial(t *testing.T, addr, roomID string) *testClient {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws/location/%s/", addr, roomID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}

	c := &testClient{
		t:      t,
		conn:   conn,
		frames: make(chan types.Outbound, 100),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := types.DecodeOutbound(data)
		if err != nil {
			c.t.Errorf("undecodable frame %s: %v", data, err)
			continue
		}
		c.frames <- msg
	}
}

func (c *testClient) send(frame string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write %s: %v", frame, err)
	}
}

// next returns the next frame of msgType, skipping any other type.
func (c *testClient) next(msgType string) types.Outbound {
	c.t.Helper()
	deadline := time.After(frameTimeout)
	for {
		select {
		case msg := <-c.frames:
			if msg.MessageType() == msgType {
				return msg
			}
		case <-c.done:
			c.t.Fatalf("socket closed while waiting for %s", msgType)
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

// roster waits for a location_update and indexes it by participant.
func (c *testClient) roster() map[string]types.RosterEntry {
	c.t.Helper()
	update := c.next(types.MessageLocationUpdate).(types.LocationUpdate)
	entries := make(map[string]types.RosterEntry, len(update.Locations))
	for _, e := range update.Locations {
		entries[e.ParticipantID] = e
	}
	return entries
}

func (c *testClient) waitClosed() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(frameTimeout):
		c.t.Fatal("socket was not closed by the server")
	}
}

func (c *testClient) close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "locationshare.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()
	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application
}

func createRoom(t *testing.T, addr string, duration int) string {
	t.Helper()
	body := fmt.Sprintf(`{"duration_minutes":%d}`, duration)
	resp, err := http.Post("http://"+addr+"/api/sessions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}

	var created struct {
		Session struct {
			ID string `json:"session_id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return created.Session.ID
}

// locations fetches the stored roster over HTTP.
func locations(t *testing.T, addr, roomID string) (int, map[string]types.RosterEntry) {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/api/sessions/" + roomID + "/locations")
	if err != nil {
		t.Fatalf("get locations: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	var body struct {
		Locations []types.RosterEntry `json:"locations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode locations: %v", err)
	}
	entries := make(map[string]types.RosterEntry, len(body.Locations))
	for _, e := range body.Locations {
		entries[e.ParticipantID] = e
	}
	return resp.StatusCode, entries
}

func dialRaw(addr, roomID string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws/location/%s/", addr, roomID), nil)
}
