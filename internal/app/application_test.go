package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"locationshare/internal/config"
	"locationshare/internal/database"
	"locationshare/pkg/types"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = driver
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "locationshare.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	return cfg
}

func TestApplication_StartStop(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			application, err := NewApplication(testConfig(t, driver))
			if err != nil {
				t.Fatalf("NewApplication() error = %v", err)
			}
			if err := application.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			resp, err := http.Get("http://" + application.Addr() + "/health")
			if err != nil {
				t.Fatalf("GET /health error = %v", err)
			}
			var health struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK || health.Status != "healthy" {
				t.Errorf("health = %d %q", resp.StatusCode, health.Status)
			}

			resp, err = http.Post("http://"+application.Addr()+"/api/sessions", "application/json", strings.NewReader(`{"duration_minutes":15}`))
			if err != nil {
				t.Fatalf("POST /api/sessions error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("create status = %d", resp.StatusCode)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := application.Stop(ctx); err != nil {
				t.Errorf("Stop() error = %v", err)
			}
		})
	}
}

func TestApplication_RoomsSurviveRestart(t *testing.T) {
	cfg := testConfig(t, "sqlite")

	first, err := NewApplication(cfg)
	if err != nil {
		t.Fatal(err)
	}
	room, err := first.Sessions().CreateRoom(context.Background(), 60, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	second, err := NewApplication(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Stop(context.Background())

	if !second.Sessions().RoomExists(context.Background(), room.ID) {
		t.Error("room lost across restart")
	}
}

func TestApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	cfg.Broadcast.Backend = "smoke-signals"
	if _, err := NewApplication(cfg); err == nil {
		t.Error("expected error for unknown broadcast backend")
	}

	cfg = testConfig(t, "sqlite")
	cfg.Broadcast.Backend = "redis"
	cfg.Broadcast.RedisAddr = "127.0.0.1:1"
	if _, err := NewApplication(cfg); err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestApplication_StopMarksConnectedParticipantsOffline(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			application, err := NewApplication(cfg)
			if err != nil {
				t.Fatalf("NewApplication() error = %v", err)
			}
			if err := application.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			room, err := application.Sessions().CreateRoom(context.Background(), 15, 50)
			if err != nil {
				t.Fatalf("CreateRoom() error = %v", err)
			}

			client, _, err := websocket.DefaultDialer.Dial("ws://"+application.Addr()+"/ws/location/"+room.ID+"/", nil)
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer client.Close()

			for _, frame := range []string{
				`{"type":"join","participant_id":"alice","participant_name":"Alice","is_sharing":true}`,
				`{"type":"location_update","participant_id":"alice","latitude":52.5,"longitude":13.4}`,
			} {
				if err := client.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					t.Fatalf("WriteMessage() error = %v", err)
				}
			}
			waitForPosition(t, client, "alice")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := application.Stop(ctx); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}

			store, err := database.Open(driver, cfg.Database.Path, cfg.Database.Timeout)
			if err != nil {
				t.Fatalf("reopen store: %v", err)
			}
			defer store.Close()

			p, err := store.GetParticipant(context.Background(), room.ID, "alice")
			if err != nil {
				t.Fatalf("GetParticipant() error = %v", err)
			}
			if p.IsOnline || p.Status != types.StatusStopped {
				t.Errorf("alice after Stop = online %v status %q, want offline and stopped", p.IsOnline, p.Status)
			}
		})
	}
}

// waitForPosition reads frames until a roster shows participant with a position.
func waitForPosition(t *testing.T, client *websocket.Conn, participant string) {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer client.SetReadDeadline(time.Time{})
	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("no roster with a position for %s: %v", participant, err)
		}
		msg, err := types.DecodeOutbound(data)
		if err != nil {
			continue
		}
		update, ok := msg.(types.LocationUpdate)
		if !ok {
			continue
		}
		for _, e := range update.Locations {
			if e.ParticipantID == participant && e.Latitude != nil {
				return
			}
		}
	}
}
