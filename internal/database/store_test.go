package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	dbconfig "locationshare/pkg/database"
	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

func setupSQLiteStore(t *testing.T) interfaces.Store {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close manager: %v", err)
		}
	})
	return manager
}

func setupBoltStore(t *testing.T) interfaces.Store {
	t.Helper()
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "test.bolt"), time.Second)
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var storeBackends = []struct {
	name  string
	setup func(t *testing.T) interfaces.Store
}{
	{"sqlite", setupSQLiteStore},
	{"bolt", setupBoltStore},
}

func newTestRoom(created time.Time) *types.Room {
	return &types.Room{
		ID:              uuid.NewString(),
		DurationMinutes: 15,
		CreatedAt:       created,
		ExpiresAt:       created.Add(15 * time.Minute),
		IsActive:        true,
		MaxParticipants: types.DefaultMaxParticipants,
	}
}

func upsert(p *types.Participant) interfaces.MutateFunc {
	return func(*types.Participant) (*types.Participant, error) { return p.Clone(), nil }
}

func TestStore_RoomLifecycle(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)
			room := newTestRoom(now)

			if err := store.CreateRoom(ctx, room); err != nil {
				t.Fatalf("CreateRoom: %v", err)
			}
			if err := store.CreateRoom(ctx, room); !errors.Is(err, interfaces.ErrRoomExists) {
				t.Errorf("duplicate CreateRoom error = %v, want ErrRoomExists", err)
			}

			got, err := store.GetRoom(ctx, room.ID)
			if err != nil {
				t.Fatalf("GetRoom: %v", err)
			}
			if got.ID != room.ID || !got.ExpiresAt.Equal(room.ExpiresAt) || got.MaxParticipants != room.MaxParticipants {
				t.Errorf("GetRoom = %+v, want %+v", got, room)
			}

			if _, err := store.GetRoom(ctx, uuid.NewString()); !errors.Is(err, interfaces.ErrRoomNotFound) {
				t.Errorf("GetRoom unknown error = %v, want ErrRoomNotFound", err)
			}
		})
	}
}

func TestStore_ListRoomsFiltersExpired(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			ctx := context.Background()
			now := time.Now().UTC()

			fresh := newTestRoom(now)
			stale := newTestRoom(now.Add(-time.Hour))
			for _, r := range []*types.Room{fresh, stale} {
				if err := store.CreateRoom(ctx, r); err != nil {
					t.Fatal(err)
				}
			}

			rooms, err := store.ListRooms(ctx, now)
			if err != nil {
				t.Fatalf("ListRooms: %v", err)
			}
			if len(rooms) != 1 || rooms[0].ID != fresh.ID {
				t.Errorf("ListRooms returned %d rooms, want only %s", len(rooms), fresh.ID)
			}
		})
	}
}

func TestStore_MutateParticipant(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)
			room := newTestRoom(now)
			if err := store.CreateRoom(ctx, room); err != nil {
				t.Fatal(err)
			}

			p := types.NewParticipant(room.ID, "alice", now)
			p.Status = types.StatusSharing
			p.Latitude, p.Longitude = types.Float(35.0), types.Float(139.0)

			var seen *types.Participant
			written, err := store.MutateParticipant(ctx, room.ID, "alice", func(cur *types.Participant) (*types.Participant, error) {
				seen = cur
				return p.Clone(), nil
			})
			if err != nil {
				t.Fatalf("MutateParticipant: %v", err)
			}
			if seen != nil {
				t.Error("first mutation should observe no record")
			}
			if written.Status != types.StatusSharing || *written.Latitude != 35.0 {
				t.Errorf("written = %+v", written)
			}

			got, err := store.GetParticipant(ctx, room.ID, "alice")
			if err != nil {
				t.Fatalf("GetParticipant: %v", err)
			}
			if got.Longitude == nil || *got.Longitude != 139.0 || got.Accuracy != nil {
				t.Errorf("stored position = %+v", got.Position)
			}
			if !got.LastUpdated.Equal(now) {
				t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, now)
			}

			// A nil result leaves the record untouched.
			unchanged, err := store.MutateParticipant(ctx, room.ID, "alice", func(cur *types.Participant) (*types.Participant, error) {
				return nil, nil
			})
			if err != nil || unchanged == nil || unchanged.Status != types.StatusSharing {
				t.Errorf("no-op mutation = %+v, %v", unchanged, err)
			}
		})
	}
}

func TestStore_MutateRejectsPositionWithoutSharing(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			ctx := context.Background()
			room := newTestRoom(time.Now().UTC())
			if err := store.CreateRoom(ctx, room); err != nil {
				t.Fatal(err)
			}

			p := types.NewParticipant(room.ID, "alice", time.Now().UTC())
			p.Latitude = types.Float(1)
			_, err := store.MutateParticipant(ctx, room.ID, "alice", upsert(p))
			if !errors.Is(err, types.ErrPositionInvariant) {
				t.Errorf("error = %v, want ErrPositionInvariant", err)
			}
			if _, err := store.GetParticipant(ctx, room.ID, "alice"); !errors.Is(err, interfaces.ErrParticipantNotFound) {
				t.Errorf("invalid record was persisted: %v", err)
			}
		})
	}
}

func TestStore_MutateMissingRoom(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			called := false
			_, err := store.MutateParticipant(context.Background(), uuid.NewString(), "alice", func(*types.Participant) (*types.Participant, error) {
				called = true
				return nil, nil
			})
			if !errors.Is(err, interfaces.ErrRoomNotFound) {
				t.Errorf("error = %v, want ErrRoomNotFound", err)
			}
			if called {
				t.Error("mutation ran for a missing room")
			}
		})
	}
}

func TestStore_RosterOrderAndMembership(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)
			room := newTestRoom(base)
			if err := store.CreateRoom(ctx, room); err != nil {
				t.Fatal(err)
			}

			for i, id := range []string{"alice", "bob", "carol"} {
				p := types.NewParticipant(room.ID, id, base.Add(time.Duration(i)*time.Second))
				if _, err := store.MutateParticipant(ctx, room.ID, id, upsert(p)); err != nil {
					t.Fatal(err)
				}
			}

			gone := types.NewParticipant(room.ID, "bob", base.Add(10*time.Second))
			gone.IsActive = false
			gone.Status = types.StatusStopped
			if _, err := store.MutateParticipant(ctx, room.ID, "bob", upsert(gone)); err != nil {
				t.Fatal(err)
			}

			roster, err := store.ListActiveParticipants(ctx, room.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(roster) != 2 || roster[0].ParticipantID != "carol" || roster[1].ParticipantID != "alice" {
				ids := make([]string, len(roster))
				for i, p := range roster {
					ids[i] = p.ParticipantID
				}
				t.Errorf("roster = %v, want [carol alice]", ids)
			}

			n, err := store.CountActiveParticipants(ctx, room.ID)
			if err != nil || n != 2 {
				t.Errorf("CountActiveParticipants = %d, %v", n, err)
			}

			empty, err := store.ListActiveParticipants(ctx, uuid.NewString())
			if err != nil || len(empty) != 0 {
				t.Errorf("unknown room roster = %v, %v", empty, err)
			}
		})
	}
}

func TestStore_ConcurrentMutationsSerialize(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.setup(t)
			ctx := context.Background()
			room := newTestRoom(time.Now().UTC())
			if err := store.CreateRoom(ctx, room); err != nil {
				t.Fatal(err)
			}

			const workers = 20
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.MutateParticipant(ctx, room.ID, "counter", func(cur *types.Participant) (*types.Participant, error) {
						if cur == nil {
							cur = types.NewParticipant(room.ID, "counter", time.Now().UTC())
							cur.Status = types.StatusSharing
							cur.Latitude, cur.Longitude = types.Float(0), types.Float(0)
						}
						*cur.Latitude++
						return cur, nil
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("concurrent mutation: %v", err)
				}
			}

			got, err := store.GetParticipant(ctx, room.ID, "counter")
			if err != nil {
				t.Fatal(err)
			}
			if *got.Latitude != workers {
				t.Errorf("counter = %v, want %d (lost update)", *got.Latitude, workers)
			}
		})
	}
}

func TestStore_HealthCheck(t *testing.T) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			if err := backend.setup(t).HealthCheck(context.Background()); err != nil {
				t.Errorf("HealthCheck: %v", err)
			}
		})
	}
}

func TestManager_ClosedRejectsWrites(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "closed.db")
	manager, err := NewManager(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := manager.Close(); err != nil {
		t.Fatal(err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := manager.CreateRoom(context.Background(), newTestRoom(time.Now())); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("CreateRoom after close = %v, want ErrManagerClosed", err)
	}
}

func TestManager_CanceledContext(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	room := newTestRoom(time.Now())
	if err := store.CreateRoom(ctx, room); err == nil {
		t.Error("expected error for canceled context")
	}
}
