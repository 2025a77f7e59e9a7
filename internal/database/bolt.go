package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

var (
	roomsBucket        = []byte("rooms")
	participantsBucket = []byte("participants")
)

// BoltStore is a bbolt-backed Store. Rooms live in one bucket; each room's
// participants live in a nested bucket keyed by room id.
// bbolt allows one read-write transaction at a time, which serializes
// MutateParticipant calls.
type BoltStore struct {
	db *bolt.DB
}

var _ interfaces.Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(roomsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(participantsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) CreateRoom(ctx context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		rooms := tx.Bucket(roomsBucket)
		if rooms.Get([]byte(room.ID)) != nil {
			return interfaces.ErrRoomExists
		}
		if err := rooms.Put([]byte(room.ID), data); err != nil {
			return err
		}
		_, err := tx.Bucket(participantsBucket).CreateBucketIfNotExists([]byte(room.ID))
		return err
	})
}

func (s *BoltStore) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	var room *types.Room
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(roomsBucket).Get([]byte(roomID))
		if data == nil {
			return interfaces.ErrRoomNotFound
		}
		room = &types.Room{}
		return json.Unmarshal(data, room)
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *BoltStore) ListRooms(ctx context.Context, unexpiredAt time.Time) ([]*types.Room, error) {
	var rooms []*types.Room
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).ForEach(func(k, v []byte) error {
			var room types.Room
			if err := json.Unmarshal(v, &room); err != nil {
				return fmt.Errorf("room %s: %w", k, err)
			}
			if room.IsActive && room.ExpiresAt.After(unexpiredAt) {
				rooms = append(rooms, &room)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *BoltStore) GetParticipant(ctx context.Context, roomID, participantID string) (*types.Participant, error) {
	var p *types.Participant
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(participantsBucket).Bucket([]byte(roomID))
		if b == nil {
			return interfaces.ErrParticipantNotFound
		}
		var err error
		p, err = decodeParticipant(b.Get([]byte(participantID)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BoltStore) MutateParticipant(ctx context.Context, roomID, participantID string, fn interfaces.MutateFunc) (*types.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *types.Participant
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(roomsBucket).Get([]byte(roomID)) == nil {
			return interfaces.ErrRoomNotFound
		}
		b, err := tx.Bucket(participantsBucket).CreateBucketIfNotExists([]byte(roomID))
		if err != nil {
			return err
		}

		current, err := decodeParticipant(b.Get([]byte(participantID)))
		if err != nil && !errors.Is(err, interfaces.ErrParticipantNotFound) {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		next.RoomID, next.ParticipantID = roomID, participantID
		if err := next.Validate(); err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(participantID), data); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) ListActiveParticipants(ctx context.Context, roomID string) ([]*types.Participant, error) {
	participants := make([]*types.Participant, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(participantsBucket).Bucket([]byte(roomID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			p, err := decodeParticipant(v)
			if err != nil {
				return err
			}
			if p.IsActive {
				participants = append(participants, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRoster(participants)
	return participants, nil
}

func (s *BoltStore) CountActiveParticipants(ctx context.Context, roomID string) (int, error) {
	participants, err := s.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return len(participants), nil
}

func (s *BoltStore) HealthCheck(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(roomsBucket) == nil {
			return errors.New("rooms bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeParticipant(data []byte) (*types.Participant, error) {
	if data == nil {
		return nil, interfaces.ErrParticipantNotFound
	}
	var p types.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// sortRoster orders most recently updated first, ties by participant id.
func sortRoster(participants []*types.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
		return a.ParticipantID < b.ParticipantID
	})
}
