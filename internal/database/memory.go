package database

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

// MemoryWatchPartyRepository keeps rooms and messages in process memory. It
// has the same version semantics as the Postgres repository and is used for
// single-node development and tests.
type MemoryWatchPartyRepository struct {
	mu       sync.Mutex
	nextId   int64
	rooms    map[string]*types.Room
	messages map[string][]types.Message
}

func NewMemoryWatchPartyRepository() *MemoryWatchPartyRepository {
	return &MemoryWatchPartyRepository{
		rooms:    make(map[string]*types.Room),
		messages: make(map[string][]types.Message),
	}
}

func (m *MemoryWatchPartyRepository) CreateRoom(_ context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRoom, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.RoomCode]; ok {
		return ErrDuplicateRoomCode
	}

	m.nextId++
	room.Id = m.nextId
	room.Version = 1
	m.rooms[room.RoomCode] = room.Clone()
	return nil
}

func (m *MemoryWatchPartyRepository) GetRoom(_ context.Context, roomCode string) (*types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomCode]
	if !ok {
		return nil, ErrNotFound
	}

	return room.Clone(), nil
}

func (m *MemoryWatchPartyRepository) UpdateRoom(_ context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRoom, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.rooms[room.RoomCode]
	if !ok || stored.Version != room.Version {
		return ErrVersionConflict
	}

	room.Version++
	next := room.Clone()
	next.Id = stored.Id
	next.CreatedAt = stored.CreatedAt
	m.rooms[room.RoomCode] = next
	return nil
}

func (m *MemoryWatchPartyRepository) CreateMessage(_ context.Context, msg *types.Message) error {
	if msg.Id == "" {
		id, err := NewMessageId()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		msg.Id = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.RoomCode] = append(m.messages[msg.RoomCode], *msg)
	return nil
}

func (m *MemoryWatchPartyRepository) GetMessages(_ context.Context, roomCode string, before time.Time, limit int) ([]types.Message, error) {
	limit = normalizeLimit(limit)

	m.mu.Lock()
	all := slices.Clone(m.messages[roomCode])
	m.mu.Unlock()

	// insertion order breaks timestamp ties
	slices.SortStableFunc(all, func(a, b types.Message) int {
		return cmp.Compare(a.Timestamp.UnixNano(), b.Timestamp.UnixNano())
	})

	out := make([]types.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if !before.IsZero() && !all[i].Timestamp.Before(before) {
			continue
		}
		out = append(out, all[i])
	}

	slices.Reverse(out)
	return out, nil
}

func (m *MemoryWatchPartyRepository) Ping(context.Context) error {
	return nil
}

func (m *MemoryWatchPartyRepository) Close() error {
	return nil
}
