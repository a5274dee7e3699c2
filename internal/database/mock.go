package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockWatchPartyRepository struct {
	mock.Mock
}

func (m *MockWatchPartyRepository) CreateRoom(ctx context.Context, room *types.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockWatchPartyRepository) GetRoom(ctx context.Context, roomCode string) (*types.Room, error) {
	args := m.Called(ctx, roomCode)
	if room, ok := args.Get(0).(*types.Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockWatchPartyRepository) UpdateRoom(ctx context.Context, room *types.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockWatchPartyRepository) CreateMessage(ctx context.Context, msg *types.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockWatchPartyRepository) GetMessages(ctx context.Context, roomCode string, before time.Time, limit int) ([]types.Message, error) {
	args := m.Called(ctx, roomCode, before, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockWatchPartyRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockWatchPartyRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
