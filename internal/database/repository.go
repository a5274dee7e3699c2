package database

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateRoomCode = errors.New("room code already exists")
	// ErrVersionConflict is returned by UpdateRoom when the stored room was
	// modified after it was read.
	ErrVersionConflict = errors.New("room version conflict")
	ErrInvalidRoom     = errors.New("invalid room document")
)

const (
	DefaultMessageLimit = 100
	MaxMessageLimit     = 100
)

type RoomRepository interface {
	// CreateRoom inserts a new room, setting its Id and Version. It returns
	// ErrDuplicateRoomCode if the code is taken.
	CreateRoom(ctx context.Context, room *types.Room) error
	GetRoom(ctx context.Context, roomCode string) (*types.Room, error)
	// UpdateRoom writes room if the stored version still equals room.Version,
	// then advances room.Version.
	UpdateRoom(ctx context.Context, room *types.Room) error
}

type MessageRepository interface {
	// CreateMessage appends msg, assigning an Id if it has none.
	CreateMessage(ctx context.Context, msg *types.Message) error
	// GetMessages returns up to limit messages older than before in
	// chronological order.
	GetMessages(ctx context.Context, roomCode string, before time.Time, limit int) ([]types.Message, error)
}

type WatchPartyRepository interface {
	RoomRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}
