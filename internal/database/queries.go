package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

func (db *PgWatchPartyRepository) CreateRoom(ctx context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRoom, err)
	}

	participants, video, playback, err := roomDocuments(room)
	if err != nil {
		return err
	}

	err = db.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (room_code, host_id, participants, current_video, playback_state, "+
			"is_active, version, created_at, last_activity_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8) RETURNING id, version",
		room.RoomCode,
		room.HostId,
		participants,
		video,
		playback,
		room.IsActive,
		room.CreatedAt,
		room.LastActivityAt,
	).Scan(&room.Id, &room.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRoomCode
		}
		return fmt.Errorf("insert room: %w", err)
	}

	return nil
}

func (db *PgWatchPartyRepository) GetRoom(ctx context.Context, roomCode string) (*types.Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE room_code = $1 LIMIT 1",
		roomCode,
	)

	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	return room, nil
}

func (db *PgWatchPartyRepository) UpdateRoom(ctx context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRoom, err)
	}

	participants, video, playback, err := roomDocuments(room)
	if err != nil {
		return err
	}

	var version int64
	err = db.conn.QueryRowContext(ctx,
		"UPDATE rooms SET host_id = $3, participants = $4, current_video = $5, playback_state = $6, "+
			"is_active = $7, last_activity_at = $8, version = version + 1 "+
			"WHERE room_code = $1 AND version = $2 RETURNING version",
		room.RoomCode,
		room.Version,
		room.HostId,
		participants,
		video,
		playback,
		room.IsActive,
		room.LastActivityAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVersionConflict
		}
		return fmt.Errorf("update room: %w", err)
	}

	room.Version = version
	return nil
}

func (db *PgWatchPartyRepository) CreateMessage(ctx context.Context, msg *types.Message) error {
	if msg.Id == "" {
		id, err := NewMessageId()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		msg.Id = id
	}

	var userId, username sql.NullString
	if msg.Type == types.MessageTypeUser {
		userId = sql.NullString{String: msg.UserId, Valid: true}
		username = sql.NullString{String: msg.Username, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (id, room_id, room_code, user_id, username, content, type, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		msg.Id,
		msg.RoomId,
		msg.RoomCode,
		userId,
		username,
		msg.Content,
		string(msg.Type),
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

func (db *PgWatchPartyRepository) GetMessages(ctx context.Context, roomCode string, before time.Time, limit int) ([]types.Message, error) {
	var cursor sql.NullTime
	if !before.IsZero() {
		cursor = sql.NullTime{Time: before, Valid: true}
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, room_id, room_code, user_id, username, content, type, created_at FROM messages "+
			"WHERE room_code = $1 AND ($2::timestamptz IS NULL OR created_at < $2) "+
			"ORDER BY created_at DESC, seq DESC LIMIT $3",
		roomCode,
		cursor,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		var (
			msg              types.Message
			userId, username sql.NullString
			msgType          string
		)
		if err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.RoomCode,
			&userId,
			&username,
			&msg.Content,
			&msgType,
			&msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		msg.UserId = userId.String
		msg.Username = username.String
		msg.Type = types.MessageType(msgType)
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	// newest first from the query, chronological for the caller
	slices.Reverse(messages)
	return messages, nil
}
