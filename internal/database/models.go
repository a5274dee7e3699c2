package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

type scanner interface {
	Scan(dest ...any) error
}

// roomRow mirrors the rooms table. Document fields are stored as JSONB.
type roomRow struct {
	Id             int64
	RoomCode       string
	HostId         string
	Participants   []byte
	CurrentVideo   []byte
	PlaybackState  []byte
	IsActive       bool
	Version        int64
	CreatedAt      time.Time
	LastActivityAt time.Time
}

const roomColumns = "id, room_code, host_id, participants, current_video, playback_state, " +
	"is_active, version, created_at, last_activity_at"

func scanRoom(s scanner) (*types.Room, error) {
	var row roomRow
	if err := s.Scan(
		&row.Id,
		&row.RoomCode,
		&row.HostId,
		&row.Participants,
		&row.CurrentVideo,
		&row.PlaybackState,
		&row.IsActive,
		&row.Version,
		&row.CreatedAt,
		&row.LastActivityAt,
	); err != nil {
		return nil, err
	}

	return row.toRoom()
}

func (row *roomRow) toRoom() (*types.Room, error) {
	room := &types.Room{
		Id:             row.Id,
		RoomCode:       row.RoomCode,
		HostId:         row.HostId,
		IsActive:       row.IsActive,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt.UTC(),
		LastActivityAt: row.LastActivityAt.UTC(),
	}

	if err := json.Unmarshal(row.Participants, &room.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if len(row.CurrentVideo) > 0 && string(row.CurrentVideo) != "null" {
		room.CurrentVideo = &types.Video{}
		if err := json.Unmarshal(row.CurrentVideo, room.CurrentVideo); err != nil {
			return nil, fmt.Errorf("decode current video: %w", err)
		}
	}
	if err := json.Unmarshal(row.PlaybackState, &room.PlaybackState); err != nil {
		return nil, fmt.Errorf("decode playback state: %w", err)
	}

	return room, nil
}

// roomDocuments encodes the JSONB columns of room. Values are returned as
// strings so lib/pq sends them as text rather than bytea.
func roomDocuments(room *types.Room) (participants string, video sql.NullString, playback string, err error) {
	ps := room.Participants
	if ps == nil {
		ps = []types.Participant{}
	}
	b, err := json.Marshal(ps)
	if err != nil {
		return "", video, "", fmt.Errorf("encode participants: %w", err)
	}
	participants = string(b)

	if room.CurrentVideo != nil {
		b, err = json.Marshal(room.CurrentVideo)
		if err != nil {
			return "", video, "", fmt.Errorf("encode current video: %w", err)
		}
		video = sql.NullString{String: string(b), Valid: true}
	}

	b, err = json.Marshal(room.PlaybackState)
	if err != nil {
		return "", video, "", fmt.Errorf("encode playback state: %w", err)
	}
	playback = string(b)

	return participants, video, playback, nil
}
