package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/permission"
	"github.com/npezzotti/go-watchparty/internal/playback"
	"github.com/npezzotti/go-watchparty/internal/roomcode"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/npezzotti/go-watchparty/internal/youtube"
)

const MaxMessageLength = 500

// CreateRoom creates an active room with owner as its only participant and
// host.
func (c *Coordinator) CreateRoom(ctx context.Context, owner types.Identity) (*types.Room, error) {
	if owner.UserId == "" {
		return nil, apperror.ErrAuthRequired
	}

	var room *types.Room
	_, err := c.codes.Next(ctx, func(ctx context.Context, code string) (bool, error) {
		now := c.now()
		candidate := &types.Room{
			RoomCode: code,
			HostId:   owner.UserId,
			Participants: []types.Participant{{
				UserId:   owner.UserId,
				Username: owner.Username,
				Role:     types.RoleHost,
				JoinedAt: now,
			}},
			PlaybackState:  playback.Reset(now),
			IsActive:       true,
			CreatedAt:      now,
			LastActivityAt: now,
		}

		err := c.repo.CreateRoom(ctx, candidate)
		if errors.Is(err, database.ErrDuplicateRoomCode) {
			c.log.Debug().Str("room", code).Msg("room code collision")
			return true, nil
		}
		if err != nil {
			return false, err
		}

		room = candidate
		return false, nil
	})
	if err != nil {
		if errors.Is(err, roomcode.ErrExhausted) {
			return nil, apperror.ErrCodeGenerationExhausted
		}
		return nil, fmt.Errorf("create room: %w", err)
	}

	c.log.Info().Str("room", room.RoomCode).Str("user", owner.UserId).Msg("room created")
	return room, nil
}

// Room returns the stored state of roomCode.
func (c *Coordinator) Room(ctx context.Context, roomCode string) (*types.Room, error) {
	if !roomcode.Valid(roomCode) {
		return nil, apperror.ErrInvalidRoomCode
	}
	return c.loadRoom(ctx, roomCode)
}

// Messages returns chat history for roomCode older than before.
func (c *Coordinator) Messages(ctx context.Context, roomCode string, before time.Time, limit int) ([]types.Message, error) {
	if !roomcode.Valid(roomCode) {
		return nil, apperror.ErrInvalidRoomCode
	}
	if _, err := c.loadRoom(ctx, roomCode); err != nil {
		return nil, err
	}

	msgs, err := c.repo.GetMessages(ctx, roomCode, before, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return msgs, nil
}

// Admit adds user to roomCode without a live connection. Clients call it over
// HTTP before opening their socket.
func (c *Coordinator) Admit(ctx context.Context, roomCode string, user types.Identity) (*types.Room, error) {
	if !roomcode.Valid(roomCode) {
		return nil, apperror.ErrInvalidRoomCode
	}

	var room *types.Room
	err := c.exec(ctx, roomCode, func(ctx context.Context) error {
		r, added, err := c.admit(ctx, roomCode, user)
		if err != nil {
			return err
		}
		if added {
			c.announceJoin(ctx, r, user)
		}
		room = r
		return nil
	})
	return room, err
}

// Join adds the connection's user to roomCode, subscribes the connection to
// the room's events and replies with a sync_state snapshot.
func (c *Coordinator) Join(ctx context.Context, cl *Client, roomCode string) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}

	user := cl.user
	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		room, added, err := c.admit(ctx, roomCode, user)
		if err != nil {
			return err
		}

		prev, ok := c.registry.Join(cl, roomCode)
		if !ok {
			// the socket closed while the job was queued
			c.log.Debug().
				Str("room", roomCode).
				Str("user", user.UserId).
				Str("conn", cl.id).
				Msg("connection gone before join completed")
			if added {
				c.announceJoin(ctx, room, user)
			}
			c.scheduleGrace(roomCode, user)
			return nil
		}

		c.cancelGrace(roomCode, user.UserId)
		if prev != "" && prev != roomCode {
			c.scheduleGrace(prev, user)
		}

		cl.queueMessage(newEvent(EventSyncState, c.syncState(room)))
		if added {
			c.announceJoin(ctx, room, user)
		}
		return nil
	})
}

func (c *Coordinator) admit(ctx context.Context, roomCode string, user types.Identity) (*types.Room, bool, error) {
	var added bool
	room, err := c.update(ctx, roomCode, func(room *types.Room) error {
		added = false
		if !room.IsActive {
			return apperror.ErrRoomInactive
		}
		if _, ok := room.Participant(user.UserId); ok {
			return errSkipWrite
		}

		now := c.now()
		room.Participants = append(room.Participants, types.Participant{
			UserId:   user.UserId,
			Username: user.Username,
			Role:     types.RoleParticipant,
			JoinedAt: now,
		})
		room.LastActivityAt = now
		added = true
		return nil
	})
	return room, added, err
}

func (c *Coordinator) announceJoin(ctx context.Context, room *types.Room, user types.Identity) {
	c.bcast.Broadcast(room.RoomCode, newEvent(EventUserJoined, UserEvent{
		UserId:   user.UserId,
		Username: user.Username,
		Role:     types.RoleParticipant,
	}), user.UserId)
	c.systemMessage(ctx, room, fmt.Sprintf("%s joined the room", user.Username))
}

func (c *Coordinator) syncState(room *types.Room) SyncState {
	return SyncState{
		CurrentVideo:  room.CurrentVideo,
		PlaybackState: playback.Snapshot(room.PlaybackState, c.now()),
		Participants:  room.Participants,
	}
}

// Leave removes the connection's user from roomCode and unsubscribes all of
// that user's connections from it.
func (c *Coordinator) Leave(ctx context.Context, cl *Client, roomCode string) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}

	user := cl.user
	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		c.cancelGrace(roomCode, user.UserId)
		for _, conn := range c.registry.UserConnections(roomCode, user.UserId) {
			c.registry.Leave(conn)
		}
		return c.removeMember(ctx, roomCode, user.UserId)
	})
}

// removeMember is the membership change shared by leave and grace expiry. A
// host who is the last participant deactivates the room instead. A host who
// leaves others behind hands the role to a successor.
func (c *Coordinator) removeMember(ctx context.Context, roomCode, userId string) error {
	var (
		left        types.Participant
		successor   *types.Participant
		deactivated bool
	)

	room, err := c.update(ctx, roomCode, func(room *types.Room) error {
		left, successor, deactivated = types.Participant{}, nil, false
		if !room.IsActive {
			return errSkipWrite
		}
		p, ok := room.Participant(userId)
		if !ok {
			return errSkipWrite
		}

		now := c.now()
		room.LastActivityAt = now
		if p.Role == types.RoleHost && len(room.Participants) == 1 {
			room.IsActive = false
			deactivated = true
			left = *p
			return nil
		}

		left, _ = room.RemoveParticipant(userId)
		if left.Role == types.RoleHost {
			next, _ := room.Successor()
			next.Role = types.RoleHost
			room.HostId = next.UserId
			s := *next
			successor = &s
		}
		return nil
	})
	if err != nil {
		return err
	}

	if deactivated {
		c.log.Info().Str("room", roomCode).Str("user", userId).Msg("host left, room deactivated")
		return nil
	}
	if left.UserId == "" {
		return nil
	}

	c.bcast.Broadcast(roomCode, newEvent(EventUserLeft, UserEvent{
		UserId:   left.UserId,
		Username: left.Username,
	}), left.UserId)
	if successor != nil {
		c.bcast.Broadcast(roomCode, newEvent(EventHostTransferred, HostTransferred{
			NewHostId:       successor.UserId,
			NewHostUsername: successor.Username,
			PreviousHostId:  left.UserId,
		}), "")
	}
	c.systemMessage(ctx, room, fmt.Sprintf("%s left the room", left.Username))
	return nil
}

// SetPlayback applies a play, pause or seek and echoes it to the whole room.
func (c *Coordinator) SetPlayback(ctx context.Context, roomCode string, user types.Identity, action playback.Action, ts float64) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}
	if !playback.ValidTimestamp(ts) {
		return apperror.ErrInvalidTimestamp
	}
	switch action {
	case playback.ActionPlay, playback.ActionPause, playback.ActionSeek:
	default:
		return apperror.InvalidInput("Invalid playback action")
	}

	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		_, err := c.update(ctx, roomCode, func(room *types.Room) error {
			if err := authorizePlayback(room, user.UserId); err != nil {
				return err
			}

			now := c.now()
			room.PlaybackState = playback.Apply(room.PlaybackState, action, ts, now)
			room.LastActivityAt = now
			return nil
		})
		if err != nil {
			return err
		}

		c.bcast.Broadcast(roomCode, newEvent(string(action), PlaybackEvent{Timestamp: ts}), "")
		return nil
	})
}

// ChangeVideo loads a new YouTube video and resets the clock to paused at 0.
func (c *Coordinator) ChangeVideo(ctx context.Context, roomCode string, user types.Identity, youtubeUrl string) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}
	videoId, ok := youtube.ExtractVideoId(youtubeUrl)
	if !ok {
		return apperror.ErrInvalidYoutubeUrl
	}

	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		var video types.Video
		_, err := c.update(ctx, roomCode, func(room *types.Room) error {
			if err := authorizePlayback(room, user.UserId); err != nil {
				return err
			}

			now := c.now()
			video = types.Video{
				VideoId:  videoId,
				Title:    youtube.DefaultTitle(videoId),
				LoadedAt: now,
			}
			room.CurrentVideo = &video
			room.PlaybackState = playback.Reset(now)
			room.LastActivityAt = now
			return nil
		})
		if err != nil {
			return err
		}

		c.bcast.Broadcast(roomCode, newEvent(EventChangeVideo, VideoChanged{
			VideoId: video.VideoId,
			Title:   video.Title,
		}), "")
		return nil
	})
}

func authorizePlayback(room *types.Room, userId string) error {
	if !room.IsActive {
		return apperror.ErrRoomInactive
	}
	p, ok := room.Participant(userId)
	if !ok || !permission.CanControlPlayback(p.Role) {
		return apperror.Forbidden("Insufficient permissions to control playback")
	}
	return nil
}

// AssignRole sets a non-host participant's role to moderator or participant.
func (c *Coordinator) AssignRole(ctx context.Context, roomCode string, user types.Identity, targetUserId, roleName string) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}
	role, ok := types.ParseRole(roleName)
	if !ok {
		return apperror.ErrInvalidRole
	}
	if role == types.RoleHost {
		return apperror.InvalidInput("Use transfer_host to change the host")
	}

	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		var target types.Participant
		_, err := c.update(ctx, roomCode, func(room *types.Room) error {
			if !room.IsActive {
				return apperror.ErrRoomInactive
			}
			if !permission.IsHost(room, user.UserId) {
				return apperror.Forbidden("Only the host can assign roles")
			}
			if targetUserId == room.HostId {
				return apperror.InvalidInput("Use transfer_host to change the host")
			}
			p, ok := room.Participant(targetUserId)
			if !ok {
				return apperror.ErrParticipantNotFound
			}

			p.Role = role
			room.LastActivityAt = c.now()
			target = *p
			return nil
		})
		if err != nil {
			return err
		}

		c.bcast.Broadcast(roomCode, newEvent(EventRoleAssigned, UserEvent{
			UserId:   target.UserId,
			Username: target.Username,
			Role:     target.Role,
		}), "")
		return nil
	})
}

// TransferHost makes targetUserId the host and demotes the current host to
// participant in one write.
func (c *Coordinator) TransferHost(ctx context.Context, roomCode string, user types.Identity, targetUserId string) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}

	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		var target types.Participant
		_, err := c.update(ctx, roomCode, func(room *types.Room) error {
			if !room.IsActive {
				return apperror.ErrRoomInactive
			}
			if !permission.IsHost(room, user.UserId) {
				return apperror.Forbidden("Only the host can transfer host")
			}
			if targetUserId == user.UserId {
				return apperror.InvalidInput("You are already the host")
			}
			next, ok := room.Participant(targetUserId)
			if !ok {
				return apperror.ErrParticipantNotFound
			}
			current, ok := room.Participant(user.UserId)
			if !ok {
				return apperror.ErrParticipantNotFound
			}

			current.Role = types.RoleParticipant
			next.Role = types.RoleHost
			room.HostId = next.UserId
			room.LastActivityAt = c.now()
			target = *next
			return nil
		})
		if err != nil {
			return err
		}

		c.bcast.Broadcast(roomCode, newEvent(EventHostTransferred, HostTransferred{
			NewHostId:       target.UserId,
			NewHostUsername: target.Username,
			PreviousHostId:  user.UserId,
		}), "")
		return nil
	})
}

// RemoveParticipant removes targetUserId from the room and force-disconnects
// their connections in it.
func (c *Coordinator) RemoveParticipant(ctx context.Context, roomCode string, user types.Identity, targetUserId string) error {
	if !roomcode.Valid(roomCode) {
		return apperror.ErrInvalidRoomCode
	}

	return c.exec(ctx, roomCode, func(ctx context.Context) error {
		var removed types.Participant
		_, err := c.update(ctx, roomCode, func(room *types.Room) error {
			if !room.IsActive {
				return apperror.ErrRoomInactive
			}
			if !permission.IsHost(room, user.UserId) {
				return apperror.Forbidden("Only the host can remove participants")
			}
			if targetUserId == user.UserId {
				return apperror.InvalidInput("Host cannot remove themselves")
			}
			p, ok := room.RemoveParticipant(targetUserId)
			if !ok {
				return apperror.ErrParticipantNotFound
			}

			room.LastActivityAt = c.now()
			removed = p
			return nil
		})
		if err != nil {
			return err
		}

		c.cancelGrace(roomCode, removed.UserId)
		c.bcast.Disconnect(roomCode, removed.UserId, newEvent(EventForceDisconnect, ForceDisconnect{
			Reason: removedByHostReason,
		}))
		c.bcast.Broadcast(roomCode, newEvent(EventParticipantRemoved, UserEvent{
			UserId:   removed.UserId,
			Username: removed.Username,
		}), removed.UserId)
		return nil
	})
}

// SendMessage appends a user chat message and broadcasts it.
func (c *Coordinator) SendMessage(ctx context.Context, roomCode string, user types.Identity, content string) (*types.Message, error) {
	if !roomcode.Valid(roomCode) {
		return nil, apperror.ErrInvalidRoomCode
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.ErrMessageEmpty
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperror.ErrMessageTooLong
	}

	var msg *types.Message
	err := c.exec(ctx, roomCode, func(ctx context.Context) error {
		room, err := c.loadRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		if !room.IsActive {
			return apperror.ErrRoomInactive
		}

		m := &types.Message{
			RoomId:    room.Id,
			RoomCode:  roomCode,
			UserId:    user.UserId,
			Username:  user.Username,
			Content:   content,
			Type:      types.MessageTypeUser,
			Timestamp: c.now(),
		}
		if err := c.repo.CreateMessage(ctx, m); err != nil {
			return fmt.Errorf("save message: %w", err)
		}

		c.bcast.Broadcast(roomCode, newEvent(EventNewMessage, m), "")
		msg = m
		return nil
	})
	return msg, err
}

// systemMessage records and broadcasts a room notice. The membership change
// it describes is already committed, so failures are only logged.
func (c *Coordinator) systemMessage(ctx context.Context, room *types.Room, content string) {
	m := &types.Message{
		RoomId:    room.Id,
		RoomCode:  room.RoomCode,
		Content:   content,
		Type:      types.MessageTypeSystem,
		Timestamp: c.now(),
	}
	if err := c.repo.CreateMessage(ctx, m); err != nil {
		c.log.Error().Err(err).Str("room", room.RoomCode).Msg("failed to save system message")
		return
	}

	c.bcast.Broadcast(room.RoomCode, newEvent(EventNewMessage, m), "")
}
