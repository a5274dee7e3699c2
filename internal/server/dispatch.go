package server

import (
	"context"
	"encoding/json"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/playback"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/rs/zerolog"
)

// Dispatch runs one client command. Failures are answered with an error event
// to the sending connection only.
func (c *Coordinator) Dispatch(ctx context.Context, cl *Client, msg *ClientMessage) {
	c.stats.Incr(stats.NumCommands)

	var payload CommandPayload
	err := decodePayload(msg.Data, &payload)
	if err == nil {
		err = c.handle(ctx, cl, msg.Type, &payload)
	}
	if err == nil {
		return
	}

	c.stats.Incr(stats.NumCommandErrors)

	level := zerolog.DebugLevel
	if apperror.From(err).Kind() == apperror.KindInternal {
		level = zerolog.ErrorLevel
	}
	c.log.WithLevel(level).
		Err(err).
		Str("room", payload.RoomCode).
		Str("user", cl.user.UserId).
		Str("conn", cl.id).
		Str("action", msg.Type).
		Msg("command failed")

	cl.queueMessage(ErrorMessage(msg.Id, err))
}

func (c *Coordinator) handle(ctx context.Context, cl *Client, cmd string, p *CommandPayload) error {
	user := cl.user

	switch cmd {
	case CmdJoinRoom:
		return c.Join(ctx, cl, p.RoomCode)
	case CmdLeaveRoom:
		return c.Leave(ctx, cl, p.RoomCode)
	case CmdPlay, CmdPause, CmdSeek:
		ts, err := parseTimestamp(p.Timestamp)
		if err != nil {
			return err
		}
		return c.SetPlayback(ctx, p.RoomCode, user, playback.Action(cmd), ts)
	case CmdChangeVideo:
		return c.ChangeVideo(ctx, p.RoomCode, user, p.YoutubeUrl)
	case CmdAssignRole:
		return c.AssignRole(ctx, p.RoomCode, user, p.TargetUserId, p.Role)
	case CmdTransferHost:
		return c.TransferHost(ctx, p.RoomCode, user, p.TargetUserId)
	case CmdRemoveParticipant:
		return c.RemoveParticipant(ctx, p.RoomCode, user, p.TargetUserId)
	case CmdSendMessage:
		_, err := c.SendMessage(ctx, p.RoomCode, user, p.Content)
		return err
	default:
		return apperror.InvalidInput("Unknown command")
	}
}

func decodePayload(data json.RawMessage, p *CommandPayload) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return apperror.InvalidInput("Invalid message format").WithErr(err)
	}
	return nil
}

// parseTimestamp accepts only a JSON number.
func parseTimestamp(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, apperror.ErrInvalidTimestamp
	}

	var ts float64
	if err := json.Unmarshal(raw, &ts); err != nil {
		return 0, apperror.ErrInvalidTimestamp.WithErr(err)
	}
	return ts, nil
}
