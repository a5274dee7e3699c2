package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/types"
)

// Commands sent by clients.
const (
	CmdJoinRoom          = "join_room"
	CmdLeaveRoom         = "leave_room"
	CmdPlay              = "play"
	CmdPause             = "pause"
	CmdSeek              = "seek"
	CmdChangeVideo       = "change_video"
	CmdAssignRole        = "assign_role"
	CmdTransferHost      = "transfer_host"
	CmdRemoveParticipant = "remove_participant"
	CmdSendMessage       = "send_message"
)

// Events sent by the server.
const (
	EventSyncState          = "sync_state"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventPlay               = "play"
	EventPause              = "pause"
	EventSeek               = "seek"
	EventChangeVideo        = "change_video"
	EventRoleAssigned       = "role_assigned"
	EventHostTransferred    = "host_transferred"
	EventParticipantRemoved = "participant_removed"
	EventForceDisconnect    = "force_disconnect"
	EventNewMessage         = "new_message"
	EventError              = "error"
)

const removedByHostReason = "Removed from room by host"

type ClientMessage struct {
	Id   int             `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandPayload is the union of the fields carried by client commands.
type CommandPayload struct {
	RoomCode     string          `json:"roomCode"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
	YoutubeUrl   string          `json:"youtubeUrl,omitempty"`
	TargetUserId string          `json:"targetUserId,omitempty"`
	Role         string          `json:"role,omitempty"`
	Content      string          `json:"content,omitempty"`
}

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ServerMessage struct {
	BaseMessage
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type SyncState struct {
	CurrentVideo  *types.Video        `json:"currentVideo"`
	PlaybackState types.PlaybackState `json:"playbackState"`
	Participants  []types.Participant `json:"participants"`
}

type UserEvent struct {
	UserId   string     `json:"userId"`
	Username string     `json:"username"`
	Role     types.Role `json:"role,omitempty"`
}

type PlaybackEvent struct {
	Timestamp float64 `json:"timestamp"`
}

type VideoChanged struct {
	VideoId string `json:"videoId"`
	Title   string `json:"title"`
}

type HostTransferred struct {
	NewHostId       string `json:"newHostId"`
	NewHostUsername string `json:"newHostUsername"`
	PreviousHostId  string `json:"previousHostId"`
}

type ForceDisconnect struct {
	Reason string `json:"reason"`
}

type ErrorEvent struct {
	Message string        `json:"message"`
	Code    apperror.Code `json:"code"`
}

func newEvent(eventType string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Type:        eventType,
		Data:        data,
	}
}

// ErrorMessage builds the unicast error reply for the command with the given
// id. Only the public message of err is sent.
func ErrorMessage(id int, err error) *ServerMessage {
	e := apperror.From(err)
	msg := newEvent(EventError, ErrorEvent{Message: e.Message, Code: e.Code})
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
