package server

import "github.com/rs/zerolog"

// Broadcaster fans events out to the connections subscribed to a room.
type Broadcaster interface {
	// Broadcast sends msg to every connection in the room except those
	// belonging to skipUserId.
	Broadcast(roomCode string, msg *ServerMessage, skipUserId string)
	// Disconnect sends msg to userId's connections in the room, takes them
	// out of the room and closes them.
	Disconnect(roomCode, userId string, msg *ServerMessage)
}

// LocalBroadcaster delivers to the connections held by this process.
type LocalBroadcaster struct {
	registry *Registry
	log      zerolog.Logger
}

func NewLocalBroadcaster(r *Registry, l zerolog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		registry: r,
		log:      l.With().Str("module", "server.broadcaster").Logger(),
	}
}

func (b *LocalBroadcaster) Broadcast(roomCode string, msg *ServerMessage, skipUserId string) {
	conns := b.registry.RoomConnections(roomCode)
	b.log.Debug().
		Str("room", roomCode).
		Str("type", msg.Type).
		Int("conns", len(conns)).
		Msg("broadcast")

	for _, c := range conns {
		if skipUserId != "" && c.user.UserId == skipUserId {
			continue
		}
		c.queueMessage(msg)
	}
}

func (b *LocalBroadcaster) Disconnect(roomCode, userId string, msg *ServerMessage) {
	for _, c := range b.registry.UserConnections(roomCode, userId) {
		b.registry.Leave(c)
		c.forceClose(msg)
		b.log.Info().
			Str("room", roomCode).
			Str("user", userId).
			Str("conn", c.id).
			Msg("force disconnected")
	}
}
