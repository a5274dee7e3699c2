// Package fanout relays room events between server instances over Redis
// pub/sub so a room's members may be connected to different processes.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	channelPrefix  = "watchparty:room:"
	presencePrefix = "watchparty:presence:"
	nodePrefix     = "watchparty:node:"

	kindBroadcast  = "broadcast"
	kindDisconnect = "disconnect"

	redisTimeout = 5 * time.Second

	// nodeTTL bounds how long the connections of a crashed instance keep
	// counting as live.
	nodeTTL       = 30 * time.Second
	nodeHeartbeat = nodeTTL / 3
)

// trackScript adjusts this node's connection count for one user in one room
// and drops the field once it reaches zero. It also refreshes the node's
// liveness key.
var trackScript = redis.NewScript(`
redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// connectedScript reports whether any live node still holds a connection for
// the user. Counts left behind by expired nodes are pruned.
var connectedScript = redis.NewScript(`
local fields = redis.call('HGETALL', KEYS[1])
local live = 0
for i = 1, #fields, 2 do
	local node = fields[i]
	if tonumber(fields[i + 1]) > 0 and redis.call('EXISTS', ARGV[1] .. node) == 1 then
		live = 1
	else
		redis.call('HDEL', KEYS[1], node)
	end
end
return live
`)

type envelope struct {
	Origin   string          `json:"origin"`
	Room     string          `json:"room"`
	Kind     string          `json:"kind"`
	SkipUser string          `json:"skipUser,omitempty"`
	UserId   string          `json:"userId,omitempty"`
	Message  json.RawMessage `json:"message"`
}

// wireMessage is a ServerMessage whose data is kept as raw JSON.
type wireMessage struct {
	server.BaseMessage
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Relay delivers events to local connections and publishes them for every
// other instance. It also tracks per-room presence in Redis so a grace
// period check sees connections held elsewhere.
type Relay struct {
	rdb      *redis.Client
	local    server.Broadcaster
	presence server.Presence
	nodeId   string
	log      zerolog.Logger
}

func NewRelay(rdb *redis.Client, local server.Broadcaster, presence server.Presence, l zerolog.Logger) *Relay {
	nodeId := uuid.NewString()
	return &Relay{
		rdb:      rdb,
		local:    local,
		presence: presence,
		nodeId:   nodeId,
		log:      l.With().Str("module", "fanout.relay").Str("node", nodeId).Logger(),
	}
}

func (r *Relay) Broadcast(roomCode string, msg *server.ServerMessage, skipUserId string) {
	r.local.Broadcast(roomCode, msg, skipUserId)
	r.publish(roomCode, kindBroadcast, skipUserId, "", msg)
}

func (r *Relay) Disconnect(roomCode, userId string, msg *server.ServerMessage) {
	r.local.Disconnect(roomCode, userId, msg)
	r.publish(roomCode, kindDisconnect, "", userId, msg)
}

func (r *Relay) publish(roomCode, kind, skipUserId, userId string, msg *server.ServerMessage) {
	payload, err := r.encode(roomCode, kind, skipUserId, userId, msg)
	if err != nil {
		r.log.Error().Err(err).Str("room", roomCode).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.rdb.Publish(ctx, channelPrefix+roomCode, payload).Err(); err != nil {
		r.log.Error().Err(err).Str("room", roomCode).Str("type", msg.Type).Msg("failed to publish event")
	}
}

func (r *Relay) encode(roomCode, kind, skipUserId, userId string, msg *server.ServerMessage) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{
		Origin:   r.nodeId,
		Room:     roomCode,
		Kind:     kind,
		SkipUser: skipUserId,
		UserId:   userId,
		Message:  raw,
	})
}

// Run consumes events published by other instances until ctx is done. While
// it runs the node's liveness key is kept fresh.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	r.log.Info().Msg("relay subscribed")

	r.beat(ctx)
	defer r.retire()

	ticker := time.NewTicker(nodeHeartbeat)
	defer ticker.Stop()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.beat(ctx)
		case m, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			if err := r.handlePayload([]byte(m.Payload)); err != nil {
				r.log.Warn().Err(err).Str("channel", m.Channel).Msg("dropping relayed event")
			}
		}
	}
}

func (r *Relay) nodeKey() string {
	return nodePrefix + r.nodeId
}

func (r *Relay) beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := r.rdb.Set(ctx, r.nodeKey(), "1", nodeTTL).Err(); err != nil {
		r.log.Error().Err(err).Msg("failed to refresh node liveness")
	}
}

// retire drops the liveness key so other instances stop counting this
// node's connections right away.
func (r *Relay) retire() {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.rdb.Del(ctx, r.nodeKey()).Err(); err != nil {
		r.log.Error().Err(err).Msg("failed to remove node liveness")
	}
}

func (r *Relay) handlePayload(payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Origin == r.nodeId {
		return nil
	}

	var wire wireMessage
	if err := json.Unmarshal(env.Message, &wire); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	msg := &server.ServerMessage{BaseMessage: wire.BaseMessage, Type: wire.Type}
	if len(wire.Data) > 0 {
		msg.Data = wire.Data
	}

	switch env.Kind {
	case kindBroadcast:
		r.local.Broadcast(env.Room, msg, env.SkipUser)
	case kindDisconnect:
		r.local.Disconnect(env.Room, env.UserId, msg)
	default:
		return fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return nil
}

func presenceKey(roomCode, userId string) string {
	return presencePrefix + roomCode + ":" + userId
}

// Track is a server.PresenceHook. Each node owns its own count for a user so
// a drop on one node never erases a connection held by another.
func (r *Relay) Track(roomCode, userId string, delta int) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	keys := []string{presenceKey(roomCode, userId), r.nodeKey()}
	err := trackScript.Run(ctx, r.rdb, keys, r.nodeId, delta, nodeTTL.Milliseconds()).Err()
	if err != nil {
		r.log.Error().Err(err).Str("room", roomCode).Str("user", userId).Msg("failed to update presence")
	}
}

// Connected reports whether userId has a live connection in roomCode on any
// instance.
func (r *Relay) Connected(ctx context.Context, roomCode, userId string) (bool, error) {
	if live, err := r.presence.Connected(ctx, roomCode, userId); err == nil && live {
		return true, nil
	}

	live, err := connectedScript.Run(ctx, r.rdb, []string{presenceKey(roomCode, userId)}, nodePrefix).Int()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return live == 1, nil
}
