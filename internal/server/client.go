package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	commandTimeout = 10 * time.Second
	sendBufferSize = 256
)

// CommandHandler receives the commands read from a client connection.
type CommandHandler interface {
	Dispatch(ctx context.Context, c *Client, msg *ClientMessage)
	Disconnect(c *Client)
}

type Client struct {
	id        string
	conn      *websocket.Conn
	handler   CommandHandler
	log       zerolog.Logger
	user      types.Identity
	send      chan *ServerMessage
	stop      chan struct{}
	stopOnce  sync.Once
	closing   chan struct{}
	closeOnce sync.Once
	stats     stats.StatsProvider
}

func NewClient(user types.Identity, conn *websocket.Conn, h CommandHandler, l zerolog.Logger, s stats.StatsProvider) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		handler: h,
		log: l.With().
			Str("module", "server.client").
			Str("conn", id).
			Str("user", user.UserId).
			Logger(),
		user:    user,
		send:    make(chan *ServerMessage, sendBufferSize),
		stop:    make(chan struct{}),
		closing: make(chan struct{}),
		stats:   s,
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.Identity {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.writeServerMessage(msg) {
				return
			}
		case <-c.closing:
			c.flush()
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, removedByHostReason))
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	c.stats.Incr(stats.NumActiveClients)
	defer func() {
		c.conn.Close()
		c.handler.Disconnect(c)
		c.stopClient()
		c.stats.Decr(stats.NumActiveClients)
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrorMessage(0, apperror.InvalidInput("Invalid message format")))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		c.handler.Dispatch(ctx, c, &msg)
		cancel()
	}
}

// queueMessage hands msg to the write pump without blocking. Messages to a
// client whose buffer is full are dropped.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("type", msg.Type).Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

// forceClose queues msg, then closes the connection once everything queued
// before it has been written.
func (c *Client) forceClose(msg *ServerMessage) {
	c.queueMessage(msg)
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.writeServerMessage(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeServerMessage(msg *ServerMessage) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.Type).Msg("failed to serialize message")
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes)
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
