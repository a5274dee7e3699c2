package server

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/types"
)

const graceCheckTimeout = 10 * time.Second

type graceKey struct {
	roomCode string
	userId   string
}

type graceTimer struct {
	timer *time.Timer
	gen   uint64
}

// Disconnect handles a closed connection. Room membership is left untouched
// for the grace period so a reconnecting user keeps their place.
func (c *Coordinator) Disconnect(cl *Client) {
	roomCode := c.registry.Remove(cl)
	if roomCode == "" {
		return
	}

	c.log.Debug().
		Str("room", roomCode).
		Str("user", cl.user.UserId).
		Str("conn", cl.id).
		Dur("grace", c.grace).
		Msg("connection dropped, scheduling removal check")
	c.scheduleGrace(roomCode, cl.user)
}

// scheduleGrace starts, or restarts, the removal check for user in roomCode.
func (c *Coordinator) scheduleGrace(roomCode string, user types.Identity) {
	key := graceKey{roomCode: roomCode, userId: user.UserId}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if t, ok := c.timers[key]; ok {
		t.timer.Stop()
	}

	c.timerGen++
	gen := c.timerGen
	c.timers[key] = graceTimer{
		timer: time.AfterFunc(c.grace, func() { c.expireGrace(key, gen) }),
		gen:   gen,
	}
}

func (c *Coordinator) cancelGrace(roomCode, userId string) {
	key := graceKey{roomCode: roomCode, userId: userId}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[key]; ok {
		t.timer.Stop()
		delete(c.timers, key)
	}
}

func (c *Coordinator) pendingGrace(roomCode, userId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[graceKey{roomCode: roomCode, userId: userId}]
	return ok
}

func (c *Coordinator) expireGrace(key graceKey, gen uint64) {
	c.mu.Lock()
	t, ok := c.timers[key]
	if !ok || t.gen != gen {
		// cancelled or superseded
		c.mu.Unlock()
		return
	}
	delete(c.timers, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), graceCheckTimeout)
	defer cancel()

	err := c.exec(ctx, key.roomCode, func(ctx context.Context) error {
		live, err := c.presence.Connected(ctx, key.roomCode, key.userId)
		if err != nil {
			return err
		}
		if live {
			c.log.Debug().
				Str("room", key.roomCode).
				Str("user", key.userId).
				Msg("user reconnected during grace period")
			return nil
		}

		return c.removeMember(ctx, key.roomCode, key.userId)
	})
	if err != nil && !errors.Is(err, apperror.ErrRoomNotFound) {
		c.log.Error().
			Err(err).
			Str("room", key.roomCode).
			Str("user", key.userId).
			Str("action", "grace_expiry").
			Msg("removal check failed")
	}
}
