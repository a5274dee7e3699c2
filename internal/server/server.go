package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/roomcode"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/rs/zerolog"
)

const (
	DefaultGracePeriod     = 10 * time.Second
	DefaultIdleRoomTimeout = 5 * time.Minute

	maxUpdateAttempts = 3
	jobQueueSize      = 256
)

type Repository interface {
	database.RoomRepository
	database.MessageRepository
}

type Options struct {
	// GracePeriod is how long a disconnected user stays in a room before
	// being removed.
	GracePeriod time.Duration
	// IdleRoomTimeout unloads a room's command loop after this long
	// without commands.
	IdleRoomTimeout time.Duration
	CodeLength      int
	// Presence overrides the live-connection check made when a grace period
	// expires. Defaults to the registry.
	Presence Presence
}

// Coordinator owns every state change of every room. Commands for one room
// run one at a time on that room's session loop, in submission order.
type Coordinator struct {
	log      zerolog.Logger
	repo     Repository
	registry *Registry
	bcast    Broadcaster
	presence Presence
	codes    *roomcode.Generator
	stats    stats.StatsProvider
	grace    time.Duration
	idle     time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*roomSession
	timers   map[graceKey]graceTimer
	timerGen uint64
	closed   bool
	wg       sync.WaitGroup
}

func NewCoordinator(l zerolog.Logger, repo Repository, reg *Registry, b Broadcaster, su stats.StatsProvider, opts Options) *Coordinator {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.IdleRoomTimeout <= 0 {
		opts.IdleRoomTimeout = DefaultIdleRoomTimeout
	}
	if opts.CodeLength == 0 {
		opts.CodeLength = roomcode.DefaultLength
	}
	if opts.Presence == nil {
		opts.Presence = reg
	}

	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.NumCommands)
	su.RegisterMetric(stats.NumCommandErrors)

	return &Coordinator{
		log:      l.With().Str("module", "server.coordinator").Logger(),
		repo:     repo,
		registry: reg,
		bcast:    b,
		presence: opts.Presence,
		codes:    roomcode.NewGenerator(opts.CodeLength),
		stats:    su,
		grace:    opts.GracePeriod,
		idle:     opts.IdleRoomTimeout,
		now:      Now,
		sessions: make(map[string]*roomSession),
		timers:   make(map[graceKey]graceTimer),
	}
}

// Register records a newly authenticated connection.
func (c *Coordinator) Register(cl *Client) {
	c.registry.Add(cl)
}

// exec runs fn on the session loop of roomCode and waits for its result.
func (c *Coordinator) exec(ctx context.Context, roomCode string, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperror.ErrServiceUnavailable
	}

	s, ok := c.sessions[roomCode]
	if !ok {
		s = newRoomSession(c, roomCode)
		c.sessions[roomCode] = s
		c.wg.Add(1)
		c.stats.Incr(stats.NumActiveRooms)
		go s.start()
	}

	select {
	case s.jobs <- j:
	default:
		c.mu.Unlock()
		c.log.Warn().Str("room", roomCode).Msg("room job queue full")
		return apperror.ErrServiceUnavailable
	}
	c.mu.Unlock()

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-j.result:
			return err
		default:
			return apperror.ErrServiceUnavailable
		}
	}
}

// unloadSession removes an idle session. It fails if jobs were queued after
// the session went idle.
func (c *Coordinator) unloadSession(s *roomSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(s.jobs) > 0 {
		return false
	}
	if c.sessions[s.roomCode] == s {
		delete(c.sessions, s.roomCode)
		c.stats.Decr(stats.NumActiveRooms)
	}
	return true
}

func (c *Coordinator) loadedRooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown stops accepting commands, cancels pending grace timers and waits
// for every room loop to finish its queued jobs.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for key, t := range c.timers {
		t.timer.Stop()
		delete(c.timers, key)
	}
	for _, s := range c.sessions {
		close(s.exit)
	}
	c.mu.Unlock()

	c.log.Info().Msg("shutting down rooms")

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for rooms: %w", ctx.Err())
	}
}

// errSkipWrite tells update that the mutation found nothing to change.
var errSkipWrite = errors.New("skip write")

// update loads roomCode, applies fn and writes the result back. A write that
// loses a version race is retried against a fresh copy.
func (c *Coordinator) update(ctx context.Context, roomCode string, fn func(room *types.Room) error) (*types.Room, error) {
	for attempt := 1; ; attempt++ {
		room, err := c.loadRoom(ctx, roomCode)
		if err != nil {
			return nil, err
		}

		if err := fn(room); err != nil {
			if errors.Is(err, errSkipWrite) {
				return room, nil
			}
			return nil, err
		}

		err = c.repo.UpdateRoom(ctx, room)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, database.ErrVersionConflict) || attempt >= maxUpdateAttempts {
			return nil, fmt.Errorf("update room %s: %w", roomCode, err)
		}

		c.log.Debug().
			Str("room", roomCode).
			Int("attempt", attempt).
			Msg("room version conflict, retrying")
	}
}

func (c *Coordinator) loadRoom(ctx context.Context, roomCode string) (*types.Room, error) {
	room, err := c.repo.GetRoom(ctx, roomCode)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", roomCode, err)
	}
	return room, nil
}
