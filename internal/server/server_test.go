package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/testutil"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = types.Identity{UserId: "u-alice", Username: "alice"}
	bob   = types.Identity{UserId: "u-bob", Username: "bob"}
	carol = types.Identity{UserId: "u-carol", Username: "carol"}
)

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestCoordinator(t *testing.T, repo Repository, opts Options) *Coordinator {
	reg := NewRegistry()
	l := testutil.TestLogger(t)
	c := NewCoordinator(l, repo, reg, NewLocalBroadcaster(reg, l), newMockStats(), opts)
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func newTestServer(t *testing.T) (*Coordinator, *database.MemoryWatchPartyRepository) {
	repo := database.NewMemoryWatchPartyRepository()
	return newTestCoordinator(t, repo, Options{}), repo
}

func newTestClient(t *testing.T, c *Coordinator, user types.Identity) *Client {
	cl := NewClient(user, nil, c, testutil.TestLogger(t), c.stats)
	c.Register(cl)
	return cl
}

// seedRoom stores an active room with the given code. The first participant
// is the host.
func seedRoom(t *testing.T, repo Repository, code string, members ...types.Participant) *types.Room {
	t.Helper()
	now := Now()
	room := &types.Room{
		RoomCode:       code,
		HostId:         members[0].UserId,
		Participants:   members,
		PlaybackState:  types.PlaybackState{LastUpdated: now},
		IsActive:       true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	require.NoError(t, repo.CreateRoom(context.Background(), room))
	return room
}

func member(user types.Identity, role types.Role, joined time.Time) types.Participant {
	return types.Participant{UserId: user.UserId, Username: user.Username, Role: role, JoinedAt: joined}
}

func getRoom(t *testing.T, repo Repository, code string) *types.Room {
	t.Helper()
	room, err := repo.GetRoom(context.Background(), code)
	require.NoError(t, err)
	return room
}

// drainEvents returns everything queued for cl so far.
func drainEvents(cl *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-cl.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventTypes(msgs []*ServerMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func assertCode(t *testing.T, err error, code apperror.Code) {
	t.Helper()
	var e *apperror.Error
	if assert.ErrorAs(t, err, &e) {
		assert.Equal(t, code, e.Code)
	}
}

func TestNewCoordinator_defaults(t *testing.T) {
	su := newMockStats()
	reg := NewRegistry()
	c := NewCoordinator(testutil.TestLogger(t), database.NewMemoryWatchPartyRepository(), reg, NewLocalBroadcaster(reg, testutil.TestLogger(t)), su, Options{})

	assert.Equal(t, DefaultGracePeriod, c.grace)
	assert.Equal(t, DefaultIdleRoomTimeout, c.idle)
	assert.Equal(t, reg, c.presence)
	su.AssertCalled(t, "RegisterMetric", stats.NumActiveClients)
	su.AssertCalled(t, "RegisterMetric", stats.NumActiveRooms)
	su.AssertCalled(t, "RegisterMetric", stats.NumCommands)
	su.AssertCalled(t, "RegisterMetric", stats.NumCommandErrors)
}

func TestCoordinator_exec(t *testing.T) {
	t.Run("jobs for one room never overlap", func(t *testing.T) {
		c, _ := newTestServer(t)

		var (
			running atomic.Int32
			overlap atomic.Bool
		)
		errs := make(chan error, 50)
		for range 50 {
			go func() {
				errs <- c.exec(context.Background(), "ROOM01", func(ctx context.Context) error {
					if running.Add(1) > 1 {
						overlap.Store(true)
					}
					defer running.Add(-1)
					time.Sleep(time.Millisecond)
					return nil
				})
			}()
		}

		for range 50 {
			assert.NoError(t, <-errs)
		}
		assert.False(t, overlap.Load(), "expected jobs for one room never to overlap")
		assert.Equal(t, 1, c.loadedRooms())
	})

	t.Run("returns job error", func(t *testing.T) {
		c, _ := newTestServer(t)
		boom := errors.New("boom")

		err := c.exec(context.Background(), "ROOM01", func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled context", func(t *testing.T) {
		c, _ := newTestServer(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.exec(ctx, "ROOM01", func(ctx context.Context) error {
			t.Error("expected job not to run")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("queue full", func(t *testing.T) {
		c, _ := newTestServer(t)
		release := make(chan struct{})
		started := make(chan struct{})

		go c.exec(context.Background(), "ROOM01", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
		<-started

		for range jobQueueSize {
			go c.exec(context.Background(), "ROOM01", func(ctx context.Context) error { return nil })
		}
		assert.Eventually(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return len(c.sessions["ROOM01"].jobs) == jobQueueSize
		}, time.Second, 5*time.Millisecond)

		err := c.exec(context.Background(), "ROOM01", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, apperror.ErrServiceUnavailable)
		close(release)
	})

	t.Run("after shutdown", func(t *testing.T) {
		c, _ := newTestServer(t)
		require.NoError(t, c.Shutdown(context.Background()))

		err := c.exec(context.Background(), "ROOM01", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, apperror.ErrServiceUnavailable)
	})
}

func TestCoordinator_idleSessionUnloads(t *testing.T) {
	c := newTestCoordinator(t, database.NewMemoryWatchPartyRepository(), Options{IdleRoomTimeout: 20 * time.Millisecond})

	require.NoError(t, c.exec(context.Background(), "ROOM01", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, c.loadedRooms())

	assert.Eventually(t, func() bool { return c.loadedRooms() == 0 }, time.Second, 5*time.Millisecond)

	// a new command reloads the session
	require.NoError(t, c.exec(context.Background(), "ROOM01", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 1, c.loadedRooms())
}

func TestCoordinator_unknownRoomUnloads(t *testing.T) {
	c, _ := newTestServer(t)
	cl := newTestClient(t, c, alice)

	err := c.Join(context.Background(), cl, "ZZZZ99")
	assertCode(t, err, apperror.CodeRoomNotFound)
	assert.Eventually(t, func() bool { return c.loadedRooms() == 0 }, time.Second, 5*time.Millisecond,
		"expected the session for a missing room to unload without waiting for the idle timeout")

	_, err = c.Admit(context.Background(), "ZZZZ98", bob)
	assertCode(t, err, apperror.CodeRoomNotFound)
	assert.Eventually(t, func() bool { return c.loadedRooms() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_Shutdown(t *testing.T) {
	c, _ := newTestServer(t)
	cl := newTestClient(t, c, alice)
	room, err := c.CreateRoom(context.Background(), alice)
	require.NoError(t, err)
	require.NoError(t, c.Join(context.Background(), cl, room.RoomCode))

	c.Disconnect(cl)
	assert.True(t, c.pendingGrace(room.RoomCode, alice.UserId))

	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, c.pendingGrace(room.RoomCode, alice.UserId), "expected grace timers to be cancelled")
	assert.NoError(t, c.Shutdown(context.Background()), "expected second shutdown to be a no-op")
}

func TestCoordinator_update(t *testing.T) {
	t.Run("retries on version conflict", func(t *testing.T) {
		repo := &database.MockWatchPartyRepository{}
		c := newTestCoordinator(t, repo, Options{})

		stored := &types.Room{
			RoomCode:     "ABC123",
			HostId:       alice.UserId,
			Participants: []types.Participant{member(alice, types.RoleHost, Now())},
			IsActive:     true,
			Version:      1,
		}
		repo.On("GetRoom", mock.Anything, "ABC123").Return(stored.Clone(), nil).Once()
		repo.On("GetRoom", mock.Anything, "ABC123").Return(stored.Clone(), nil).Once()
		repo.On("UpdateRoom", mock.Anything, mock.Anything).Return(database.ErrVersionConflict).Once()
		repo.On("UpdateRoom", mock.Anything, mock.Anything).Return(nil).Once()

		calls := 0
		room, err := c.update(context.Background(), "ABC123", func(room *types.Room) error {
			calls++
			room.PlaybackState.Timestamp = 42
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls, "expected mutation to be re-applied to a fresh copy")
		assert.Equal(t, float64(42), room.PlaybackState.Timestamp)
		repo.AssertNumberOfCalls(t, "UpdateRoom", 2)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		repo := &database.MockWatchPartyRepository{}
		c := newTestCoordinator(t, repo, Options{})

		repo.On("GetRoom", mock.Anything, "ABC123").Return(&types.Room{RoomCode: "ABC123", IsActive: true}, nil)
		repo.On("UpdateRoom", mock.Anything, mock.Anything).Return(database.ErrVersionConflict)

		_, err := c.update(context.Background(), "ABC123", func(room *types.Room) error { return nil })
		assert.ErrorIs(t, err, database.ErrVersionConflict)
		repo.AssertNumberOfCalls(t, "UpdateRoom", maxUpdateAttempts)
	})

	t.Run("skip write", func(t *testing.T) {
		repo := &database.MockWatchPartyRepository{}
		c := newTestCoordinator(t, repo, Options{})

		repo.On("GetRoom", mock.Anything, "ABC123").Return(&types.Room{RoomCode: "ABC123"}, nil)

		room, err := c.update(context.Background(), "ABC123", func(room *types.Room) error { return errSkipWrite })
		assert.NoError(t, err)
		assert.Equal(t, "ABC123", room.RoomCode)
		repo.AssertNotCalled(t, "UpdateRoom", mock.Anything, mock.Anything)
	})

	t.Run("room not found", func(t *testing.T) {
		c, _ := newTestServer(t)

		_, err := c.update(context.Background(), "NOPE00", func(room *types.Room) error { return nil })
		assert.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})

	t.Run("storage failure", func(t *testing.T) {
		repo := &database.MockWatchPartyRepository{}
		c := newTestCoordinator(t, repo, Options{})

		repo.On("GetRoom", mock.Anything, "ABC123").Return(nil, errors.New("connection refused"))

		_, err := c.update(context.Background(), "ABC123", func(room *types.Room) error { return nil })
		assert.Error(t, err)
		assert.Equal(t, apperror.KindInternal, apperror.From(err).Kind())
	})
}
