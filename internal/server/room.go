package server

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-watchparty/internal/apperror"
	"github.com/rs/zerolog"
)

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

func (j *job) run() error {
	err := j.ctx.Err()
	if err == nil {
		err = j.fn(j.ctx)
	}
	j.result <- err
	return err
}

// roomSession is the single writer for one room code.
type roomSession struct {
	roomCode string
	c        *Coordinator
	log      zerolog.Logger
	jobs     chan *job
	// exit asks the loop to finish queued jobs and stop
	exit chan struct{}
	done chan struct{}
}

func newRoomSession(c *Coordinator, roomCode string) *roomSession {
	return &roomSession{
		roomCode: roomCode,
		c:        c,
		log:      c.log.With().Str("room", roomCode).Logger(),
		jobs:     make(chan *job, jobQueueSize),
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *roomSession) start() {
	s.log.Debug().Msg("starting room")
	killTimer := time.NewTimer(s.c.idle)
	defer func() {
		killTimer.Stop()
		close(s.done)
		s.c.wg.Done()
		s.log.Debug().Msg("room exited")
	}()

	for {
		select {
		case j := <-s.jobs:
			// a code with no stored room has nothing to coordinate
			if err := j.run(); errors.Is(err, apperror.ErrRoomNotFound) && s.c.unloadSession(s) {
				return
			}
			killTimer.Reset(s.c.idle)
		case <-killTimer.C:
			if s.c.unloadSession(s) {
				return
			}
			killTimer.Reset(s.c.idle)
		case <-s.exit:
			s.drain()
			return
		}
	}
}

func (s *roomSession) drain() {
	for {
		select {
		case j := <-s.jobs:
			j.run()
		default:
			return
		}
	}
}
