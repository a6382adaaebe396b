package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"chat-relay/core"

	"github.com/sirupsen/logrus"
)

// Conn is the outbound half of a physical connection.
type Conn interface {
	ID() string
	// Send writes one frame. It is only ever called from the session's writer
	// goroutine, never concurrently.
	Send(event string, payload any) error
	Close() error
}

// Transport is a physical connection as seen by the hub.
type Transport interface {
	Conn
	// Handshake returns the credential supplied while connecting, or "" when
	// the client must send an authenticate frame instead.
	Handshake() string
	// Receive blocks for the next inbound frame. It returns io.EOF once the
	// peer has gone away.
	Receive(ctx context.Context) (Inbound, error)
}

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type outbound struct {
	event   string
	payload any
}

// Session is one authenticated connection of a user.
type Session struct {
	id   string
	user core.User
	conn Conn
	log  *logrus.Entry

	state atomic.Int32
	out   chan outbound

	unhealthy     chan struct{}
	unhealthyOnce sync.Once

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, user core.User, conn Conn, queueSize int, cancel context.CancelFunc) *Session {
	user.Online = true
	return &Session{
		id:   id,
		user: user,
		conn: conn,
		log: logrus.WithFields(logrus.Fields{
			"session_id": id,
			"user_id":    user.ID,
		}),
		out:       make(chan outbound, queueSize),
		unhealthy: make(chan struct{}),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.user.ID }

// User returns the identity summary of the session owner.
func (s *Session) User() core.User { return s.user }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) {
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

func (s *Session) closed() bool { return s.State() == StateClosed }

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue queues a frame without blocking. A full queue marks the session
// unhealthy and watchHealth closes it.
func (s *Session) enqueue(event string, payload any) bool {
	if s.closed() {
		return false
	}
	select {
	case s.out <- outbound{event: event, payload: payload}:
		return true
	default:
		s.unhealthyOnce.Do(func() { close(s.unhealthy) })
		return false
	}
}

func (s *Session) sendError(err error) {
	s.enqueue(EventError, errorFrame(err))
}

// writeLoop drains the outbound queue until the session closes. closeFn is
// called when a write fails.
func (s *Session) writeLoop(closeFn func(reason string)) {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.out:
			if err := s.conn.Send(f.event, f.payload); err != nil {
				s.log.WithError(err).WithField("event", f.event).Warn("Failed to write frame")
				closeFn("transport write failed")
				return
			}
		}
	}
}

// watchHealth closes the session once its queue overflowed. It runs apart
// from the writer, which may be stuck in a slow write.
func (s *Session) watchHealth(closeFn func(reason string)) {
	select {
	case <-s.done:
	case <-s.unhealthy:
		s.log.Warn("Outbound queue overflow, closing slow session")
		closeFn("outbound queue overflow")
	}
}
