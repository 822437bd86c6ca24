package ws

import (
	"errors"
	"sync"
)

var (
	errSessionClosed = errors.New("session closed")
	errQueueFull     = errors.New("send queue full")
)

// session is one connected client's outbound side. Send never blocks the
// caller: a full queue or a closed session reports an error and the frame
// is dropped, leaving retry to a later tick.
type session struct {
	id  string
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, queue int) *session {
	return &session{
		id:     id,
		out:    make(chan []byte, queue),
		closed: make(chan struct{}),
	}
}

func (s *session) ID() string { return s.id }

func (s *session) Send(b []byte) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- b:
		return nil
	default:
		return errQueueFull
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
