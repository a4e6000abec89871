package core

import (
	"sync"

	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

// sessionBuffer is the per-session outbound queue depth. Broadcast drops
// frames for a session whose queue is full rather than stalling the hub.
const sessionBuffer = 32

// Session is one identified gateway connection. A user may hold any number
// of concurrent sessions.
type Session struct {
	// ID is a process-local monotonic counter value.
	ID int64
	// User is the identity bound at Identify time.
	User *store.User

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	code      proto.CloseCode
	reason    string
}

func newSession(id int64, user *store.User) *Session {
	return &Session{
		ID:   id,
		User: user,
		out:  make(chan []byte, sessionBuffer),
		done: make(chan struct{}),
	}
}

// Enqueue queues a serialized frame for delivery. Returns false when the
// frame was dropped because the session is a slow consumer.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// Out is the stream of frames to write to the transport.
func (s *Session) Out() <-chan []byte {
	return s.out
}

// Done is closed when the server decided to terminate this session.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session terminated with a close code. Only the first
// call wins; later calls are no-ops.
func (s *Session) Close(code proto.CloseCode, reason string) {
	s.closeOnce.Do(func() {
		s.code = code
		s.reason = reason
		close(s.done)
	})
}

// CloseStatus returns the code and reason set by Close. Only valid after
// Done is closed.
func (s *Session) CloseStatus() (proto.CloseCode, string) {
	return s.code, s.reason
}
