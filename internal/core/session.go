package core

import "github.com/roomrelay/relayd/internal/proto"

// Session is the live binding between one connection and, once logged in,
// one user. The transport owns the connection; everything else references
// the session by its opaque ID only. All fields besides ID and the out
// channel are guarded by the hub mutex.
type Session struct {
	ID string

	user    string // empty until login
	room    string // empty until a room is joined
	pending *pendingUpload

	out chan proto.Envelope
}

// Events returns the stream of outbound envelopes for this session. The
// hub closes it when the session is removed.
func (s *Session) Events() <-chan proto.Envelope {
	return s.out
}

// send enqueues an envelope for delivery, dropping it if the session's
// buffer is full. Slow consumers lose events rather than stalling the hub.
func (s *Session) send(env proto.Envelope) {
	select {
	case s.out <- env:
	default:
	}
}

func (s *Session) authenticated() bool {
	return s.user != ""
}
