package core

import "github.com/roomrelay/relayd/internal/proto"

// Room groups the sessions currently receiving its broadcasts. The
// participant set holds session IDs, never connection handles, so a closed
// connection can never be reached through a room.
type Room struct {
	Name string

	passwordHash string // bcrypt, empty for open rooms
	participants map[string]*Session
}

func newRoom(name, passwordHash string) *Room {
	return &Room{
		Name:         name,
		passwordHash: passwordHash,
		participants: make(map[string]*Session),
	}
}

func (r *Room) add(s *Session) {
	r.participants[s.ID] = s
}

func (r *Room) remove(s *Session) {
	delete(r.participants, s.ID)
}

func (r *Room) has(s *Session) bool {
	_, ok := r.participants[s.ID]
	return ok
}

// broadcast delivers one envelope to every current participant.
func (r *Room) broadcast(env proto.Envelope) {
	for _, s := range r.participants {
		s.send(env)
	}
}
