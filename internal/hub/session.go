package hub

import (
	"github.com/erilali/tcpchat/internal/message"
	"github.com/google/uuid"
)

// Session is the hub's record of one admitted client. Only the hub loop touches it.
type Session struct {
	ID     uuid.UUID
	Name   string
	Remote string

	mailbox *mailbox
	actor   *actor
}

func newSession(a *actor, mb *mailbox) *Session {
	return &Session{
		ID:      a.id,
		Name:    a.name,
		Remote:  a.remote,
		mailbox: mb,
		actor:   a,
	}
}

func (s *Session) deliver(m message.Message) error {
	return s.mailbox.push(m)
}

// stop terminates the actor and drops anything still queued for it.
func (s *Session) stop() {
	s.actor.terminate()
	s.mailbox.close()
}
