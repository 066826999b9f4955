// internal/hub/messaging.go
package hub

import (
	"fmt"

	"github.com/erilali/tcpchat/internal/message"
)

// broadcast queues m for every session except sender's. Sessions whose mailbox
// refuses the message are collected during the pass and removed after it, so the
// roster is never modified while it is being iterated.
func (h *Hub) broadcast(sender string, m message.Message) int {
	var failed []string
	delivered := 0
	for name, s := range h.roster {
		if name == sender {
			continue
		}
		if err := s.deliver(m); err != nil {
			h.logger.Warnf("failed to pass %s to %s: %v", m.Kind(), name, err)
			failed = append(failed, name)
			continue
		}
		delivered++
	}
	h.logger.Tracef("broadcast %s from %s to %d sessions", m.Kind(), sender, delivered)

	for _, name := range failed {
		h.remove(name, "mailbox refused delivery")
	}
	return delivered
}

// describe renders m for log lines.
func describe(m message.Message) string {
	switch v := m.(type) {
	case message.Chat:
		return v.Text
	case message.Joined:
		return fmt.Sprintf("joined %s", v.Name)
	case message.Left:
		return fmt.Sprintf("left %s", v.Name)
	default:
		return m.Kind().String()
	}
}
