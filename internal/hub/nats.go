// internal/hub/nats.go
package hub

import (
	"encoding/json"
	"time"

	"github.com/erilali/tcpchat/internal/message"
)

// Publisher is the event tap. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// publishPresence publishes a joined/left event for s.
func (h *Hub) publishPresence(kind string, s *Session) {
	h.publish(kind, map[string]interface{}{
		"name":       s.Name,
		"session_id": s.ID.String(),
		"remote":     s.Remote,
	})
}

// publishMessage publishes a message a client sent into the broadcast domain.
func (h *Hub) publishMessage(sender string, m message.Message) {
	data := map[string]interface{}{
		"sender": sender,
		"kind":   m.Kind().String(),
	}
	switch v := m.(type) {
	case message.Chat:
		data["claimed_sender"] = v.Sender
		data["text"] = v.Text
	case message.Joined:
		data["name"] = v.Name
	case message.Left:
		data["name"] = v.Name
	}
	h.publish("message", data)
}

func (h *Hub) publish(kind string, data map[string]interface{}) {
	if h.publisher == nil {
		return
	}
	data["timestamp"] = time.Now().Unix()
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorf("Failed to marshal %s event: %v", kind, err)
		return
	}
	if err := h.publisher.Publish(h.subject+"."+kind, payload); err != nil {
		h.logger.Errorf("Failed to publish %s event to NATS: %v", kind, err)
	}
}
