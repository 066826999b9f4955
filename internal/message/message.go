// internal/message/message.go
// Contains the chat protocol messages exchanged between clients and the server.
package message

import "fmt"

// Kind is the discriminant written as the first payload byte of every frame.
type Kind byte

const (
	KindChat Kind = iota
	KindJoined
	KindLeft
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoined:
		return "joined"
	case KindLeft:
		return "left"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Message is one of Chat, Joined or Left. The set is closed.
type Message interface {
	Kind() Kind
	fields() []string
}

// Chat is a line of text from Sender.
type Chat struct {
	Sender string
	Text   string
}

// Joined announces a display name. It is also the handshake message.
type Joined struct {
	Name string
}

// Left announces that a display name is gone.
type Left struct {
	Name string
}

func (Chat) Kind() Kind   { return KindChat }
func (Joined) Kind() Kind { return KindJoined }
func (Left) Kind() Kind   { return KindLeft }

func (m Chat) fields() []string   { return []string{m.Sender, m.Text} }
func (m Joined) fields() []string { return []string{m.Name} }
func (m Left) fields() []string   { return []string{m.Name} }

// fromFields rebuilds a message of kind k, checking arity.
func fromFields(k Kind, f []string) (Message, error) {
	want := map[Kind]int{KindChat: 2, KindJoined: 1, KindLeft: 1}[k]
	if len(f) != want {
		return nil, fmt.Errorf("%w: %s expects %d fields, got %d", ErrMalformedPayload, k, want, len(f))
	}
	switch k {
	case KindChat:
		return Chat{Sender: f[0], Text: f[1]}, nil
	case KindJoined:
		return Joined{Name: f[0]}, nil
	default:
		return Left{Name: f[0]}, nil
	}
}
