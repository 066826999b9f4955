package hub

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleHub builds a hub that is never run, so tests can drive its handlers directly
// from the test goroutine.
func idleHub(t *testing.T, names ...string) (*Hub, map[string]*Session) {
	t.Helper()
	h := NewHub(testConfig(), WithLogger(logger.Nop()))
	sessions := make(map[string]*Session)
	for _, name := range names {
		s := fakeSession(t, h, name)
		h.roster[name] = s
		sessions[name] = s
	}
	return h, sessions
}

func fakeSession(t *testing.T, h *Hub, name string) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	a := newActor(context.Background(), h, server)
	a.name = name
	return newSession(a, newMailbox(h.cfg.MailboxLimit))
}

func TestBroadcastRemovesExactlyTheFailedSessions(t *testing.T) {
	h, s := idleHub(t, "alice", "bob", "carol", "dave")
	s["bob"].mailbox.close()
	s["dave"].mailbox.close()

	delivered := h.broadcast("alice", message.Chat{Sender: "alice", Text: "hi"})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"alice", "carol"}, h.stats().Names)
	assert.Equal(t, 0, s["alice"].mailbox.len(), "sender never gets its own message")
	assert.Equal(t, 1, s["carol"].mailbox.len())
	assert.Error(t, s["bob"].actor.ctx.Err(), "removed sessions have their actor terminated")
	assert.Error(t, s["dave"].actor.ctx.Err())
	assert.NoError(t, s["carol"].actor.ctx.Err())
}

func TestBroadcastFromUnknownSenderReachesEveryone(t *testing.T) {
	h, s := idleHub(t, "alice", "bob")
	assert.Equal(t, 2, h.broadcast("", message.Left{Name: "ghost"}))
	assert.Equal(t, 1, s["alice"].mailbox.len())
	assert.Equal(t, 1, s["bob"].mailbox.len())
}

func TestRemoveIsIdempotent(t *testing.T) {
	h, s := idleHub(t, "alice")
	h.remove("alice", "test")
	h.remove("alice", "test")
	h.remove("nobody", "test")

	assert.Empty(t, h.stats().Names)
	assert.Error(t, s["alice"].actor.ctx.Err())
}

func TestStaleEventsAreIgnored(t *testing.T) {
	h, s := idleHub(t, "bob", "carol")
	impostor := fakeSession(t, h, "bob")

	h.handleEvent(event{kind: eventDisconnect, actor: impostor.actor, err: errors.New("old socket")})
	assert.Equal(t, []string{"bob", "carol"}, h.stats().Names)

	h.handleEvent(event{kind: eventMessage, actor: impostor.actor, msg: message.Chat{Sender: "bob", Text: "boo"}})
	assert.Equal(t, 0, s["carol"].mailbox.len())

	h.handleEvent(event{kind: eventMessage, actor: s["bob"].actor, msg: message.Chat{Sender: "bob", Text: "real"}})
	assert.Equal(t, 1, s["carol"].mailbox.len())

	h.handleEvent(event{kind: eventDisconnect, actor: s["bob"].actor})
	assert.Equal(t, []string{"carol"}, h.stats().Names)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	h, s := idleHub(t, "carol")
	second := fakeSession(t, h, "carol")

	h.register(second.actor)

	require.Len(t, h.roster, 1)
	assert.Equal(t, s["carol"].ID, h.roster["carol"].ID)
	assert.Error(t, second.actor.ctx.Err(), "the rejected actor is terminated, not orphaned")
	assert.NoError(t, s["carol"].actor.ctx.Err())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "hi", describe(message.Chat{Sender: "a", Text: "hi"}))
	assert.Equal(t, "joined a", describe(message.Joined{Name: "a"}))
	assert.Equal(t, "left a", describe(message.Left{Name: "a"}))
}
