// internal/hub/hub.go
// Provides the Hub: the single event loop that owns the roster.
package hub

import (
	"context"
	"errors"
	"net"
	"sort"
	"time"

	"github.com/erilali/tcpchat/internal/config"
	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/message"
)

// ErrHubStopped is returned to callers that reach a hub whose loop has exited.
var ErrHubStopped = errors.New("hub stopped")

const inboundQueueSize = 256

// Stats is a point-in-time view of the roster.
type Stats struct {
	Sessions  int       `json:"sessions"`
	Names     []string  `json:"names"`
	StartTime time.Time `json:"start_time"`
}

// Hub owns the roster. Every roster read and write happens inside Run, so the
// roster needs no lock; actors only talk to the hub through its queues.
type Hub struct {
	cfg    config.HubConfig
	accept chan net.Conn
	events chan event
	calls  chan func()
	roster map[string]*Session
	done   chan struct{}

	publisher Publisher
	subject   string
	startTime time.Time
	logger    *logger.Logger
}

type Option func(*Hub)

// WithLogger replaces the default "hub" component logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithPublisher turns on the event tap. Events go to subject.joined, subject.message
// and subject.left.
func WithPublisher(p Publisher, subject string) Option {
	return func(h *Hub) {
		h.publisher = p
		h.subject = subject
	}
}

// NewHub creates a hub. Nothing happens until Run is called.
func NewHub(cfg config.HubConfig, opts ...Option) *Hub {
	h := &Hub{
		cfg:       cfg,
		accept:    make(chan net.Conn),
		events:    make(chan event, inboundQueueSize),
		calls:     make(chan func()),
		roster:    make(map[string]*Session),
		done:      make(chan struct{}),
		startTime: time.Now(),
		logger:    logger.NewLogger("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's event loop. It returns when ctx is cancelled, after terminating
// every session. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	h.logger.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case conn := <-h.accept:
			a := newActor(ctx, h, conn)
			h.logger.Debugf("accepted connection from %s", a.remote)
			go a.run()

		case ev := <-h.events:
			h.handleEvent(ev)

		case fn := <-h.calls:
			fn()
		}
	}
}

// Admit hands a freshly accepted connection to the hub. The hub owns conn from
// then on; if it is not running, conn is closed and ErrHubStopped returned.
func (h *Hub) Admit(ctx context.Context, conn net.Conn) error {
	select {
	case h.accept <- conn:
		return nil
	case <-h.done:
		conn.Close()
		return ErrHubStopped
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// Stats asks the loop for a snapshot of the roster.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.call(ctx, func() { s = h.stats() })
	return s, err
}

// call runs fn on the loop goroutine and waits for it to finish.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.calls <- wrapped:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) handleEvent(ev event) {
	switch ev.kind {
	case eventJoin:
		h.register(ev.actor)
	case eventMessage:
		if !h.current(ev.actor) {
			h.logger.Debugf("dropping %s from stale session %s", ev.msg.Kind(), ev.actor.id)
			return
		}
		h.logger.LogEvent("debug", "message_received", ev.actor.name, describe(ev.msg))
		h.publishMessage(ev.actor.name, ev.msg)
		h.broadcast(ev.actor.name, ev.msg)
	case eventDisconnect:
		if !h.current(ev.actor) {
			return
		}
		reason := "disconnected"
		if ev.err != nil {
			reason = ev.err.Error()
		}
		h.remove(ev.actor.name, reason)
	}
}

// register admits an actor that completed its handshake. A name already in the
// roster is refused and the newcomer's connection closed; the holder is untouched.
func (h *Hub) register(a *actor) {
	if existing, taken := h.roster[a.name]; taken {
		h.logger.LogEvent("warn", "duplicate_name", a.name, "already held by session "+existing.ID.String())
		a.terminate()
		return
	}
	mb := newMailbox(h.cfg.MailboxLimit)
	s := newSession(a, mb)
	h.roster[s.Name] = s
	a.admit(mb)

	h.logger.LogEvent("info", "client_connected", s.Name, "")
	h.publishPresence("joined", s)
	if h.cfg.AnnouncePresence {
		h.broadcast(s.Name, message.Joined{Name: s.Name})
	}
}

// current reports whether a is the actor the roster holds for its name.
func (h *Hub) current(a *actor) bool {
	s, ok := h.roster[a.name]
	return ok && s.ID == a.id
}

// remove drops name from the roster and terminates its actor. Absent names are ignored.
func (h *Hub) remove(name, reason string) {
	s, ok := h.roster[name]
	if !ok {
		return
	}
	delete(h.roster, name)
	s.stop()

	h.logger.LogEvent("info", "client_disconnected", name, reason)
	h.publishPresence("left", s)
	if h.cfg.AnnouncePresence {
		h.broadcast(name, message.Left{Name: name})
	}
}

func (h *Hub) shutdown() {
	for name, s := range h.roster {
		delete(h.roster, name)
		s.stop()
	}
	h.logger.Info("hub stopped")
}

func (h *Hub) stats() Stats {
	names := make([]string, 0, len(h.roster))
	for name := range h.roster {
		names = append(names, name)
	}
	sort.Strings(names)
	return Stats{Sessions: len(names), Names: names, StartTime: h.startTime}
}
