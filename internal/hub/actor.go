// internal/hub/actor.go
// The connection actor: the only code that touches a client socket.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/erilali/tcpchat/internal/config"
	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/message"
	"github.com/erilali/tcpchat/internal/util"
	"github.com/google/uuid"
)

// ErrHandshake wraps every reason a connection is refused before it gets a session.
var ErrHandshake = errors.New("handshake failed")

type eventKind int

const (
	eventJoin eventKind = iota
	eventMessage
	eventDisconnect
)

// event is what actors put on the hub's inbound queue.
type event struct {
	kind  eventKind
	actor *actor
	msg   message.Message
	err   error
}

// actor moves through handshaking, active and closed, in that order only.
type actor struct {
	id     uuid.UUID
	name   string
	remote string
	conn   net.Conn
	cfg    config.HubConfig
	reader *message.Reader
	writer *message.Writer
	events chan<- event
	logger *logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	admitted chan *mailbox
	done     chan struct{}
	failOnce sync.Once
}

func newActor(ctx context.Context, h *Hub, conn net.Conn) *actor {
	id := uuid.New()
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	a := &actor{
		id:       id,
		remote:   remote,
		conn:     conn,
		cfg:      h.cfg,
		reader:   message.NewReader(conn, h.cfg.MaxFrameSize),
		writer:   message.NewWriter(conn),
		events:   h.events,
		admitted: make(chan *mailbox, 1),
		done:     make(chan struct{}),
		logger: h.logger.WithFields(map[string]interface{}{
			"session": id.String(),
			"remote":  remote,
		}),
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	// Cancelling the actor is what closes the socket, from whichever side decides.
	context.AfterFunc(a.ctx, func() { conn.Close() })
	return a
}

// run drives the actor to completion. done is closed when it returns.
func (a *actor) run() {
	defer close(a.done)
	defer a.terminate()

	name, err := a.handshake()
	if err != nil {
		a.logger.LogEvent("warn", "handshake_rejected", "", err.Error())
		return
	}
	a.name = name
	a.logger = a.logger.WithField("name", name)
	if !a.emit(event{kind: eventJoin, actor: a}) {
		return
	}

	var mb *mailbox
	select {
	case mb = <-a.admitted:
	case <-a.ctx.Done():
		return
	}
	a.active(mb)
}

func (a *actor) handshake() (string, error) {
	if t := time.Duration(a.cfg.HandshakeTimeout); t > 0 {
		a.conn.SetReadDeadline(time.Now().Add(t))
	}
	m, err := a.reader.ReadMessage()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: connection closed before join", ErrHandshake)
		}
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	joined, ok := m.(message.Joined)
	if !ok {
		return "", fmt.Errorf("%w: first message was %s, want joined", ErrHandshake, m.Kind())
	}
	if joined.Name == "" {
		return "", fmt.Errorf("%w: empty name", ErrHandshake)
	}
	if !util.ValidDisplayName(joined.Name, a.cfg.MaxNameLength) {
		return "", fmt.Errorf("%w: invalid name %q", ErrHandshake, joined.Name)
	}
	if err := a.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return joined.Name, nil
}

// active runs the read and write halves until either fails or the hub terminates us.
func (a *actor) active(mb *mailbox) {
	defer mb.close()
	a.logger.Debug("session active")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.fail(a.readLoop())
	}()
	go func() {
		defer wg.Done()
		a.fail(a.writeLoop(mb))
	}()
	wg.Wait()
}

func (a *actor) readLoop() error {
	for {
		m, err := a.reader.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		a.logger.Tracef("got %s frame", m.Kind())
		if !a.emit(event{kind: eventMessage, actor: a, msg: m}) {
			return nil
		}
	}
}

func (a *actor) writeLoop(mb *mailbox) error {
	for {
		m, ok := mb.next(a.ctx)
		if !ok {
			if a.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("write: %w", ErrMailboxClosed)
		}
		if t := time.Duration(a.cfg.WriteTimeout); t > 0 {
			a.conn.SetWriteDeadline(time.Now().Add(t))
		}
		if err := a.writer.WriteMessage(m); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

// fail reports the first failure to the hub, unless the hub already ended the
// session, then terminates.
func (a *actor) fail(err error) {
	a.failOnce.Do(func() {
		if a.ctx.Err() == nil {
			if err == nil {
				err = io.EOF
			}
			a.emit(event{kind: eventDisconnect, actor: a, err: err})
		}
		a.terminate()
	})
}

func (a *actor) emit(ev event) bool {
	select {
	case a.events <- ev:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// admit hands the actor its mailbox and moves it to the active state.
func (a *actor) admit(mb *mailbox) {
	a.admitted <- mb
}

func (a *actor) terminate() {
	a.cancel()
}
