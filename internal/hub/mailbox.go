package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/erilali/tcpchat/internal/message"
)

var (
	// ErrMailboxClosed means the owning actor has terminated.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrMailboxFull means the session fell behind its configured limit.
	ErrMailboxFull = errors.New("mailbox full")
)

// mailbox is a FIFO of messages waiting to be written to one connection.
// push never blocks; with limit 0 the queue grows without bound.
type mailbox struct {
	mu     sync.Mutex
	queue  []message.Message
	limit  int
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newMailbox(limit int) *mailbox {
	return &mailbox{
		limit:  limit,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) push(msg message.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	if m.limit > 0 && len(m.queue) >= m.limit {
		m.mu.Unlock()
		return ErrMailboxFull
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// next blocks until a message is available. It returns false once the mailbox is
// closed or ctx is done; queued messages are dropped in that case.
func (m *mailbox) next(ctx context.Context) (message.Message, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			if len(m.queue) == 0 {
				m.queue = nil
			}
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-m.done:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.done)
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
