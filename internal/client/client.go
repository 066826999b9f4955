// internal/client/client.go
// A thin terminal client: joins with a name, sends one Chat per input line and
// prints whatever the server relays.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/message"
)

// QuitCommand ends a session from the input stream.
const QuitCommand = "/quit"

var ErrEmptyName = errors.New("client: name must not be empty")

type Client struct {
	name   string
	conn   net.Conn
	reader *message.Reader
	writer *message.Writer
	out    io.Writer
	outMu  sync.Mutex
	closed atomic.Bool
	logger *logger.Logger
}

// Dial connects to addr and joins as name.
func Dial(ctx context.Context, addr, name string, out io.Writer) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client.Dial: %w", err)
	}
	c, err := New(conn, name, out)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New joins as name over an established connection. The Joined frame is written
// before New returns, so it is always the first frame on the wire.
func New(conn net.Conn, name string, out io.Writer) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	c := &Client{
		name:   name,
		conn:   conn,
		reader: message.NewReader(conn, message.DefaultMaxFrameSize),
		writer: message.NewWriter(conn),
		out:    out,
		logger: logger.NewLogger("client"),
	}
	if err := c.writer.WriteMessage(message.Joined{Name: name}); err != nil {
		return nil, fmt.Errorf("client.New: join: %w", err)
	}
	return c, nil
}

func (c *Client) Name() string { return c.name }

// Send writes one chat line.
func (c *Client) Send(text string) error {
	return c.writer.WriteMessage(message.Chat{Sender: c.name, Text: text})
}

// Close ends the session. Safe to call more than once.
func (c *Client) Close() error {
	c.closed.Store(true)
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Run copies lines from in to the server and server messages to out until in is
// exhausted, the user types /quit, ctx is cancelled or the server goes away.
// A clean end from either side returns nil. When the server ends the session the
// goroutine reading in stays blocked until in returns.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	recvErr := make(chan error, 1)
	go func() { recvErr <- c.receive() }()

	sendErr := make(chan error, 1)
	go func() { sendErr <- c.sendLines(in) }()

	var err error
	select {
	case err = <-sendErr:
		c.Close()
		<-recvErr
	case err = <-recvErr:
		c.Close()
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) sendLines(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == QuitCommand {
			return nil
		}
		if line == "" {
			continue
		}
		if err := c.Send(line); err != nil {
			return fmt.Errorf("client: send: %w", err)
		}
	}
	return scanner.Err()
}

func (c *Client) receive() error {
	for {
		m, err := c.reader.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.print("server closed the connection")
				return nil
			}
			return fmt.Errorf("client: receive: %w", err)
		}
		c.logger.Tracef("received %s", m.Kind())
		c.print(Render(m))
	}
}

func (c *Client) print(line string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, line)
}

// Render formats m for the terminal.
func Render(m message.Message) string {
	switch v := m.(type) {
	case message.Chat:
		return fmt.Sprintf("%10s : %s", v.Sender, v.Text)
	case message.Joined:
		return fmt.Sprintf("%q joined!", v.Name)
	case message.Left:
		return fmt.Sprintf("%q disconnected.", v.Name)
	default:
		return m.Kind().String()
	}
}
