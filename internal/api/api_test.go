package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erilali/tcpchat/internal/config"
	"github.com/erilali/tcpchat/internal/hub"
	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	return cfg
}

type running struct {
	srv    *Server
	cancel context.CancelFunc
	served chan error
}

func start(t *testing.T, cfg config.Config) *running {
	t.Helper()
	srv := NewServer(cfg, logger.Nop(), hub.WithLogger(logger.Nop()))
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, cancel: cancel, served: make(chan error, 1)}
	go func() { r.served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.served:
		case <-time.After(waitFor):
			t.Error("server did not stop")
		}
	})
	return r
}

func (r *running) names(t *testing.T) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := r.srv.Hub().Stats(ctx)
	require.NoError(t, err)
	return st.Names
}

func (r *running) waitForNames(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		st, err := r.srv.Hub().Stats(ctx)
		return err == nil && assert.ObjectsAreEqual(want, st.Names)
	}, waitFor, 5*time.Millisecond, "roster never became %v", want)
}

type tcpClient struct {
	conn net.Conn
	r    *message.Reader
	w    *message.Writer
}

func (r *running) connect(t *testing.T, name string) *tcpClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", r.srv.Addr().String(), waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &tcpClient{conn: conn, r: message.NewReader(conn, 0), w: message.NewWriter(conn)}
	c.send(t, message.Joined{Name: name})
	return c
}

func (c *tcpClient) send(t *testing.T, m message.Message) {
	t.Helper()
	require.NoError(t, c.w.WriteMessage(m))
}

func (c *tcpClient) expect(t *testing.T, want message.Message) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	got, err := c.r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func (c *tcpClient) expectNothing(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	got, err := c.r.ReadMessage()
	require.Error(t, err, "unexpected %v", got)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestSingleClientHearsNothing(t *testing.T) {
	r := start(t, testConfig())
	alice := r.connect(t, "alice")
	r.waitForNames(t, "alice")

	alice.send(t, message.Chat{Sender: "alice", Text: "hello?"})
	alice.expectNothing(t)
}

func TestThreeClientsBroadcastAndDrop(t *testing.T) {
	r := start(t, testConfig())
	a := r.connect(t, "A")
	b := r.connect(t, "B")
	c := r.connect(t, "C")
	r.waitForNames(t, "A", "B", "C")

	hi := message.Chat{Sender: "A", Text: "hi"}
	a.send(t, hi)
	b.expect(t, hi)
	c.expect(t, hi)
	a.expectNothing(t)

	require.NoError(t, b.conn.Close())
	r.waitForNames(t, "A", "C")

	again := message.Chat{Sender: "A", Text: "still here"}
	a.send(t, again)
	c.expect(t, again)
}

func TestOrderingPerSender(t *testing.T) {
	r := start(t, testConfig())
	a := r.connect(t, "A")
	b := r.connect(t, "B")
	r.waitForNames(t, "A", "B")

	for i := 1; i <= 3; i++ {
		a.send(t, message.Chat{Sender: "A", Text: fmt.Sprintf("m%d", i)})
	}
	for i := 1; i <= 3; i++ {
		b.expect(t, message.Chat{Sender: "A", Text: fmt.Sprintf("m%d", i)})
	}
}

func TestDuplicateNameIsRejected(t *testing.T) {
	r := start(t, testConfig())
	first := r.connect(t, "carol")
	r.waitForNames(t, "carol")
	second := r.connect(t, "carol")

	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := second.r.ReadMessage()
	assert.ErrorIs(t, err, io.EOF, "the second join is closed without a session")

	dave := r.connect(t, "dave")
	r.waitForNames(t, "carol", "dave")
	m := message.Chat{Sender: "dave", Text: "carol?"}
	dave.send(t, m)
	first.expect(t, m)
}

func TestListenFailsOnBusyPort(t *testing.T) {
	r := start(t, testConfig())

	cfg := testConfig()
	cfg.ListenAddr = r.srv.Addr().String()
	err := NewServer(cfg, logger.Nop(), hub.WithLogger(logger.Nop())).Listen()
	assert.Error(t, err)
}

func TestServeWithoutListen(t *testing.T) {
	srv := NewServer(testConfig(), logger.Nop(), hub.WithLogger(logger.Nop()))
	assert.Error(t, srv.Serve(context.Background()))
}

func getHealth(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	client := &http.Client{Timeout: waitFor}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthReportsSessions(t *testing.T) {
	r := start(t, testConfig())
	r.connect(t, "alice")
	r.connect(t, "bob")
	r.waitForNames(t, "alice", "bob")

	code, body := getHealth(t, "http://"+r.srv.HTTPAddr().String()+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["sessions"])
	assert.Equal(t, []interface{}{"alice", "bob"}, body["names"])
	assert.Equal(t, "disabled", body["nats"])
}

func TestHealthWhenHubIsStopped(t *testing.T) {
	srv := NewServer(testConfig(), logger.Nop(), hub.WithLogger(logger.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, body := getHealth(t, ts.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestUnreachableNatsIsNotFatal(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	natsAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.NatsURL = "nats://" + natsAddr
	r := start(t, cfg)
	a := r.connect(t, "A")
	b := r.connect(t, "B")
	r.waitForNames(t, "A", "B")

	m := message.Chat{Sender: "A", Text: "no tap"}
	a.send(t, m)
	b.expect(t, m)

	_, body := getHealth(t, "http://"+r.srv.HTTPAddr().String()+"/health")
	assert.Equal(t, "unavailable", body["nats"])
}

func TestWebSocketRouteIsMounted(t *testing.T) {
	r := start(t, testConfig())
	client := &http.Client{Timeout: waitFor}
	resp, err := client.Get("http://" + r.srv.HTTPAddr().String() + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	// a plain GET is not an upgrade request
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStopClosesClients(t *testing.T) {
	r := start(t, testConfig())
	a := r.connect(t, "A")
	r.waitForNames(t, "A")

	r.cancel()
	select {
	case err := <-r.served:
		assert.NoError(t, err)
		r.served <- nil
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}

	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := a.r.ReadMessage()
	assert.Error(t, err)
}
