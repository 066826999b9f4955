// internal/api/api.go
// Provides StartServer: NATS, hub, TCP listener and HTTP surface wired together.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/erilali/tcpchat/internal/config"
	"github.com/erilali/tcpchat/internal/hub"
	"github.com/erilali/tcpchat/internal/logger"
	"github.com/nats-io/nats.go"
)

const (
	acceptBackoff   = 5 * time.Millisecond
	shutdownTimeout = 5 * time.Second
	healthTimeout   = 2 * time.Second
	natsClientName  = "tcpchat-server"
)

// Server owns the listeners of one process. Create it with NewServer, bind with
// Listen, then block in Serve.
type Server struct {
	cfg    config.Config
	hub    *hub.Hub
	nc     *nats.Conn
	logger *logger.Logger

	listener   net.Listener
	httpLn     net.Listener
	httpServer *http.Server
}

// NewServer connects to NATS when a URL is configured and builds the hub. A NATS
// failure is logged and the server runs without the event tap.
func NewServer(cfg config.Config, serverLogger *logger.Logger, opts ...hub.Option) *Server {
	s := &Server{cfg: cfg, logger: serverLogger}

	if cfg.NatsURL != "" {
		serverLogger.Infof("Connecting to NATS at %s", cfg.NatsURL)
		nc, err := nats.Connect(cfg.NatsURL, nats.Name(natsClientName))
		if err != nil {
			serverLogger.Errorf("Error connecting to NATS: %v", err)
			serverLogger.Warn("Running without NATS connection. Event tap will be disabled.")
		} else {
			serverLogger.Info("Successfully connected to NATS")
			s.nc = nc
			opts = append(opts, hub.WithPublisher(nc, cfg.NatsSubject))
		}
	}
	s.hub = hub.NewHub(cfg.Hub, opts...)
	return s
}

// Listen binds the TCP listener, and the HTTP listener when an address is configured.
// Failing to bind is fatal to startup.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("api.Listen: tcp %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	if s.cfg.HTTPAddr != "" {
		hl, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("api.Listen: http %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpLn = hl
		s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	}
	return nil
}

// Addr is the bound chat address. Nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr is the bound HTTP address, or nil when HTTP is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Hub exposes the hub, mainly for health checks and tests.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Serve runs the hub and accepts connections until ctx is cancelled, then closes the
// listeners, waits for the hub to terminate every session and drains NATS.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("api.Serve: Listen was not called")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	if s.httpServer != nil {
		s.logger.Infof("HTTP server started at %s", s.httpLn.Addr())
		go func() {
			if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	s.logger.Infof("Chat server listening on %s", s.listener.Addr())
	err := s.acceptLoop(ctx)

	select {
	case herr := <-httpErr:
		s.logger.Errorf("HTTP server failed: %v", herr)
	default:
	}
	cancel()
	s.shutdown()
	wg.Wait()
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warnf("Accept failed: %v", err)
			time.Sleep(acceptBackoff)
			continue
		}
		if err := s.hub.Admit(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("api.Serve: %w", err)
		}
	}
}

func (s *Server) shutdown() {
	s.listener.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnf("HTTP shutdown: %v", err)
		}
	}
	<-s.hub.Done()
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warnf("NATS drain: %v", err)
		}
	}
	s.logger.Info("Server stopped")
}

// Handler serves /health and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWs)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	health := map[string]interface{}{
		"status": "ok",
		"nats":   s.natsStatus(),
	}
	stats, err := s.hub.Stats(ctx)
	if err != nil {
		health["status"] = "unavailable"
		health["error"] = err.Error()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(health)
		return
	}
	health["sessions"] = stats.Sessions
	health["names"] = stats.Names
	health["uptime"] = time.Since(stats.StartTime).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) natsStatus() string {
	switch {
	case s.cfg.NatsURL == "":
		return "disabled"
	case s.nc == nil:
		return "unavailable"
	case s.nc.Status() == nats.CONNECTED:
		return "connected"
	default:
		return "disconnected"
	}
}

// StartServer binds and serves cfg until ctx is cancelled.
func StartServer(ctx context.Context, cfg config.Config, serverLogger *logger.Logger) error {
	s := NewServer(cfg, serverLogger)
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}
