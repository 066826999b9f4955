// internal/config/config.go
// Server configuration: one explicit value built at startup and handed to each component.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/message"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration that reads "30s" style strings from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type HubConfig struct {
	// MaxFrameSize caps a declared inbound frame length. 0 disables the cap.
	MaxFrameSize int `json:"max_frame_size"`
	// MailboxLimit caps queued outbound messages per session. 0 means unbounded;
	// a session that overflows is disconnected.
	MailboxLimit int `json:"mailbox_limit"`
	// HandshakeTimeout bounds the wait for the first frame. 0 waits forever.
	HandshakeTimeout Duration `json:"handshake_timeout"`
	// WriteTimeout bounds each outbound frame write. 0 disables the deadline.
	WriteTimeout Duration `json:"write_timeout"`
	// AnnouncePresence broadcasts Joined/Left when sessions come and go.
	AnnouncePresence bool `json:"announce_presence"`
	// MaxNameLength caps display names in runes.
	MaxNameLength int `json:"max_name_length"`
}

type Config struct {
	ListenAddr  string           `json:"listen_addr"`
	HTTPAddr    string           `json:"http_addr"`
	NatsURL     string           `json:"nats_url"`
	NatsSubject string           `json:"nats_subject"`
	Hub         HubConfig        `json:"hub"`
	Log         logger.LogConfig `json:"log"`
}

const DefaultPort = 9000

func Default() Config {
	return Config{
		ListenAddr:  fmt.Sprintf(":%d", DefaultPort),
		NatsSubject: "chat.events",
		Hub: HubConfig{
			MaxFrameSize:     message.DefaultMaxFrameSize,
			HandshakeTimeout: Duration(10 * time.Second),
			WriteTimeout:     Duration(10 * time.Second),
			MaxNameLength:    32,
		},
		Log: logger.DefaultLogConfig(),
	}
}

// ApplyEnv overlays environment variables, loading a .env file first when one exists.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config.ApplyEnv: %w", err)
	}
	if v := os.Getenv("CHAT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CHAT_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NatsURL = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// SetPort rewrites the port of ListenAddr, keeping its host.
func (c *Config) SetPort(port uint16) {
	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		host = ""
	}
	c.ListenAddr = net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("config: listen_addr %q: %w", c.ListenAddr, err)
	}
	h := c.Hub
	switch {
	case h.MaxFrameSize < 0:
		return errors.New("config: hub.max_frame_size must not be negative")
	case h.MailboxLimit < 0:
		return errors.New("config: hub.mailbox_limit must not be negative")
	case h.HandshakeTimeout < 0:
		return errors.New("config: hub.handshake_timeout must not be negative")
	case h.WriteTimeout < 0:
		return errors.New("config: hub.write_timeout must not be negative")
	case h.MaxNameLength < 1:
		return errors.New("config: hub.max_name_length must be at least 1")
	}
	if c.NatsURL != "" && c.NatsSubject == "" {
		return errors.New("config: nats_subject is required when nats_url is set")
	}
	return nil
}
