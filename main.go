// main.go
// Server entry point: resolves configuration, initializes the logger and runs the chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/erilali/tcpchat/internal/api"
	"github.com/erilali/tcpchat/internal/config"
	"github.com/erilali/tcpchat/internal/logger"
	"github.com/erilali/tcpchat/internal/util"
	"github.com/spf13/cobra"
)

var version = "0.1.0" // set at build time with -ldflags

type serverFlags struct {
	configPath string
	envFile    string
	logLevel   string
	httpAddr   string
	natsURL    string
	announce   bool
}

func newRootCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "tcpchat-server [port]",
		Short: "Run the chat broadcast server",
		Long: `tcpchat-server accepts chat clients on a TCP port and relays every message
to all other connected clients.

Configuration is read from defaults, then the JSON file given by --config, then
the environment (a .env file is loaded first when present), then flags. A port
argument overrides the port of the listen address.`,
		Args:    cobra.MaximumNArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			logger.InitLogger(cfg.Log)
			serverLogger := logger.NewLogger("server")
			serverLogger.WithFields(map[string]interface{}{
				"listen":      cfg.ListenAddr,
				"http":        cfg.HTTPAddr,
				"nats":        cfg.NatsURL,
				"level":       cfg.Log.Level,
				"log_to_file": cfg.Log.LogToFile,
			}).Info("Configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return api.StartServer(ctx, cfg, serverLogger)
		},
		SilenceUsage: true,
	}
	bindFlags(cmd, &flags)
	return cmd
}

func bindFlags(cmd *cobra.Command, flags *serverFlags) {
	cmd.Flags().StringVar(&flags.configPath, "config", "config.json", "path to a JSON configuration file")
	cmd.Flags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "trace, debug, info, warn or error")
	cmd.Flags().StringVar(&flags.httpAddr, "http", "", "address for /health and /ws, empty to disable")
	cmd.Flags().StringVar(&flags.natsURL, "nats", "", "NATS URL for the event tap, empty to disable")
	cmd.Flags().BoolVar(&flags.announce, "announce", false, "broadcast joined/left notices")
}

// resolveConfig applies file, environment, flags and the port argument, in that order.
func resolveConfig(cmd *cobra.Command, flags serverFlags, args []string) (config.Config, error) {
	cfg, err := util.LoadConfig(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(flags.envFile); err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("http") {
		cfg.HTTPAddr = flags.httpAddr
	}
	if changed("nats") {
		cfg.NatsURL = flags.natsURL
	}
	if changed("announce") {
		cfg.Hub.AnnouncePresence = flags.announce
	}
	if len(args) == 1 {
		port, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return cfg, fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.SetPort(uint16(port))
	}
	return cfg, cfg.Validate()
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
