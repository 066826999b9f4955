// cmd/chat-client/main.go
// Terminal chat client: prompts for a nickname, connects and relays stdin lines.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/erilali/tcpchat/internal/client"
	"github.com/erilali/tcpchat/internal/logger"
	"github.com/spf13/cobra"
)

var errNoName = errors.New("please enter your name")

func newRootCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "chat-client <host> <port>",
		Short: "Connect to a tcpchat server",
		Long: `chat-client asks for a nickname, joins the server at host:port and sends each
line typed as a chat message. Type /quit or press Ctrl+D to leave.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}
			logConfig := logger.DefaultLogConfig()
			logConfig.Level = logLevel
			logger.InitLogger(logConfig)

			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			name, err := promptName(in, out)
			if err != nil {
				return err
			}
			fmt.Fprint(out, "\033[2J\033[1;1H")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := net.JoinHostPort(args[0], strconv.FormatUint(port, 10))
			c, err := client.Dial(ctx, addr, name, out)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer c.Close()
			fmt.Fprintf(out, "Connected to %s as %s. Type %s to leave.\n", addr, name, client.QuitCommand)
			return c.Run(ctx, in)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "trace, debug, info, warn or error")
	return cmd
}

// promptName reads one line from in. An empty line or closed input is an error.
func promptName(in *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Please enter your nickname: ")
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	name := strings.TrimSpace(line)
	if name == "" {
		return "", errNoName
	}
	return name, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
