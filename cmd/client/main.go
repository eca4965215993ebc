// livelink-watch 订阅 livelink-server 的 /ws 广播并把消息打印到终端。
//
//	livelink-watch --url ws://localhost:8080/ws --room 261378947940
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BetaCatPro/livelink/pkg/client"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		serverURL string
		room      string
		noColor   bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:          "livelink-watch",
		Short:        "Print live-room messages broadcast by livelink-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return watch(ctx, serverURL, room, logger)
		},
	}

	cmd.Flags().StringVarP(&serverURL, "url", "u", "ws://localhost:8080/ws", "Fan-out websocket endpoint")
	cmd.Flags().StringVarP(&room, "room", "r", "", "Only show messages from this room")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log connection events")
	return cmd
}

func watch(ctx context.Context, serverURL, room string, logger *slog.Logger) error {
	c := client.NewClient(serverURL,
		client.WithRoom(room),
		client.WithLogger(logger),
		client.WithBackoff(2, time.Second, 30*time.Second),
	)
	c.SetConnectHandler(func() {
		fmt.Fprintln(os.Stderr, color.GreenString("connected to %s", serverURL))
	})
	c.SetDisconnectHandler(func(err error) {
		fmt.Fprintln(os.Stderr, color.RedString("disconnected: %v", err))
	})
	c.SetMessageHandler(func(msg types.Message) {
		fmt.Println(formatMessage(msg))
	})

	err := c.Run(ctx)
	c.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
