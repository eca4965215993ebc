// livelink-server 监听配置的直播间，把消息广播给 /ws 观看端，并提供状态接口。
//
//	livelink-server --config livelink.yaml
//	livelink-server --room 261378947940 --addr :8080
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BetaCatPro/livelink/internal/config"
	"github.com/BetaCatPro/livelink/internal/conn"
	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/metrics"
	"github.com/BetaCatPro/livelink/internal/platform/bridge"
	"github.com/BetaCatPro/livelink/internal/platform/douyin"
	"github.com/BetaCatPro/livelink/pkg/server"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const statusInterval = 30 * time.Second

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		rooms      []string
		addr       string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "livelink-server",
		Short: "Monitor live rooms and fan their messages out to websocket viewers",
		Example: `  # Monitor rooms from a config file
  livelink-server --config livelink.yaml

  # Monitor a single Douyin room with defaults
  livelink-server --room 261378947940`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Rooms = append(cfg.Rooms, rooms...)
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringSliceVarP(&rooms, "room", "r", nil, "Room to monitor (repeatable)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadWithDefaults(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildPlatform(cfg *config.Config, logger *slog.Logger, ec *errors.ErrorCenter) conn.Platform {
	settings := cfg.ConnectionSettings()
	if cfg.Platform == config.PlatformBridge {
		return bridge.New(settings, bridge.Options{
			Name:    cfg.Bridge.Name,
			Command: cfg.Bridge.Command,
			Args:    cfg.Bridge.Args,
			Dir:     cfg.Bridge.Dir,
			Env:     cfg.Bridge.Env,
			Logger:  logger,
		})
	}

	var signer douyin.Signer
	if cfg.Douyin.SignerURL != "" {
		signer = &douyin.HTTPSigner{URL: cfg.Douyin.SignerURL, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	return douyin.New(settings, douyin.Options{
		LiveURL:     cfg.Douyin.LiveURL,
		PushURL:     cfg.Douyin.PushURL,
		UserAgent:   cfg.Douyin.UserAgent,
		Signer:      signer,
		Logger:      logger,
		ErrorCenter: ec,
	})
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(reg)
	ec := errors.NewErrorCenter()
	settings := cfg.ConnectionSettings()

	platform := buildPlatform(cfg, logger, ec)
	manager := conn.NewConnectionManager(platform, settings,
		conn.WithLogger(logger),
		conn.WithMetrics(collector),
		conn.WithErrorCenter(ec),
	)
	srv := server.NewServer(cfg.Server.Addr, manager, server.Options{
		Gatherer:     reg,
		Metrics:      collector,
		Logger:       logger,
		ViewerBuffer: settings.BufferSize,
	})

	manager.Start()
	for _, room := range cfg.Rooms {
		if err := manager.AddConnection(ctx, room, srv); err != nil {
			logger.Warn("room not added", "room_id", room, "error", err)
		}
	}

	var g run.Group
	{
		g.Add(srv.Start, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("server shutdown", "error", err)
			}
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			<-stop
			return nil
		}, func(error) {
			close(stop)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := manager.Close(shutdownCtx); err != nil {
				logger.Warn("manager shutdown", "error", err)
			}
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					logStatus(logger, manager.GetAllConnections(), manager.GetStats(), srv.GetClientCount())
				case <-stop:
					return nil
				}
			}
		}, func(error) {
			close(stop)
		})
	}
	{
		sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		g.Add(func() error {
			<-sigCtx.Done()
			logger.Info("shutting down")
			return nil
		}, func(error) {
			cancel()
		})
	}

	return g.Run()
}

func logStatus(logger *slog.Logger, rooms map[string]types.ConnectionStatus, stats types.ConnectionStats, viewers int) {
	for id, st := range rooms {
		if !st.Active {
			logger.Debug("room inactive", "room_id", id, "reconnect_count", st.ReconnectCount, "last_error", st.LastError)
		}
	}
	logger.Info("status",
		"rooms", len(rooms),
		"active", stats.ActiveConnections,
		"messages", stats.TotalMessages,
		"dropped", stats.DroppedMessages,
		"reconnects", stats.ReconnectAttempts,
		"decode_errors", stats.DecodeErrors,
		"viewers", viewers,
	)
}
