package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AMD-melliott/mcp-amdsmi/internal/config"
	"github.com/AMD-melliott/mcp-amdsmi/internal/logger"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/gateway"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP Streamable HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	store := session.NewStore(session.StoreConfig{
		Timeout:       cfg.Session.Timeout,
		SweepInterval: cfg.Session.SweepInterval,
	}, zl)

	sweeper := session.NewSweeper(store, cfg.Session.SweepInterval, zl)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	defer sweeper.Stop()

	// The GPU tool bindings live outside this module; the transport serves
	// an empty registry until an embedding registers them.
	registry := gateway.NewRegistry()

	srv, err := gateway.NewServer(gateway.Config{
		Addr:              cfg.Server.Addr(),
		Store:             store,
		Registry:          registry,
		StreamQueueSize:   cfg.Stream.QueueSize,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		Logger:            zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	zl.Info().Str("addr", cfg.Server.Addr()).Msg("Server running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return srv.Stop()
}
