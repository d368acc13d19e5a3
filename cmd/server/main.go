package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomchat-server/internal/app"
	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/docstore/sqlite"
	"github.com/vovakirdan/roomchat-server/internal/log"
)

type flags struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "roomchat-server",
		Short:         "Real-time chat rooms over HTTP and WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&f.overrides.DatabasePath, "db", "", "database path")
	root.PersistentFlags().StringVar(&f.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), f)
		},
	}
	serveCmd.Flags().StringVar(&f.overrides.Addr, "addr", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&f.overrides.StoreDriver, "store", "", "document store driver (sqlite, memory)")
	serveCmd.Flags().DurationVar(&f.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	serveCmd.Flags().DurationVar(&f.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	serveCmd.Flags().StringVar(&f.overrides.PublicBaseURL, "public-url", "", "base URL used in share links")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return migrate(f)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)
	return root
}

func loadConfig(f *flags) (config.Config, error) {
	bootstrap := log.New("info", "console")
	cfg, path, err := config.Load(bootstrap, f.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(f.overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	bootstrap.Debug().Str("path", path).Msg("config loaded")
	return cfg, nil
}

func serve(parent context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.JWTSecret == config.DefaultJWTSecret {
		logger.Warn().Msg("using the default JWT secret; set jwt_secret before exposing the server")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting roomchat server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrate(f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		return err
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("migrations applied")
	return nil
}
