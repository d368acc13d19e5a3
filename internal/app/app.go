package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/assistant"
	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/docstore"
	"github.com/vovakirdan/roomchat-server/internal/docstore/memory"
	"github.com/vovakirdan/roomchat-server/internal/docstore/sqlite"
	"github.com/vovakirdan/roomchat-server/internal/store"
	transporthttp "github.com/vovakirdan/roomchat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           docstore.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.StoreDriver).Str("db_path", cfg.DatabasePath).Msg("document store initialized")

	retry := core.RetryPolicy{
		InitialInterval: cfg.Subscription.InitialBackoff,
		MaxInterval:     cfg.Subscription.MaxBackoff,
		MaxAttempts:     cfg.Subscription.MaxAttempts,
	}
	hub := core.NewHub(st, core.Options{Logger: logger, Retry: retry})

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	authService := auth.NewService(store.NewUserStore(st), jwtConfig, logger)

	var gen assistant.Generator
	if cfg.Assistant.APIKey != "" {
		gen = assistant.NewOpenAI(assistant.Config{
			BaseURL: cfg.Assistant.BaseURL,
			APIKey:  cfg.Assistant.APIKey,
			Model:   cfg.Assistant.Model,
			Timeout: cfg.Assistant.Timeout,
		})
		logger.Info().Str("model", cfg.Assistant.Model).Msg("assistant enabled")
	}
	conversations := core.NewMessageStream(st, core.AssistantMessages, logger, retry)
	assistantService := assistant.NewService(gen, conversations, logger)

	server := transporthttp.NewServer(transporthttp.Services{
		Hub:       hub,
		Auth:      authService,
		Assistant: assistantService,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// OpenStore opens the document store selected by cfg.StoreDriver.
func OpenStore(cfg *config.Config) (docstore.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(memory.WithMaxPending(cfg.WatchMaxPending)), nil
	case "sqlite", "":
		return sqlite.New(cfg.DatabasePath, cfg.WatchMaxPending)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	// Hijacked websocket connections are not tracked by Shutdown; cancelling
	// the base context ends them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	a.server.BaseContext = func(net.Listener) context.Context { return baseCtx }
	a.server.RegisterOnShutdown(cancelBase)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the store, ending every live subscription.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
