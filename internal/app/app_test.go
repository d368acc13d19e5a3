package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

func TestOpenStoreDrivers(t *testing.T) {
	cfg := config.Default()

	cfg.StoreDriver = "memory"
	st, err := OpenStore(&cfg)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	_ = st.Close()

	cfg.StoreDriver = "sqlite"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "chat.db")
	st, err = OpenStore(&cfg)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	if _, err := st.Create(context.Background(), "chatrooms", docstore.Fields{"name": "x"}); err != nil {
		t.Fatalf("write to sqlite store: %v", err)
	}
	_ = st.Close()

	cfg.StoreDriver = "postgres"
	if _, err := OpenStore(&cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.StoreDriver = "memory"
	cfg.Addr = "127.0.0.1:0"

	logger := zerolog.Nop()
	a, err := New(&cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
