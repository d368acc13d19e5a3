package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
	"github.com/vovakirdan/roomchat-server/internal/docstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		s, err := New(":memory:", 0)
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestReopenKeepsDocumentsAndOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := New(path, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	firstID, err := s.Create(ctx, "chatrooms", docstore.Fields{"name": "general", "createdAt": docstore.ServerTimestamp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = New(path, 0)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	secondID, err := s.Create(ctx, "chatrooms", docstore.Fields{"name": "random"})
	if err != nil {
		t.Fatalf("create after reopen: %v", err)
	}

	docs, err := s.Query(ctx, "chatrooms", docstore.Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != firstID || docs[1].ID != secondID {
		t.Fatalf("unexpected documents after reopen: %+v", docs)
	}
	createdAt, ok := docs[0].Time("createdAt")
	if !ok || time.Since(createdAt) > time.Minute {
		t.Fatalf("timestamp did not survive reopen: %+v", docs[0].Fields)
	}
}

func TestEncodingRoundTripKeepsTypes(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 30, 0, 123456789, time.UTC)
	in := docstore.Fields{"s": "x", "i": int64(7), "f": 1.5, "b": true, "t": now, "n": nil}

	raw, err := encodeFields(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeFields(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out["s"] != "x" || out["i"] != int64(7) || out["f"] != 1.5 || out["b"] != true || out["n"] != nil {
		t.Fatalf("scalar mismatch: %#v", out)
	}
	if got, _ := out["t"].(time.Time); !got.Equal(now) {
		t.Fatalf("time mismatch: %v != %v", got, now)
	}
}

func TestReopenKeepsTimestampsIncreasing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")
	later := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s, err := New(path, 0, WithClock(func() time.Time { return later }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := s.Create(ctx, "msgs", docstore.Fields{"text": "before", "createdAt": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The wall clock moved back an hour across the restart.
	s, err = New(path, 0, WithClock(func() time.Time { return later.Add(-time.Hour) }))
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()
	if _, err := s.Create(ctx, "msgs", docstore.Fields{"text": "after", "createdAt": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("create after reopen: %v", err)
	}

	docs, err := s.Query(ctx, "msgs", docstore.Query{OrderBy: "createdAt"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if text, _ := docs[1].String("text"); text != "after" {
		t.Fatalf("expected newest message last, got %q", text)
	}
}
