package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
	"github.com/vovakirdan/roomchat-server/internal/docstore/memory"
)

func userMessage(who Identity, text string) Message {
	return Message{Kind: KindUser, Text: text, AuthorID: who.UserID, AuthorName: who.Name()}
}

func TestAppendRejectsEmptyUserText(t *testing.T) {
	h, _ := newTestHub(t)
	roomID := mustCreateRoom(t, h, "general")

	if _, err := h.Messages.Append(context.Background(), roomID, userMessage(alice, "   ")); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := h.Messages.Append(context.Background(), roomID, Message{Kind: KindUser, Text: "hi"}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestSubscribeReplaysHistoryThenLive(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	roomID := mustCreateRoom(t, h, "general")

	for _, text := range []string{"one", "two"} {
		if _, err := h.Messages.Append(ctx, roomID, userMessage(alice, text)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	sub := h.Messages.Subscribe(ctx, roomID)
	defer sub.Close()

	for _, want := range []string{"one", "two"} {
		if got := mustReceive(t, sub); got.Text != want {
			t.Fatalf("expected %q, got %q", want, got.Text)
		}
	}
	if sub.Status() != StatusLive {
		t.Fatalf("expected live status, got %v", sub.Status())
	}

	id, err := h.Messages.Append(ctx, roomID, userMessage(bob, "three"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got := mustReceive(t, sub)
	if got.ID != id || got.Text != "three" || got.AuthorName != "B" || got.StreamID != roomID {
		t.Fatalf("unexpected live message %+v", got)
	}
}

func TestConcurrentAppendsArriveInTimestampOrder(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	roomID := mustCreateRoom(t, h, "general")

	sub := h.Messages.Subscribe(ctx, roomID)
	defer sub.Close()

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			who := Identity{UserID: fmt.Sprintf("u%d", w)}
			for i := 0; i < perWriter; i++ {
				if _, err := h.Messages.Append(ctx, roomID, userMessage(who, fmt.Sprintf("m%d", i))); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}()
	}

	var last time.Time
	seen := make(map[string]bool)
	for i := 0; i < writers*perWriter; i++ {
		msg := mustReceive(t, sub)
		if msg.CreatedAt.Before(last) {
			t.Fatalf("message %s out of order: %v before %v", msg.ID, msg.CreatedAt, last)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate message %s", msg.ID)
		}
		seen[msg.ID] = true
		last = msg.CreatedAt
	}
	wg.Wait()

	history, err := h.Messages.History(ctx, roomID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != writers*perWriter {
		t.Fatalf("expected %d messages, got %d", writers*perWriter, len(history))
	}
}

func TestHistorySkipsInvalidRecords(t *testing.T) {
	h, store := newTestHub(t)
	ctx := context.Background()
	roomID := mustCreateRoom(t, h, "general")

	if _, err := store.Create(ctx, RoomMessages(roomID), docstore.Fields{"kind": "user", "text": "no author", "createdAt": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Create(ctx, RoomMessages(roomID), docstore.Fields{"kind": "bogus", "text": "x", "createdAt": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := h.Messages.Append(ctx, roomID, userMessage(alice, "valid")); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err := h.Messages.History(ctx, roomID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Text != "valid" {
		t.Fatalf("expected only the valid message, got %+v", history)
	}
}

func TestClearRemovesMessages(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()
	stream := NewMessageStream(store, AssistantMessages, nil, fastRetry())

	for _, m := range []Message{userMessage(alice, "question"), {Kind: KindAssistant, Text: "answer"}} {
		if _, err := stream.Append(ctx, alice.UserID, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := stream.Clear(ctx, alice.UserID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	history, err := stream.History(ctx, alice.UserID)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %d (%v)", len(history), err)
	}
}
