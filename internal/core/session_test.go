package core

import (
	"context"
	"errors"
	"testing"
)

func TestSessionScenario(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	rooms := h.Directory.ListRooms(ctx)
	defer rooms.Close()

	r1 := mustCreateRoom(t, h, "team")

	a, err := h.OpenSession(ctx, r1, alice)
	if err != nil {
		t.Fatalf("open session A: %v", err)
	}
	defer a.Close()
	if !a.Joined {
		t.Fatalf("expected A to join")
	}
	if msg := mustReceive(t, a.Messages); msg.Kind != KindSystem || msg.Text != "A has joined the chat." {
		t.Fatalf("unexpected first message %+v", msg)
	}

	b, err := h.OpenSession(ctx, r1, bob)
	if err != nil {
		t.Fatalf("open session B: %v", err)
	}
	defer b.Close()
	if msg := mustReceive(t, a.Messages); msg.Text != "B has joined the chat." {
		t.Fatalf("unexpected second message %+v", msg)
	}
	waitFor(t, a.Members, func(m []Member) bool { return len(m) == 2 })

	if _, err := a.Send(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := mustReceive(t, a.Messages)
	if msg.Kind != KindUser || msg.Text != "hello" || msg.AuthorName != "A" {
		t.Fatalf("unexpected third message %+v", msg)
	}

	if remaining, err := b.Leave(ctx); err != nil || remaining != 1 {
		t.Fatalf("B leave: remaining=%d err=%v", remaining, err)
	}
	if msg := mustReceive(t, a.Messages); msg.Text != "B has left the chat." {
		t.Fatalf("unexpected fourth message %+v", msg)
	}
	waitFor(t, a.Members, func(m []Member) bool { return len(m) == 1 })

	history, err := h.Messages.History(ctx, r1)
	if err != nil || len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d (%v)", len(history), err)
	}

	if remaining, err := a.Leave(ctx); err != nil || remaining != 0 {
		t.Fatalf("A leave: remaining=%d err=%v", remaining, err)
	}
	waitFor(t, rooms, func(list []RoomSummary) bool {
		for _, r := range list {
			if r.ID == r1 {
				return false
			}
		}
		return true
	})
	if a.Status() != StatusClosed {
		t.Fatalf("expected closed session, got %v", a.Status())
	}
}

func TestOpenSessionRequiresIdentityAndRoom(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	if _, err := h.OpenSession(ctx, "any", Identity{}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if _, err := h.OpenSession(ctx, "missing", alice); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSessionCloseKeepsMembership(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	roomID := mustCreateRoom(t, h, "general")

	s, err := h.OpenSession(ctx, roomID, alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()
	s.Close()

	if _, err := s.Send(ctx, "hi"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom after close, got %v", err)
	}
	if n, _ := h.Membership.Count(ctx, roomID); n != 1 {
		t.Fatalf("expected membership to survive close, got %d", n)
	}

	again, err := h.OpenSession(ctx, roomID, alice)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if again.Joined {
		t.Fatalf("expected reconnect to refresh, not join")
	}
	history, _ := h.Messages.History(ctx, roomID)
	if len(history) != 1 {
		t.Fatalf("expected a single join message, got %d", len(history))
	}
}
