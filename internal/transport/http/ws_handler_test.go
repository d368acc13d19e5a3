package http

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func TestProtocolVersionMismatch(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")
	ws := env.dial(t)

	ws.send(proto.InboundTypeHello, proto.HelloData{Token: alice.Token, Protocol: proto.ProtocolVersion + 1})
	if e := ws.errorFrame(); e.Code != "unsupported_version" {
		t.Fatalf("expected unsupported_version error, got %+v", e)
	}
}

func TestWebSocketRequiresHello(t *testing.T) {
	env := startTestServer(t)
	ws := env.dial(t)

	ws.send(proto.InboundTypeRooms, struct{}{})
	if e := ws.errorFrame(); e.Code != core.ErrCodeAuthRequired {
		t.Fatalf("expected auth_required, got %+v", e)
	}

	ws.send(proto.InboundTypeHello, proto.HelloData{Token: "garbage"})
	if e := ws.errorFrame(); e.Code != core.ErrCodeAuthRequired {
		t.Fatalf("expected auth_required for bad token, got %+v", e)
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	wsA := env.dial(t)
	if ready := wsA.hello(alice.Token); ready.UserID != alice.Identity.UserID || ready.Name != "alice" {
		t.Fatalf("unexpected ready %+v", ready)
	}

	wsA.send(proto.InboundTypeCreate, proto.CreateData{Name: "lobby"})
	var joined proto.EventJoinedData
	wsA.event(proto.EventJoined).decode(t, &joined)
	if !joined.Created || joined.Room == "" {
		t.Fatalf("unexpected joined %+v", joined)
	}
	roomID := joined.Room
	wsA.message(func(m proto.EventMessage) bool { return m.Text == "alice has joined the chat." })

	wsB := env.dial(t)
	wsB.hello(bob.Token)
	wsB.send(proto.InboundTypeJoin, proto.RoomData{Room: roomID})
	var joinedB proto.EventJoinedData
	wsB.event(proto.EventJoined).decode(t, &joinedB)
	if joinedB.Created || joinedB.Room != roomID {
		t.Fatalf("unexpected joined for bob %+v", joinedB)
	}

	// Bob receives the history before anything new.
	first := wsB.message(func(proto.EventMessage) bool { return true })
	if first.Text != "alice has joined the chat." || first.Kind != string(core.KindSystem) {
		t.Fatalf("unexpected first message %+v", first)
	}

	sawJoin, sawMembers := false, false
	wsA.until(func(f frame) bool {
		switch f.Event {
		case proto.EventTypeMessage:
			var m proto.EventMessage
			f.decode(t, &m)
			sawJoin = sawJoin || m.Text == "bob has joined the chat."
		case proto.EventMembers:
			var m proto.EventMembersData
			f.decode(t, &m)
			sawMembers = sawMembers || (m.Room == roomID && len(m.Members) == 2)
		}
		return sawJoin && sawMembers
	})

	wsB.send(proto.InboundTypeMsg, proto.MsgData{Room: roomID, Text: "hi alice"})
	got := wsA.message(func(m proto.EventMessage) bool { return m.Kind == string(core.KindUser) })
	if got.Text != "hi alice" || got.User != "bob" || got.UserID != bob.Identity.UserID || got.Room != roomID {
		t.Fatalf("unexpected message %+v", got)
	}

	wsB.send(proto.InboundTypeLeave, proto.RoomData{Room: roomID})
	var left proto.EventLeftData
	wsB.event(proto.EventLeft).decode(t, &left)
	if left.Room != roomID || left.Remaining != 1 {
		t.Fatalf("unexpected left %+v", left)
	}
	wsA.message(func(m proto.EventMessage) bool { return m.Text == "bob has left the chat." })

	wsB.send(proto.InboundTypeMsg, proto.MsgData{Room: roomID, Text: "still here?"})
	if e := wsB.errorFrame(); e.Code != core.ErrCodeNotInRoom || e.Room != roomID {
		t.Fatalf("expected not_in_room, got %+v", e)
	}
}

func TestWebSocketCloseKeepsMembership(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")
	ctx := context.Background()

	ws := env.dial(t)
	ws.hello(alice.Token)
	ws.send(proto.InboundTypeCreate, proto.CreateData{Name: "lobby"})
	var joined proto.EventJoinedData
	ws.event(proto.EventJoined).decode(t, &joined)

	ws.send(proto.InboundTypeClose, proto.RoomData{Room: joined.Room})
	ws.event(proto.EventClosed)

	member, err := env.svc.Hub.Membership.IsMember(ctx, joined.Room, alice.Identity.UserID)
	if err != nil || !member {
		t.Fatalf("expected membership to survive close: %v %v", member, err)
	}

	// Re-joining is idempotent and does not announce the user again.
	ws.send(proto.InboundTypeJoin, proto.RoomData{Room: joined.Room})
	var rejoined proto.EventJoinedData
	ws.event(proto.EventJoined).decode(t, &rejoined)
	if rejoined.Created {
		t.Fatalf("rejoin reported a new room")
	}

	msgs, err := env.svc.Hub.Messages.History(ctx, joined.Room)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected a single join message, got %+v", msgs)
	}
}

func TestWebSocketDisconnectKeepsMembership(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")
	ctx := context.Background()

	roomID, _, err := env.svc.Hub.Directory.CreateOrJoin(ctx, alice.Identity, "lobby")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ws := env.dial(t)
	ws.hello(alice.Token)
	ws.send(proto.InboundTypeJoin, proto.RoomData{Room: roomID})
	ws.event(proto.EventJoined)
	ws.conn.CloseNow()

	// The room is not garbage collected because alice is still a member.
	waitFor(t, func() bool {
		_, err := env.svc.Hub.Directory.Room(ctx, roomID)
		return err == nil
	})
	member, err := env.svc.Hub.Membership.IsMember(ctx, roomID, alice.Identity.UserID)
	if err != nil || !member {
		t.Fatalf("expected membership to survive disconnect: %v %v", member, err)
	}
}

func TestWebSocketRoomsSubscription(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	ws := env.dial(t)
	ws.hello(alice.Token)
	ws.send(proto.InboundTypeRooms, struct{}{})

	roomID, _, err := env.svc.Hub.Directory.CreateOrJoin(context.Background(), bob.Identity, "lobby")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ws.until(func(f frame) bool {
		if f.Event != proto.EventRooms {
			return false
		}
		var data proto.EventRoomsData
		f.decode(t, &data)
		for _, r := range data.Rooms {
			if r.ID == roomID && r.Name == "lobby" && r.Members == 1 {
				return true
			}
		}
		return false
	})
}

func TestWebSocketResolveIsDebounced(t *testing.T) {
	env := startTestServer(t, func(c *config.Config) { c.ResolveDebounce = 100 * time.Millisecond })
	alice := env.register(t, "alice")

	if _, _, err := env.svc.Hub.Directory.CreateOrJoin(context.Background(), alice.Identity, "lobby"); err != nil {
		t.Fatalf("create: %v", err)
	}

	ws := env.dial(t)
	ws.hello(alice.Token)
	for _, input := range []string{"l", "lo", "lob", "lobb", "lobby"} {
		ws.send(proto.InboundTypeResolve, proto.ResolveData{Input: input})
	}

	var res proto.EventResolvedData
	ws.event(proto.EventResolved).decode(t, &res)
	if res.Input != "lobby" || !res.NameTaken || !res.Create {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestWebSocketIdentityChangeClosesSessions(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	ws := env.dial(t)
	ws.hello(alice.Token)
	ws.send(proto.InboundTypeCreate, proto.CreateData{Name: "lobby"})
	var joined proto.EventJoinedData
	ws.event(proto.EventJoined).decode(t, &joined)

	ws.send(proto.InboundTypeHello, proto.HelloData{Token: bob.Token})
	var closed proto.RoomData
	ws.event(proto.EventClosed).decode(t, &closed)
	if closed.Room != joined.Room {
		t.Fatalf("unexpected closed room %+v", closed)
	}
	var ready proto.EventReadyData
	ws.event(proto.EventReady).decode(t, &ready)
	if ready.UserID != bob.Identity.UserID {
		t.Fatalf("expected bob, got %+v", ready)
	}

	ws.send(proto.InboundTypeMsg, proto.MsgData{Room: joined.Room, Text: "as bob"})
	if e := ws.errorFrame(); e.Code != core.ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room after identity change, got %+v", e)
	}
}
