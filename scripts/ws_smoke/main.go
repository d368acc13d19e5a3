package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	api := flag.String("api", "http://localhost:8080", "HTTP API base used to sign in as a guest")
	room := flag.String("room", "smoke-"+time.Now().Format("150405"), "room name")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := guestToken(ctx, *api)
	if err != nil {
		return fmt.Errorf("guest login: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}
	await := func(event string, v any) error {
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			fmt.Printf("Received outbound: type=%s event=%s\n", f.Type, f.Event)
			if f.Error != nil {
				return fmt.Errorf("server error %s: %s", f.Error.Code, f.Error.Msg)
			}
			if f.Event == event {
				return json.Unmarshal(f.Data, v)
			}
		}
	}

	if err := mustSend(proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	var ready proto.EventReadyData
	if err := await(proto.EventReady, &ready); err != nil {
		return err
	}

	if err := mustSend(proto.InboundTypeCreate, proto.CreateData{Name: *room}); err != nil {
		return err
	}
	var joined proto.EventJoinedData
	if err := await(proto.EventJoined, &joined); err != nil {
		return err
	}
	fmt.Printf("Joined room %s (created=%t) as %s\n", joined.Room, joined.Created, ready.Name)

	if err := mustSend(proto.InboundTypeMsg, proto.MsgData{Room: joined.Room, Text: *text}); err != nil {
		return err
	}
	for {
		var evt proto.EventMessage
		if err := await(proto.EventTypeMessage, &evt); err != nil {
			return err
		}
		fmt.Printf("EventMessage: room=%s kind=%s user=%s text=%q ts=%d\n", evt.Room, evt.Kind, evt.User, evt.Text, evt.TS)
		if evt.UserID == ready.UserID && evt.Text == *text {
			break
		}
	}

	if err := mustSend(proto.InboundTypeLeave, proto.RoomData{Room: joined.Room}); err != nil {
		return err
	}
	var left proto.EventLeftData
	if err := await(proto.EventLeft, &left); err != nil {
		return err
	}
	fmt.Printf("Left room %s, %d members remain\n", left.Room, left.Remaining)
	return nil
}

func guestToken(ctx context.Context, api string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(api, "/")+"/api/guest", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}
