package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	api := flag.String("api", "http://localhost:8080", "HTTP API base used to sign in as a guest")
	token := flag.String("token", "", "JWT to authenticate with (a guest is created when empty)")
	room := flag.String("room", "general", "room name or id to create or join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if *token == "" {
		t, err := guestToken(ctx, *api)
		if err != nil {
			return fmt.Errorf("guest login: %w", err)
		}
		*token = t
	}

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: *token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.InboundTypeCreate, proto.CreateData{Name: *room}); err != nil {
		return err
	}

	joined := make(chan string, 1)
	go func() {
		defer cancel()
		readLoop(ctx, conn, joined)
	}()

	var roomID string
	select {
	case roomID = <-joined:
	case <-ctx.Done():
		return nil
	}

	fmt.Printf("Connected to %s in room %s\n", *addr, roomID)
	fmt.Println("Type messages and press Enter to send. /leave leaves the room, Ctrl+C exits.")

	writeLoop(ctx, conn, roomID)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func guestToken(ctx context.Context, api string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(api, "/")+"/api/guest", bytes.NewReader(nil))
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

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// inbound mirrors proto.Outbound with a raw payload.
type inbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn, joined chan<- string) {
	for {
		var in inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if in.Type == proto.OutboundTypeError && in.Error != nil {
			fmt.Printf("error %s: %s\n", in.Error.Code, in.Error.Msg)
			continue
		}

		switch in.Event {
		case proto.EventReady:
			var evt proto.EventReadyData
			if json.Unmarshal(in.Data, &evt) == nil {
				fmt.Printf("signed in as %s\n", evt.Name)
			}
		case proto.EventJoined:
			var evt proto.EventJoinedData
			if err := json.Unmarshal(in.Data, &evt); err != nil {
				log.Printf("unmarshal joined: %v", err)
				continue
			}
			if evt.Share != "" {
				fmt.Printf("invite link: %s\n", evt.Share)
			}
			select {
			case joined <- evt.Room:
			default:
			}
		case proto.EventTypeMessage:
			var evt proto.EventMessage
			if err := json.Unmarshal(in.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			at := time.UnixMilli(evt.TS).Format("15:04")
			if evt.Kind == "system" {
				fmt.Printf("%s * %s\n", at, evt.Text)
				continue
			}
			fmt.Printf("%s %s: %s\n", at, evt.User, evt.Text)
		case proto.EventMembers:
			var evt proto.EventMembersData
			if json.Unmarshal(in.Data, &evt) == nil {
				fmt.Printf("(%d online)\n", len(evt.Members))
			}
		case proto.EventStatus:
			var evt proto.EventStatusData
			if json.Unmarshal(in.Data, &evt) == nil && evt.Status != "live" {
				fmt.Printf("connection %s\n", evt.Status)
			}
		case proto.EventLeft:
			fmt.Println("left the room")
			return
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			typ, data := proto.InboundTypeMsg, any(proto.MsgData{Room: room, Text: text})
			if text == "/leave" {
				typ, data = proto.InboundTypeLeave, proto.RoomData{Room: room}
			}
			if err := send(ctx, conn, typ, data); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
