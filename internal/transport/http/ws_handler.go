package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/utils"
)

const outboundBuffer = 64

// WSHandler upgrades HTTP connections and bridges them to chat sessions.
type WSHandler struct {
	svc             Services
	baseURL         string
	maxMessageBytes int64
	ratePerMinute   int
	debounce        time.Duration
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(svc Services, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		svc:             svc,
		baseURL:         cfg.PublicBaseURL,
		maxMessageBytes: cfg.MaxMessageBytes,
		ratePerMinute:   cfg.RateLimitPerMinute,
		debounce:        cfg.ResolveDebounce,
		log:             logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newWSConn(ctx, h, utils.NewID())
	defer c.shutdown()

	errCh := make(chan error, 2)
	go func() {
		errCh <- c.readLoop(conn)
	}()
	go func() {
		errCh <- c.writeLoop(conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", c.id).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// wsConn is the state of one websocket connection. Inbound frames are handled
// sequentially by the read loop; subscription pumps only enqueue outbound frames.
type wsConn struct {
	id      string
	h       *WSHandler
	ctx     context.Context
	out     chan proto.Outbound
	limiter *rateLimiter
	log     zerolog.Logger

	mu       sync.Mutex
	who      core.Identity
	sessions map[string]*core.Session
	rooms    *core.Subscription[[]core.RoomSummary]
	resolver *core.Debouncer

	pumps sync.WaitGroup
}

func newWSConn(ctx context.Context, h *WSHandler, id string) *wsConn {
	return &wsConn{
		id:       id,
		h:        h,
		ctx:      ctx,
		out:      make(chan proto.Outbound, outboundBuffer),
		limiter:  newRateLimiter(h.ratePerMinute),
		log:      h.log.With().Str("conn_id", id).Logger(),
		sessions: make(map[string]*core.Session),
	}
}

func (c *wsConn) readLoop(conn *websocket.Conn) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(c.ctx, conn, &inbound); err != nil {
			c.log.Debug().Err(err).Msg("read ws inbound")
			return err
		}
		c.handle(inbound)
	}
}

func (c *wsConn) writeLoop(conn *websocket.Conn) error {
	for {
		select {
		case msg := <-c.out:
			if err := wsjson.Write(c.ctx, conn, msg); err != nil {
				c.log.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// send queues a frame for the write loop. It gives up once the connection ends.
func (c *wsConn) send(msg proto.Outbound) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) sendError(err error, room string) {
	c.send(errorOutbound(err, room))
}

func (c *wsConn) sendCode(code, msg, room string) {
	c.send(proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg, Room: room},
	})
}

func (c *wsConn) handle(in proto.Inbound) {
	if in.Type == proto.InboundTypeHello {
		var data proto.HelloData
		if !c.decode(in.Data, &data) {
			return
		}
		c.hello(data)
		return
	}

	if !c.identity().Valid() {
		c.sendError(core.ErrAuthRequired, "")
		return
	}

	switch in.Type {
	case proto.InboundTypeRooms:
		c.subscribeRooms()
	case proto.InboundTypeResolve:
		var data proto.ResolveData
		if c.decode(in.Data, &data) {
			c.resolve(data.Input)
		}
	case proto.InboundTypeCreate:
		var data proto.CreateData
		if c.decode(in.Data, &data) {
			c.create(data.Name)
		}
	case proto.InboundTypeJoin:
		var data proto.RoomData
		if c.decode(in.Data, &data) {
			c.join(data.Room, false)
		}
	case proto.InboundTypeMsg:
		var data proto.MsgData
		if c.decode(in.Data, &data) {
			c.message(data)
		}
	case proto.InboundTypeLeave:
		var data proto.RoomData
		if c.decode(in.Data, &data) {
			c.leave(data.Room)
		}
	case proto.InboundTypeClose:
		var data proto.RoomData
		if c.decode(in.Data, &data) {
			c.closeRoom(data.Room)
		}
	default:
		c.sendCode(core.ErrCodeBadRequest, "unknown message type", "")
	}
}

func (c *wsConn) decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.sendCode(core.ErrCodeBadRequest, "invalid payload", "")
		return false
	}
	return true
}

func (c *wsConn) identity() core.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.who
}

func (c *wsConn) hello(data proto.HelloData) {
	if data.Protocol != 0 && data.Protocol != proto.ProtocolVersion {
		c.sendCode("unsupported_version", "unsupported protocol version", "")
		return
	}

	who, err := c.h.svc.Auth.CurrentUser(data.Token)
	if err != nil {
		c.sendError(err, "")
		return
	}

	c.mu.Lock()
	previous := c.who
	c.who = who
	var dropped []*core.Session
	if previous.Valid() && previous.UserID != who.UserID {
		for roomID, s := range c.sessions {
			dropped = append(dropped, s)
			delete(c.sessions, roomID)
		}
	}
	c.mu.Unlock()

	for _, s := range dropped {
		s.Close()
		c.send(eventOutbound(proto.EventClosed, proto.RoomData{Room: s.RoomID}))
	}
	if len(dropped) > 0 {
		c.log.Info().Str("from", previous.UserID).Str("to", who.UserID).Int("sessions", len(dropped)).Msg("identity changed")
	}

	c.send(eventOutbound(proto.EventReady, proto.EventReadyData{UserID: who.UserID, Name: who.Name()}))
}

func (c *wsConn) subscribeRooms() {
	c.mu.Lock()
	old := c.rooms
	c.rooms = c.h.svc.Hub.Directory.ListRooms(c.ctx)
	sub := c.rooms
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	pump(c, sub, "", roomsEvent, sub.Status)
}

func (c *wsConn) resolve(input string) {
	c.mu.Lock()
	if c.resolver == nil {
		c.resolver = core.NewDebouncer(c.h.debounce, c.h.svc.Hub.Directory.Resolve)
		c.pumps.Add(1)
		go c.forwardResolutions(c.resolver)
	}
	resolver := c.resolver
	c.mu.Unlock()

	resolver.Update(c.ctx, input)
}

func (c *wsConn) forwardResolutions(d *core.Debouncer) {
	defer c.pumps.Done()
	for {
		select {
		case res := <-d.Results():
			if res.Err != nil {
				c.sendError(res.Err, "")
				continue
			}
			c.send(resolvedEvent(res.Input, res.Resolution))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) create(input string) {
	roomID, created, err := c.h.svc.Hub.Directory.CreateOrJoin(c.ctx, c.identity(), input)
	if err != nil {
		c.sendError(err, "")
		return
	}
	c.join(roomID, created)
}

// join opens a session for the room unless the connection already has a
// healthy one. A lost session is replaced.
func (c *wsConn) join(roomID string, created bool) {
	if s := c.session(roomID); s != nil {
		if s.Status() != core.StatusLost {
			c.send(eventOutbound(proto.EventJoined, proto.EventJoinedData{Room: roomID, Share: core.ShareLink(c.h.baseURL, roomID)}))
			return
		}
		s.Close()
	}

	s, err := c.h.svc.Hub.OpenSession(c.ctx, roomID, c.identity())
	if err != nil {
		c.sendError(err, roomID)
		return
	}

	c.mu.Lock()
	c.sessions[roomID] = s
	c.mu.Unlock()

	c.send(eventOutbound(proto.EventJoined, proto.EventJoinedData{
		Room:    roomID,
		Created: created,
		Share:   core.ShareLink(c.h.baseURL, roomID),
	}))
	pump(c, s.Messages, roomID, messageEvent, s.Status)
	pump(c, s.Members, roomID, func(m []core.Member) proto.Outbound { return membersEvent(roomID, m) }, s.Status)
}

func (c *wsConn) session(roomID string) *core.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[roomID]
}

func (c *wsConn) message(data proto.MsgData) {
	s := c.session(data.Room)
	if s == nil {
		c.sendError(core.ErrNotInRoom, data.Room)
		return
	}
	if !c.limiter.allow() {
		c.sendCode("rate_limited", "too many messages", data.Room)
		return
	}
	if _, err := s.Send(c.ctx, data.Text); err != nil {
		c.sendError(err, data.Room)
	}
}

func (c *wsConn) leave(roomID string) {
	var (
		remaining int
		err       error
	)
	if s := c.session(roomID); s != nil {
		remaining, err = s.Leave(c.ctx)
		if s.Status() == core.StatusClosed {
			c.mu.Lock()
			delete(c.sessions, roomID)
			c.mu.Unlock()
		}
	} else {
		remaining, err = c.h.svc.Hub.Membership.Leave(c.ctx, roomID, c.identity())
	}
	if err != nil {
		c.sendError(err, roomID)
		return
	}
	c.send(eventOutbound(proto.EventLeft, proto.EventLeftData{Room: roomID, Remaining: remaining}))
}

// closeRoom drops the room's subscriptions while keeping the membership.
func (c *wsConn) closeRoom(roomID string) {
	c.mu.Lock()
	s := c.sessions[roomID]
	delete(c.sessions, roomID)
	c.mu.Unlock()

	if s != nil {
		s.Close()
	}
	c.send(eventOutbound(proto.EventClosed, proto.RoomData{Room: roomID}))
}

// shutdown releases every subscription of the connection. Memberships are kept
// so a reconnecting client finds its rooms unchanged.
func (c *wsConn) shutdown() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*core.Session)
	rooms := c.rooms
	c.rooms = nil
	resolver := c.resolver
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if rooms != nil {
		rooms.Close()
	}
	if resolver != nil {
		resolver.Stop()
	}
	c.pumps.Wait()
}

// pump forwards a subscription to the connection until it ends. A lost
// subscription is reported as a connection_lost error for the room.
func pump[T any](c *wsConn, sub *core.Subscription[T], room string, encode func(T) proto.Outbound, status func() core.Status) {
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()

		items := sub.C()
		for {
			select {
			case v, ok := <-items:
				if !ok {
					<-sub.Done()
					if err := sub.Err(); err != nil {
						c.send(statusEvent(room, core.StatusLost))
						c.sendError(err, room)
					}
					return
				}
				c.send(encode(v))
			case <-sub.StatusChanges():
				c.send(statusEvent(room, status()))
			}
		}
	}()
}
