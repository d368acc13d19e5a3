package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello   = "hello"
	InboundTypeRooms   = "rooms"
	InboundTypeResolve = "resolve"
	InboundTypeCreate  = "create"
	InboundTypeJoin    = "join"
	InboundTypeMsg     = "msg"
	InboundTypeLeave   = "leave"
	InboundTypeClose   = "close"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady       = "ready"
	EventRooms       = "rooms"
	EventResolved    = "resolved"
	EventJoined      = "joined"
	EventTypeMessage = "message"
	EventMembers     = "members"
	EventLeft        = "left"
	EventClosed      = "closed"
	EventStatus      = "status"
)

// HelloData authenticates the connection. Sending it again switches user.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// ResolveData carries what the user typed in the room box.
type ResolveData struct {
	Input string `json:"input"`
}

// CreateData asks to join the room named or identified by Name, creating it if needed.
type CreateData struct {
	Name string `json:"name"`
}

// RoomData targets a specific room (join, leave, close).
type RoomData struct {
	Room string `json:"room"`
}

// MsgData is a chat message from the client.
type MsgData struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventReadyData confirms the identity of the connection.
type EventReadyData struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// RoomInfo is one directory entry.
type RoomInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	Members   int    `json:"members"`
}

// EventRoomsData is the full current directory.
type EventRoomsData struct {
	Rooms []RoomInfo `json:"rooms"`
}

// EventResolvedData answers a resolve request.
type EventResolvedData struct {
	Input     string `json:"input"`
	Room      string `json:"room,omitempty"`
	Create    bool   `json:"create,omitempty"`
	NameTaken bool   `json:"name_taken,omitempty"`
}

// EventJoinedData confirms a session was opened.
type EventJoinedData struct {
	Room    string `json:"room"`
	Created bool   `json:"created,omitempty"`
	Share   string `json:"share,omitempty"`
}

// EventMessage is one message of a room, in order.
type EventMessage struct {
	ID     string `json:"id"`
	Room   string `json:"room"`
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
	User   string `json:"user,omitempty"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
}

// MemberInfo is one present user.
type MemberInfo struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at"`
}

// EventMembersData is the current member list of a room.
type EventMembersData struct {
	Room    string       `json:"room"`
	Members []MemberInfo `json:"members"`
}

// EventLeftData confirms the user left a room.
type EventLeftData struct {
	Room      string `json:"room"`
	Remaining int    `json:"remaining"`
}

// EventStatusData reports subscription health; Room is empty for the directory.
type EventStatusData struct {
	Room   string `json:"room,omitempty"`
	Status string `json:"status"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Room string `json:"room,omitempty"`
}
