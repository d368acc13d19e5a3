package http

import (
	"time"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Members   int    `json:"members"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	UserID    string `json:"user_id,omitempty"`
	User      string `json:"user,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// DayResponse is one calendar day of messages.
type DayResponse struct {
	Label    string            `json:"label"`
	Date     string            `json:"date"`
	Messages []MessageResponse `json:"messages"`
}

// MemberResponse represents a present user.
type MemberResponse struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	JoinedAt string `json:"joined_at"`
}

func roomResponse(s core.RoomSummary) RoomResponse {
	return RoomResponse{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		Members:   s.MemberCount,
	}
}

func messageResponse(m core.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Kind:      string(m.Kind),
		UserID:    m.AuthorID,
		User:      m.AuthorName,
		Text:      m.Text,
		CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func messageResponses(msgs []core.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse(m))
	}
	return out
}

func dayResponses(groups []core.DayGroup) []DayResponse {
	out := make([]DayResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, DayResponse{
			Label:    g.Label,
			Date:     g.Day.Format(time.DateOnly),
			Messages: messageResponses(g.Messages),
		})
	}
	return out
}

func memberResponses(members []core.Member) []MemberResponse {
	out := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, MemberResponse{
			UserID:   m.UserID,
			Name:     m.DisplayName,
			JoinedAt: m.JoinedAt.Format(time.RFC3339),
		})
	}
	return out
}

func eventOutbound(event string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: event, Data: data}
}

func errorOutbound(err error, room string) proto.Outbound {
	ce := core.ToCoreError(err)
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: ce.Code, Msg: ce.Message, Room: room},
	}
}

func roomsEvent(rooms []core.RoomSummary) proto.Outbound {
	infos := make([]proto.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, proto.RoomInfo{
			ID:        r.ID,
			Name:      r.Name,
			CreatedAt: r.CreatedAt.UnixMilli(),
			Members:   r.MemberCount,
		})
	}
	return eventOutbound(proto.EventRooms, proto.EventRoomsData{Rooms: infos})
}

func messageEvent(m core.Message) proto.Outbound {
	return eventOutbound(proto.EventTypeMessage, proto.EventMessage{
		ID:     m.ID,
		Room:   m.StreamID,
		Kind:   string(m.Kind),
		UserID: m.AuthorID,
		User:   m.AuthorName,
		Text:   m.Text,
		TS:     m.CreatedAt.UnixMilli(),
	})
}

func membersEvent(roomID string, members []core.Member) proto.Outbound {
	infos := make([]proto.MemberInfo, 0, len(members))
	for _, m := range members {
		infos = append(infos, proto.MemberInfo{UserID: m.UserID, Name: m.DisplayName, JoinedAt: m.JoinedAt.UnixMilli()})
	}
	return eventOutbound(proto.EventMembers, proto.EventMembersData{Room: roomID, Members: infos})
}

func resolvedEvent(input string, res core.Resolution) proto.Outbound {
	return eventOutbound(proto.EventResolved, proto.EventResolvedData{
		Input:     input,
		Room:      res.RoomID,
		Create:    res.CreateNew,
		NameTaken: res.NameTaken,
	})
}

func statusEvent(roomID string, st core.Status) proto.Outbound {
	return eventOutbound(proto.EventStatus, proto.EventStatusData{Room: roomID, Status: st.String()})
}
