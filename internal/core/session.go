package core

import (
	"context"
	"errors"
	"sync/atomic"
)

// Session is one user's live view of a room.
type Session struct {
	RoomID   string
	Identity Identity
	// Joined is true when opening the session created the membership.
	Joined bool

	Messages *Subscription[Message]
	Members  *Subscription[[]Member]

	hub    *Hub
	reg    registry
	closed atomic.Bool
}

// Send posts a user message to the room.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	if s.closed.Load() {
		return "", ErrNotInRoom
	}
	return s.hub.Messages.Append(ctx, s.RoomID, Message{
		Kind:       KindUser,
		Text:       text,
		AuthorID:   s.Identity.UserID,
		AuthorName: s.Identity.Name(),
	})
}

// Leave removes the user from the room and closes the session. On a transient
// failure the session stays open so the caller can retry.
func (s *Session) Leave(ctx context.Context) (int, error) {
	remaining, err := s.hub.Membership.Leave(ctx, s.RoomID, s.Identity)
	if err != nil && !errors.Is(err, ErrRoomNotFound) && !errors.Is(err, ErrNotInRoom) {
		return remaining, err
	}
	s.Close()
	return remaining, err
}

// Close releases the subscriptions without leaving the room.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.reg.closeAll()
}

// Status returns the worst status of the session's subscriptions.
func (s *Session) Status() Status {
	if s.closed.Load() {
		return StatusClosed
	}
	return worst(s.Messages.Status(), s.Members.Status())
}

func worst(statuses ...Status) Status {
	rank := map[Status]int{StatusLive: 0, StatusConnecting: 1, StatusReconnecting: 2, StatusClosed: 3, StatusLost: 4}
	out := StatusLive
	for _, st := range statuses {
		if rank[st] > rank[out] {
			out = st
		}
	}
	return out
}
