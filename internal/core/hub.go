package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Options configures a Hub.
type Options struct {
	Logger *zerolog.Logger
	Retry  RetryPolicy
}

// Hub wires the chat room components around one document store.
type Hub struct {
	Directory  *Directory
	Membership *Membership
	Messages   *MessageStream
	Lifecycle  *Lifecycle

	log *zerolog.Logger
}

// NewHub creates a chat hub backed by store.
func NewHub(store docstore.Store, opts Options) *Hub {
	log := orNop(opts.Logger)
	retry := opts.Retry.withDefaults()

	lifecycle := NewLifecycle(store, log)
	messages := NewMessageStream(store, RoomMessages, log, retry)
	membership := NewMembership(store, messages, lifecycle, log, retry)
	return &Hub{
		Directory:  NewDirectory(store, membership, lifecycle, log, retry),
		Membership: membership,
		Messages:   messages,
		Lifecycle:  lifecycle,
		log:        log,
	}
}

// OpenSession joins who to the room and subscribes to its messages and members.
// The subscriptions end when ctx is done or the session is closed.
func (h *Hub) OpenSession(ctx context.Context, roomID string, who Identity) (*Session, error) {
	if !who.Valid() {
		return nil, ErrAuthRequired
	}
	created, err := h.Membership.Join(ctx, roomID, who)
	if err != nil {
		return nil, err
	}

	s := &Session{RoomID: roomID, Identity: who, Joined: created, hub: h}
	s.Messages = h.Messages.Subscribe(ctx, roomID)
	s.reg.add(s.Messages)
	s.Members = h.Membership.Watch(ctx, roomID)
	s.reg.add(s.Members)

	h.log.Debug().Str("room", roomID).Str("user", who.UserID).Msg("session opened")
	return s, nil
}
