package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Membership tracks who is present in which room.
type Membership struct {
	store     docstore.Store
	messages  *MessageStream
	lifecycle *Lifecycle
	log       *zerolog.Logger
	retry     RetryPolicy
	joins     singleflight.Group
	leaves    singleflight.Group
}

// NewMembership wires the tracker to the room message stream and lifecycle.
func NewMembership(store docstore.Store, messages *MessageStream, lifecycle *Lifecycle, logger *zerolog.Logger, retry RetryPolicy) *Membership {
	return &Membership{
		store:     store,
		messages:  messages,
		lifecycle: lifecycle,
		log:       orNop(logger),
		retry:     retry,
	}
}

var membersQuery = docstore.Query{OrderBy: "joinedAt"}

// Join adds who to the room and announces it. Joining again only refreshes
// joinedAt. It reports whether a new membership was created.
func (m *Membership) Join(ctx context.Context, roomID string, who Identity) (bool, error) {
	if !who.Valid() {
		return false, ErrAuthRequired
	}
	if !docstore.ValidID(roomID) {
		return false, ErrRoomNotFound
	}

	v, err, _ := m.joins.Do(roomID+"/"+who.UserID, func() (any, error) {
		return m.join(ctx, roomID, who)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (m *Membership) join(ctx context.Context, roomID string, who Identity) (bool, error) {
	if err := m.requireRoom(ctx, roomID); err != nil {
		return false, err
	}

	path := docstore.Doc(membersCollection(roomID), who.UserID)
	_, err := m.store.Get(ctx, path)
	switch {
	case err == nil:
		refresh := docstore.Fields{"displayName": who.Name(), "joinedAt": docstore.ServerTimestamp}
		if err := m.store.Set(ctx, path, refresh, docstore.Merge()); err != nil {
			return false, transient("refresh member", err)
		}
		m.lifecycle.MemberJoined(roomID)
		return false, nil
	case !errors.Is(err, docstore.ErrNotFound):
		return false, transient("load member", err)
	}

	if err := m.store.Set(ctx, path, docstore.Fields{"displayName": who.Name(), "joinedAt": docstore.ServerTimestamp}); err != nil {
		return false, transient("add member", err)
	}
	if _, err := m.messages.Append(ctx, roomID, Message{Kind: KindSystem, Text: who.Name() + " has joined the chat."}); err != nil {
		// Without the announcement the join did not happen; a retry must take the creation path.
		if delErr := m.store.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			m.log.Warn().Err(delErr).Str("room", roomID).Str("user", who.UserID).Msg("failed to roll back member")
		}
		return false, err
	}

	m.lifecycle.MemberJoined(roomID)
	m.log.Info().Str("room", roomID).Str("user", who.UserID).Msg("member joined")
	return true, nil
}

// Leave removes who from the room and returns the number of members left.
// The room is deleted when none remain.
func (m *Membership) Leave(ctx context.Context, roomID string, who Identity) (int, error) {
	if !who.Valid() {
		return 0, ErrAuthRequired
	}
	if !docstore.ValidID(roomID) {
		return 0, ErrRoomNotFound
	}

	v, err, _ := m.leaves.Do(roomID+"/"+who.UserID, func() (any, error) {
		return m.leave(ctx, roomID, who)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (m *Membership) leave(ctx context.Context, roomID string, who Identity) (int, error) {
	if err := m.requireRoom(ctx, roomID); err != nil {
		return 0, err
	}

	path := docstore.Doc(membersCollection(roomID), who.UserID)
	if _, err := m.store.Get(ctx, path); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return 0, ErrNotInRoom
		}
		return 0, transient("load member", err)
	}
	if err := m.store.Delete(ctx, path); err != nil {
		return 0, transient("remove member", err)
	}
	m.log.Info().Str("room", roomID).Str("user", who.UserID).Msg("member left")

	if _, err := m.messages.Append(ctx, roomID, Message{Kind: KindSystem, Text: who.Name() + " has left the chat."}); err != nil {
		m.log.Warn().Err(err).Str("room", roomID).Msg("leave announcement failed")
	}

	remaining, err := m.Count(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if err := m.lifecycle.MemberLeft(ctx, roomID, remaining); err != nil {
		return remaining, err
	}
	return remaining, nil
}

// List returns the current members ordered by join time.
func (m *Membership) List(ctx context.Context, roomID string) ([]Member, error) {
	if !docstore.ValidID(roomID) {
		return nil, ErrRoomNotFound
	}
	docs, err := m.store.Query(ctx, membersCollection(roomID), membersQuery)
	if err != nil {
		return nil, transient("list members", err)
	}
	return m.decode(roomID, docs), nil
}

// IsMember reports whether the user is present in the room.
func (m *Membership) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	if !docstore.ValidID(roomID) || !docstore.ValidID(userID) {
		return false, nil
	}
	_, err := m.store.Get(ctx, docstore.Doc(membersCollection(roomID), userID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	default:
		return false, transient("load member", err)
	}
}

// Count returns the number of members in the room.
func (m *Membership) Count(ctx context.Context, roomID string) (int, error) {
	docs, err := m.store.Query(ctx, membersCollection(roomID), docstore.Query{})
	if err != nil {
		return 0, transient("count members", err)
	}
	return len(docs), nil
}

// Watch streams the member list of the room.
func (m *Membership) Watch(ctx context.Context, roomID string) *Subscription[[]Member] {
	collection := membersCollection(roomID)
	run := func(ctx context.Context, live func(), emit func([]Member) bool) error {
		return watchDocs(ctx, m.store, collection, membersQuery, live, func(snap docstore.Snapshot) bool {
			return emit(m.decode(roomID, snap.Docs))
		})
	}
	return subscribe(ctx, m.log, m.retry, "members:"+roomID, run)
}

func (m *Membership) decode(roomID string, docs []docstore.Document) []Member {
	members := make([]Member, 0, len(docs))
	for _, doc := range docs {
		member, err := memberFromDoc(roomID, doc)
		if err != nil {
			m.log.Warn().Err(err).Str("room", roomID).Msg("skipping member")
			continue
		}
		members = append(members, member)
	}
	return members
}

func (m *Membership) requireRoom(ctx context.Context, roomID string) error {
	if _, err := m.store.Get(ctx, roomPath(roomID)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			m.lifecycle.Forget(roomID)
			return ErrRoomNotFound
		}
		return transient("load room", err)
	}
	return nil
}
