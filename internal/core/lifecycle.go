package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// RoomState is the locally observed lifecycle state of a room.
type RoomState int

const (
	StateUnknown RoomState = iota
	StateCreated
	StateActive
	StateEmpty
	StateDeleted
)

func (s RoomState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateEmpty:
		return "empty"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Lifecycle garbage-collects rooms once their last member leaves.
// Deletion is idempotent, so concurrent callers need no coordination.
type Lifecycle struct {
	store docstore.Store
	log   *zerolog.Logger

	mu     sync.Mutex
	states map[string]RoomState

	// OnTransition, when set, observes every state change.
	OnTransition func(roomID string, from, to RoomState)
}

// NewLifecycle creates a lifecycle manager.
func NewLifecycle(store docstore.Store, logger *zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		store:  store,
		log:    orNop(logger),
		states: make(map[string]RoomState),
	}
}

// State returns the tracked state of a room. Deleted rooms are forgotten.
func (l *Lifecycle) State(roomID string) RoomState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[roomID]
}

// RoomCreated records a freshly created room.
func (l *Lifecycle) RoomCreated(roomID string) {
	l.transition(roomID, StateCreated)
}

// MemberJoined marks the room active.
func (l *Lifecycle) MemberJoined(roomID string) {
	l.transition(roomID, StateActive)
}

// MemberLeft reacts to a leave; remaining is the member count observed after it.
func (l *Lifecycle) MemberLeft(ctx context.Context, roomID string, remaining int) error {
	if remaining > 0 {
		l.transition(roomID, StateActive)
		return nil
	}
	l.transition(roomID, StateEmpty)
	return l.DeleteRoom(ctx, roomID)
}

// DeleteRoom removes the room record, then purges its members and messages.
// Deleting an already deleted room is a no-op.
func (l *Lifecycle) DeleteRoom(ctx context.Context, roomID string) error {
	if err := l.store.Delete(ctx, roomPath(roomID)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return transient("delete room", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return purgeCollection(gctx, l.store, membersCollection(roomID)) })
	g.Go(func() error { return purgeCollection(gctx, l.store, RoomMessages(roomID)) })
	if err := g.Wait(); err != nil {
		l.log.Warn().Err(err).Str("room", roomID).Msg("room purge incomplete")
		return transient("purge room", err)
	}

	l.transition(roomID, StateDeleted)
	l.log.Info().Str("room", roomID).Msg("room deleted")
	return nil
}

// Forget drops the tracked state of a room that no longer exists.
func (l *Lifecycle) Forget(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, roomID)
}

func (l *Lifecycle) transition(roomID string, to RoomState) {
	l.mu.Lock()
	from := l.states[roomID]
	if to == StateDeleted {
		delete(l.states, roomID)
	} else {
		l.states[roomID] = to
	}
	hook := l.OnTransition
	l.mu.Unlock()

	if from == to {
		return
	}
	if from == StateEmpty && to == StateActive {
		l.log.Warn().Str("room", roomID).Msg("member joined a room pending deletion")
	}
	l.log.Debug().Str("room", roomID).Stringer("from", from).Stringer("to", to).Msg("room state changed")
	if hook != nil {
		hook(roomID, from, to)
	}
}
