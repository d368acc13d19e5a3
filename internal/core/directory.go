package core

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Resolution is the outcome of resolving user input against the directory.
type Resolution struct {
	// RoomID is set when the input names an existing room.
	RoomID string
	// CreateNew is set when the input should become a new room's name.
	CreateNew bool
	// NameTaken is set alongside CreateNew when a room already uses the name.
	NameTaken bool
}

// Directory lists rooms and turns user input into room ids.
type Directory struct {
	store      docstore.Store
	membership *Membership
	lifecycle  *Lifecycle
	log        *zerolog.Logger
	retry      RetryPolicy
	lookups    singleflight.Group
}

// NewDirectory creates a room directory.
func NewDirectory(store docstore.Store, membership *Membership, lifecycle *Lifecycle, logger *zerolog.Logger, retry RetryPolicy) *Directory {
	return &Directory{
		store:      store,
		membership: membership,
		lifecycle:  lifecycle,
		log:        orNop(logger),
		retry:      retry,
	}
}

var roomsQuery = docstore.Query{OrderBy: "createdAt"}

// Snapshot returns every room with its member count.
func (d *Directory) Snapshot(ctx context.Context) ([]RoomSummary, error) {
	docs, err := d.store.Query(ctx, roomsCollection, roomsQuery)
	if err != nil {
		return nil, transient("list rooms", err)
	}
	rooms := d.decode(docs)

	summaries := make([]RoomSummary, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, room := range rooms {
		g.Go(func() error {
			n, err := d.membership.Count(gctx, room.ID)
			if err != nil {
				return err
			}
			summaries[i] = RoomSummary{Room: room, MemberCount: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

type countUpdate struct {
	roomID string
	count  int
	err    error
}

// ListRooms streams the room list, re-emitting whenever a room appears,
// disappears or its member count changes.
func (d *Directory) ListRooms(ctx context.Context) *Subscription[[]RoomSummary] {
	run := func(ctx context.Context, live func(), emit func([]RoomSummary) bool) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		roomsCh, err := d.store.Watch(ctx, roomsCollection, roomsQuery)
		if err != nil {
			return err
		}

		var rooms []Room
		counts := make(map[string]int)
		watchers := make(map[string]context.CancelFunc)
		updates := make(chan countUpdate)
		first := true

		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-roomsCh:
				if !ok {
					return errWatchEnded
				}
				if snap.Err != nil {
					return snap.Err
				}
				if first {
					first = false
					live()
				}

				rooms = d.decode(snap.Docs)
				current := make(map[string]struct{}, len(rooms))
				for _, room := range rooms {
					current[room.ID] = struct{}{}
					if _, ok := watchers[room.ID]; !ok {
						wctx, wcancel := context.WithCancel(ctx)
						watchers[room.ID] = wcancel
						go d.countMembers(wctx, room.ID, updates)
					}
				}
				for id, stop := range watchers {
					if _, ok := current[id]; !ok {
						stop()
						delete(watchers, id)
						delete(counts, id)
					}
				}
			case u := <-updates:
				if _, ok := watchers[u.roomID]; !ok {
					continue
				}
				if u.err != nil {
					return u.err
				}
				counts[u.roomID] = u.count
			}

			// Rooms are held back until their first member count arrives.
			summaries := make([]RoomSummary, 0, len(rooms))
			for _, room := range rooms {
				n, ok := counts[room.ID]
				if !ok {
					break
				}
				summaries = append(summaries, RoomSummary{Room: room, MemberCount: n})
			}
			if len(summaries) < len(rooms) {
				continue
			}
			if !emit(summaries) {
				return nil
			}
		}
	}
	return subscribe(ctx, d.log, d.retry, "rooms", run)
}

func (d *Directory) countMembers(ctx context.Context, roomID string, updates chan<- countUpdate) {
	send := func(u countUpdate) bool {
		select {
		case updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := watchDocs(ctx, d.store, membersCollection(roomID), docstore.Query{}, func() {}, func(snap docstore.Snapshot) bool {
		return send(countUpdate{roomID: roomID, count: len(snap.Docs)})
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errWatchEnded
	}
	send(countUpdate{roomID: roomID, err: err})
}

// Resolve maps input to an existing room id, or marks it as a new room name.
func (d *Directory) Resolve(ctx context.Context, input string) (Resolution, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Resolution{}, badRequest("room name or id is required")
	}

	v, err, _ := d.lookups.Do(input, func() (any, error) {
		return d.resolve(ctx, input)
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

func (d *Directory) resolve(ctx context.Context, input string) (Resolution, error) {
	if docstore.ValidID(input) {
		_, err := d.store.Get(ctx, roomPath(input))
		switch {
		case err == nil:
			return Resolution{RoomID: input}, nil
		case !errors.Is(err, docstore.ErrNotFound):
			return Resolution{}, transient("resolve room", err)
		}
	}

	taken, err := d.nameTaken(ctx, input)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{CreateNew: true, NameTaken: taken}, nil
}

// Room loads one room.
func (d *Directory) Room(ctx context.Context, roomID string) (Room, error) {
	if !docstore.ValidID(roomID) {
		return Room{}, ErrRoomNotFound
	}
	doc, err := d.store.Get(ctx, roomPath(roomID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, transient("load room", err)
	}
	room, err := roomFromDoc(doc)
	if err != nil {
		d.log.Warn().Err(err).Msg("invalid room record")
		return Room{}, ErrRoomNotFound
	}
	return room, nil
}

// CreateRoom creates a room with a unique name and returns its id.
func (d *Directory) CreateRoom(ctx context.Context, name string) (string, error) {
	name, err := ValidateRoomName(name)
	if err != nil {
		return "", err
	}

	taken, err := d.nameTaken(ctx, name)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrDuplicateName
	}

	id, err := d.store.Create(ctx, roomsCollection, docstore.Fields{
		"name":      name,
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return "", transient("create room", err)
	}

	d.lifecycle.RoomCreated(id)
	d.log.Info().Str("room", id).Str("name", name).Msg("room created")
	return id, nil
}

// CreateOrJoin resolves input and joins the matching room, creating it first
// when the input is a new name. created reports which branch was taken.
func (d *Directory) CreateOrJoin(ctx context.Context, who Identity, input string) (roomID string, created bool, err error) {
	if !who.Valid() {
		return "", false, ErrAuthRequired
	}

	res, err := d.Resolve(ctx, input)
	if err != nil {
		return "", false, err
	}
	if !res.CreateNew {
		if _, err := d.membership.Join(ctx, res.RoomID, who); err != nil {
			return "", false, err
		}
		return res.RoomID, false, nil
	}

	roomID, err = d.CreateRoom(ctx, input)
	if err != nil {
		return "", false, err
	}
	if _, err := d.membership.Join(ctx, roomID, who); err != nil {
		// An unjoined room would keep its name forever; drop it so a retry can recreate it.
		if delErr := d.lifecycle.DeleteRoom(context.WithoutCancel(ctx), roomID); delErr != nil {
			d.log.Warn().Err(delErr).Str("room", roomID).Msg("failed to drop unjoined room")
		}
		return "", false, err
	}
	return roomID, true, nil
}

func (d *Directory) nameTaken(ctx context.Context, name string) (bool, error) {
	docs, err := d.store.Query(ctx, roomsCollection, docstore.Query{
		Where: []docstore.Filter{{Field: "name", Value: name}},
		Limit: 1,
	})
	if err != nil {
		return false, transient("check room name", err)
	}
	return len(docs) > 0, nil
}

func (d *Directory) decode(docs []docstore.Document) []Room {
	rooms := make([]Room, 0, len(docs))
	for _, doc := range docs {
		room, err := roomFromDoc(doc)
		if err != nil {
			d.log.Warn().Err(err).Msg("skipping room")
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms
}

// CopyRoomID returns the text placed on the clipboard for a room.
func CopyRoomID(roomID string) string {
	return roomID
}

// ShareLink builds an invitation link to the room under baseURL.
func ShareLink(baseURL, roomID string) string {
	base := strings.TrimRight(baseURL, "/")
	return base + "/rooms/" + url.PathEscape(roomID)
}
