package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// MaxRoomNameLength bounds room names, in runes.
const MaxRoomNameLength = 100

const roomsCollection = "chatrooms"

// Room is a named chat room.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// RoomSummary is a directory entry: the room and its live member count.
type RoomSummary struct {
	Room
	MemberCount int
}

// Member is a user currently present in a room.
type Member struct {
	RoomID      string
	UserID      string
	DisplayName string
	JoinedAt    time.Time
}

func roomPath(roomID string) string {
	return docstore.Doc(roomsCollection, roomID)
}

func membersCollection(roomID string) string {
	return docstore.Collection(roomsCollection, roomID, "members")
}

// ValidateRoomName trims the name and checks it can be stored.
func ValidateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", badRequest("room name is required")
	case !utf8.ValidString(name):
		return "", badRequest("room name must be valid UTF-8")
	case utf8.RuneCountInString(name) > MaxRoomNameLength:
		return "", badRequest(fmt.Sprintf("room name must be at most %d characters", MaxRoomNameLength))
	}
	return name, nil
}

func roomFromDoc(doc docstore.Document) (Room, error) {
	name, ok := doc.String("name")
	if !ok || name == "" {
		return Room{}, fmt.Errorf("%w: room %s has no name", ErrInvalidRecord, doc.ID)
	}
	createdAt, ok := doc.Time("createdAt")
	if !ok {
		return Room{}, fmt.Errorf("%w: room %s has no createdAt", ErrInvalidRecord, doc.ID)
	}
	return Room{ID: doc.ID, Name: name, CreatedAt: createdAt}, nil
}

func memberFromDoc(roomID string, doc docstore.Document) (Member, error) {
	joinedAt, ok := doc.Time("joinedAt")
	if !ok {
		return Member{}, fmt.Errorf("%w: member %s has no joinedAt", ErrInvalidRecord, doc.ID)
	}
	name, _ := doc.String("displayName")
	return Member{RoomID: roomID, UserID: doc.ID, DisplayName: name, JoinedAt: joinedAt}, nil
}
