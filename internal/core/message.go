package core

import (
	"fmt"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// MessageKind tells who produced a message.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindSystem    MessageKind = "system"
	KindAssistant MessageKind = "assistant"
)

// Message is the domain model for a chat message.
type Message struct {
	ID         string
	StreamID   string
	Kind       MessageKind
	Text       string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
}

// Locator maps a stream id to the collection holding its messages.
type Locator func(streamID string) string

// RoomMessages stores messages under their chat room.
func RoomMessages(roomID string) string {
	return docstore.Collection(roomsCollection, roomID, "messages")
}

// AssistantMessages stores a user's private assistant conversation.
func AssistantMessages(userID string) string {
	return docstore.Collection("users", userID, "assistantMessages")
}

func (m Message) fields() docstore.Fields {
	f := docstore.Fields{
		"kind":      string(m.Kind),
		"text":      m.Text,
		"createdAt": docstore.ServerTimestamp,
	}
	if m.AuthorID != "" {
		f["authorId"] = m.AuthorID
		f["authorName"] = m.AuthorName
	}
	return f
}

func messageFromDoc(streamID string, doc docstore.Document) (Message, error) {
	kind, _ := doc.String("kind")
	text, ok := doc.String("text")
	if !ok {
		return Message{}, fmt.Errorf("%w: message %s has no text", ErrInvalidRecord, doc.ID)
	}
	createdAt, ok := doc.Time("createdAt")
	if !ok {
		return Message{}, fmt.Errorf("%w: message %s has no createdAt", ErrInvalidRecord, doc.ID)
	}

	msg := Message{ID: doc.ID, StreamID: streamID, Kind: MessageKind(kind), Text: text, CreatedAt: createdAt}
	msg.AuthorID, _ = doc.String("authorId")
	msg.AuthorName, _ = doc.String("authorName")

	switch msg.Kind {
	case KindSystem, KindAssistant:
	case KindUser:
		if msg.AuthorID == "" {
			return Message{}, fmt.Errorf("%w: user message %s has no author", ErrInvalidRecord, doc.ID)
		}
	default:
		return Message{}, fmt.Errorf("%w: message %s has unknown kind %q", ErrInvalidRecord, doc.ID, kind)
	}
	return msg, nil
}
