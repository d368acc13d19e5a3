package core

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// MessageStream is an append-only, time-ordered message log per stream id.
type MessageStream struct {
	store  docstore.Store
	locate Locator
	log    *zerolog.Logger
	retry  RetryPolicy
}

// NewMessageStream builds a stream whose messages live under locate(streamID).
func NewMessageStream(store docstore.Store, locate Locator, logger *zerolog.Logger, retry RetryPolicy) *MessageStream {
	return &MessageStream{store: store, locate: locate, log: orNop(logger), retry: retry}
}

var historyQuery = docstore.Query{OrderBy: "createdAt"}

// Append stores a message stamped with the server time and returns its id.
// User messages must carry text and an author.
func (s *MessageStream) Append(ctx context.Context, streamID string, msg Message) (string, error) {
	if !docstore.ValidID(streamID) {
		return "", badRequest("invalid stream id")
	}
	switch msg.Kind {
	case KindUser:
		if strings.TrimSpace(msg.Text) == "" {
			return "", badRequest("message text is required")
		}
		if msg.AuthorID == "" {
			return "", ErrAuthRequired
		}
	case KindSystem, KindAssistant:
	default:
		return "", badRequest("unknown message kind")
	}

	id, err := s.store.Create(ctx, s.locate(streamID), msg.fields())
	if err != nil {
		return "", transient("append message", err)
	}
	return id, nil
}

// History returns the stored messages in creation order.
func (s *MessageStream) History(ctx context.Context, streamID string) ([]Message, error) {
	if !docstore.ValidID(streamID) {
		return nil, badRequest("invalid stream id")
	}
	docs, err := s.store.Query(ctx, s.locate(streamID), historyQuery)
	if err != nil {
		return nil, transient("load history", err)
	}

	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := messageFromDoc(streamID, doc)
		if err != nil {
			s.log.Warn().Err(err).Str("stream", streamID).Msg("skipping message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Subscribe delivers the full history followed by every new message, in
// creation order and without duplicates across reconnects.
func (s *MessageStream) Subscribe(ctx context.Context, streamID string) *Subscription[Message] {
	collection := s.locate(streamID)
	seen := make(map[string]struct{})

	run := func(ctx context.Context, live func(), emit func(Message) bool) error {
		if !docstore.ValidID(streamID) {
			return badRequest("invalid stream id")
		}
		return watchDocs(ctx, s.store, collection, historyQuery, live, func(snap docstore.Snapshot) bool {
			for _, ch := range snap.Changes {
				if ch.Kind != docstore.Added {
					continue
				}
				if _, dup := seen[ch.Doc.ID]; dup {
					continue
				}
				msg, err := messageFromDoc(streamID, ch.Doc)
				if err != nil {
					s.log.Warn().Err(err).Str("stream", streamID).Msg("skipping message")
					continue
				}
				seen[msg.ID] = struct{}{}
				if !emit(msg) {
					return false
				}
			}
			return true
		})
	}
	return subscribe(ctx, s.log, s.retry, "messages:"+collection, run)
}

// Clear deletes every message of the stream.
func (s *MessageStream) Clear(ctx context.Context, streamID string) error {
	if !docstore.ValidID(streamID) {
		return badRequest("invalid stream id")
	}
	if err := purgeCollection(ctx, s.store, s.locate(streamID)); err != nil {
		return transient("clear messages", err)
	}
	return nil
}

func purgeCollection(ctx context.Context, store docstore.Store, collection string) error {
	docs, err := store.Query(ctx, collection, docstore.Query{})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := store.Delete(ctx, doc.Path); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

func orNop(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return logger
}
