package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

const usersCollection = "users"

// DocUserStore implements UserStore on a docstore.Store.
type DocUserStore struct {
	docs docstore.Store
}

var _ UserStore = (*DocUserStore)(nil)

// NewUserStore wraps the document store.
func NewUserStore(docs docstore.Store) *DocUserStore {
	return &DocUserStore{docs: docs}
}

// CreateUser inserts a registered user.
func (s *DocUserStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	return s.create(ctx, docstore.Fields{
		"username":     username,
		"passwordHash": passwordHash,
		"isGuest":      false,
		"createdAt":    docstore.ServerTimestamp,
	})
}

// CreateGuestUser inserts a guest named after its session id.
func (s *DocUserStore) CreateGuestUser(ctx context.Context, sessionID string) (*User, error) {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return s.create(ctx, docstore.Fields{
		"username":     "guest-" + short,
		"passwordHash": "",
		"isGuest":      true,
		"sessionId":    sessionID,
		"createdAt":    docstore.ServerTimestamp,
	})
}

// GetUserByID retrieves a user by id.
func (s *DocUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	if !docstore.ValidID(id) {
		return nil, ErrNotFound
	}
	doc, err := s.docs.Get(ctx, docstore.Doc(usersCollection, id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return userFromDoc(doc), nil
}

// GetUserByUsername retrieves a user by username.
func (s *DocUserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findOne(ctx, "username", username)
}

// GetUserBySessionID retrieves a guest user by session id.
func (s *DocUserStore) GetUserBySessionID(ctx context.Context, sessionID string) (*User, error) {
	return s.findOne(ctx, "sessionId", sessionID)
}

func (s *DocUserStore) create(ctx context.Context, fields docstore.Fields) (*User, error) {
	id, err := s.docs.Create(ctx, usersCollection, fields)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *DocUserStore) findOne(ctx context.Context, field, value string) (*User, error) {
	docs, err := s.docs.Query(ctx, usersCollection, docstore.Query{
		Where: []docstore.Filter{{Field: field, Value: value}},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return userFromDoc(docs[0]), nil
}

func userFromDoc(doc docstore.Document) *User {
	u := &User{ID: doc.ID}
	u.Username, _ = doc.String("username")
	u.PasswordHash, _ = doc.String("passwordHash")
	u.SessionID, _ = doc.String("sessionId")
	u.IsGuest, _ = doc.Fields["isGuest"].(bool)
	u.CreatedAt, _ = doc.Time("createdAt")
	return u
}
