// Package memory is an in-process docstore backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Option configures the store.
type Option func(*Store)

// WithClock overrides the server timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = docstore.NewClock(now) }
}

// WithMaxPending bounds the snapshots buffered per watcher.
func WithMaxPending(n int) Option {
	return func(s *Store) { s.feed = docstore.NewFeed(n) }
}

// Store keeps documents in maps keyed by collection path.
type Store struct {
	mu     sync.Mutex
	docs   map[string]map[string]docstore.Entry
	seq    uint64
	clock  *docstore.Clock
	feed   *docstore.Feed
	closed bool
}

var _ docstore.Store = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:  make(map[string]map[string]docstore.Entry),
		clock: docstore.NewClock(nil),
		feed:  docstore.NewFeed(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a document with a generated id.
func (s *Store) Create(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.Set(ctx, docstore.Doc(collection, id), fields); err != nil {
		return "", err
	}
	return id, nil
}

// Set writes a document, merging when requested.
func (s *Store) Set(ctx context.Context, docPath string, fields docstore.Fields, opts ...docstore.SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := docstore.SplitDoc(docPath)
	if err != nil {
		return err
	}

	// Timestamps are assigned under the write lock so createdAt order equals commit order.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	prepared, err := s.clock.Prepare(fields)
	if err != nil {
		return err
	}

	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]docstore.Entry)
		s.docs[collection] = coll
	}

	kind := docstore.Added
	entry, exists := coll[id]
	if exists {
		kind = docstore.Modified
		if docstore.ApplySetOptions(opts) {
			prepared = docstore.MergeFields(entry.Fields, prepared)
		}
	} else {
		s.seq++
		entry.Seq = s.seq
	}
	entry.Document = docstore.Document{ID: id, Path: docPath, Fields: prepared}
	coll[id] = entry

	s.feed.Publish(collection, kind, entry)
	return nil
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, docPath string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	collection, id, err := docstore.SplitDoc(docPath)
	if err != nil {
		return docstore.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrClosed
	}

	entry, ok := s.docs[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return copyDoc(entry.Document), nil
}

// Delete removes a document if present.
func (s *Store) Delete(ctx context.Context, docPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := docstore.SplitDoc(docPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}

	entry, ok := s.docs[collection][id]
	if !ok {
		return nil
	}
	delete(s.docs[collection], id)
	if len(s.docs[collection]) == 0 {
		delete(s.docs, collection)
	}

	s.feed.Publish(collection, docstore.Removed, entry)
	return nil
}

// Query returns matching documents of a collection.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := docstore.CheckCollection(collection); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}

	docs := docstore.Select(s.entries(collection), q)
	for i := range docs {
		docs[i] = copyDoc(docs[i])
	}
	return docs, nil
}

// Watch streams snapshots of a query.
func (s *Store) Watch(ctx context.Context, collection string, q docstore.Query) (<-chan docstore.Snapshot, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}

	return s.feed.Watch(ctx, collection, q, s.entries(collection)), nil
}

// Close ends all watches and rejects further calls.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.feed.Close()
	return nil
}

func (s *Store) entries(collection string) []docstore.Entry {
	coll := s.docs[collection]
	list := make([]docstore.Entry, 0, len(coll))
	for _, e := range coll {
		list = append(list, e)
	}
	return list
}

func copyDoc(d docstore.Document) docstore.Document {
	d.Fields = docstore.CloneFields(d.Fields)
	return d
}
